package launcher

import (
	"bytes"
	"io"
	"sync"
)

// PrintFunc receives one line of guest output without its newline.
type PrintFunc func(text string)

// lineWriter splits guest output into lines. The print func is looked up on
// every line so a replacement made while the guest runs takes effect at once.
type lineWriter struct {
	current  func() PrintFunc
	fallback io.Writer
	buf      []byte
	mu       sync.Mutex
}

func newLineWriter(current func() PrintFunc, fallback io.Writer) *lineWriter {
	return &lineWriter{current: current, fallback: fallback}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte{'\r'})
		if err := w.emit(line); err != nil {
			return 0, err
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	err := w.emit(w.buf)
	w.buf = nil
	return err
}

func (w *lineWriter) emit(line []byte) error {
	if fn := w.current(); fn != nil {
		fn(string(line))
		return nil
	}
	if w.fallback == nil {
		return nil
	}
	if _, err := w.fallback.Write(line); err != nil {
		return err
	}
	_, err := w.fallback.Write([]byte{'\n'})
	return err
}

package source

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-launcher/errors"
)

// File is a preloaded file waiting to be copied into the guest filesystem.
type File struct {
	Path string
	Data []byte
}

// Preloader fetches the main binary and side files, tracking combined
// progress across every load it has started.
type Preloader struct {
	fetcher  *Fetcher
	progress ProgressFunc
	loads    map[string]*loadState
	files    []File
	mu       sync.Mutex
}

type loadState struct {
	loaded int64
	total  int64
}

// NewPreloader creates a Preloader that reads through f.
func NewPreloader(f *Fetcher) *Preloader {
	if f == nil {
		f = NewFetcher(nil)
	}
	return &Preloader{
		fetcher: f,
		loads:   make(map[string]*loadState),
	}
}

// SetProgressFunc sets the callback receiving combined progress.
// nil disables reporting.
func (p *Preloader) SetProgressFunc(fn ProgressFunc) {
	p.mu.Lock()
	p.progress = fn
	p.mu.Unlock()
}

// Load fetches location and returns its bytes.
func (p *Preloader) Load(ctx context.Context, location string) ([]byte, error) {
	return p.fetcher.Fetch(ctx, location, p.track(location))
}

// Preload fetches location and queues it for guest path.
func (p *Preloader) Preload(ctx context.Context, location, path string) error {
	if path == "" {
		return errors.InvalidInput(errors.PhasePreload, "empty preload path")
	}
	data, err := p.Load(ctx, location)
	if err != nil {
		return errors.Wrap(errors.PhasePreload, errors.KindFetch, err, "preload "+path)
	}
	p.PreloadBytes(path, data)
	return nil
}

// PreloadBytes queues data for guest path.
func (p *Preloader) PreloadBytes(path string, data []byte) {
	p.mu.Lock()
	p.files = append(p.files, File{Path: path, Data: data})
	p.mu.Unlock()
}

// Files returns the queued files.
func (p *Preloader) Files() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]File, len(p.files))
	copy(out, p.files)
	return out
}

// Clear drops the queued files.
func (p *Preloader) Clear() {
	p.mu.Lock()
	p.files = nil
	p.mu.Unlock()
}

// Progress returns the combined loaded and total bytes. total is -1 while
// any tracked load has an unknown size.
func (p *Preloader) Progress() (loaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sumLocked()
}

func (p *Preloader) sumLocked() (loaded, total int64) {
	for _, st := range p.loads {
		loaded += st.loaded
		if total >= 0 {
			if st.total < 0 {
				total = -1
			} else {
				total += st.total
			}
		}
	}
	return loaded, total
}

// track returns the progress updater for location. Loads of the same
// location share one state: the fetcher de-duplicates them and only the
// load doing the read reports.
func (p *Preloader) track(location string) ProgressFunc {
	p.mu.Lock()
	st, ok := p.loads[location]
	if !ok {
		st = &loadState{total: -1}
		p.loads[location] = st
	}
	p.mu.Unlock()

	return func(loaded, total int64) {
		p.mu.Lock()
		st.loaded = loaded
		st.total = total
		fn := p.progress
		sumLoaded, sumTotal := p.sumLocked()
		p.mu.Unlock()

		if fn != nil {
			fn(sumLoaded, sumTotal)
		}
	}
}

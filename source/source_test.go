package source

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/wippyai/wasm-launcher/errors"
)

func fastConfig() *Config {
	return &Config{InitialInterval: time.Millisecond, MaxRetries: 3}
}

func TestFetch_RootFS(t *testing.T) {
	root := fstest.MapFS{
		"build/game.wasm": &fstest.MapFile{Data: []byte("binary")},
	}
	cfg := fastConfig()
	cfg.Root = root
	f := NewFetcher(cfg)

	for _, loc := range []string{"build/game.wasm", "/build/game.wasm", "file://build/game.wasm"} {
		data, err := f.Fetch(context.Background(), loc, nil)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", loc, err)
		}
		if string(data) != "binary" {
			t.Errorf("Fetch(%q) = %q", loc, data)
		}
	}

	_, err := f.Fetch(context.Background(), "missing.wasm", nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindFetch}) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestFetch_OSFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "game.pck")
	payload := bytes.Repeat([]byte("x"), 100*1024)
	if err := os.WriteFile(name, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	var last, total int64
	calls := 0
	data, err := NewFetcher(nil).Fetch(context.Background(), name, func(l, tot int64) {
		if l < last {
			t.Errorf("progress went backwards: %d < %d", l, last)
		}
		last, total = l, tot
		calls++
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("payload mismatch")
	}
	if last != int64(len(payload)) || total != int64(len(payload)) {
		t.Errorf("final progress = %d/%d, want %d", last, total, len(payload))
	}
	if calls < 2 {
		t.Errorf("expected several progress calls, got %d", calls)
	}
}

func TestFetch_EmptyLocation(t *testing.T) {
	_, err := NewFetcher(nil).Fetch(context.Background(), "", nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidInput}) {
		t.Errorf("error = %v", err)
	}
}

func TestFetch_HTTPRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len("wasm-bytes")))
		_, _ = w.Write([]byte("wasm-bytes"))
	}))
	defer srv.Close()

	data, err := NewFetcher(fastConfig()).Fetch(context.Background(), srv.URL+"/game.wasm", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "wasm-bytes" {
		t.Errorf("data = %q", data)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestFetch_HTTPNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher(fastConfig()).Fetch(context.Background(), srv.URL+"/missing.wasm", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindFetch {
		t.Errorf("error = %v", err)
	}
}

func TestFetch_HTTPGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFetcher(fastConfig()).Fetch(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 4 {
		t.Errorf("hits = %d, want 4 (1 + 3 retries)", hits.Load())
	}
}

func TestPreloader_CombinedProgress(t *testing.T) {
	root := fstest.MapFS{
		"a.bin": &fstest.MapFile{Data: make([]byte, 10)},
		"b.bin": &fstest.MapFile{Data: make([]byte, 30)},
	}
	cfg := fastConfig()
	cfg.Root = root
	p := NewPreloader(NewFetcher(cfg))

	var (
		mu   sync.Mutex
		last [2]int64
	)
	p.SetProgressFunc(func(loaded, total int64) {
		mu.Lock()
		last = [2]int64{loaded, total}
		mu.Unlock()
	})

	if _, err := p.Load(context.Background(), "a.bin"); err != nil {
		t.Fatal(err)
	}
	if err := p.Preload(context.Background(), "b.bin", "/data/b.bin"); err != nil {
		t.Fatal(err)
	}

	if last != [2]int64{40, 40} {
		t.Errorf("last progress = %v, want [40 40]", last)
	}
	loaded, total := p.Progress()
	if loaded != 40 || total != 40 {
		t.Errorf("Progress() = %d/%d", loaded, total)
	}

	files := p.Files()
	if len(files) != 1 || files[0].Path != "/data/b.bin" || len(files[0].Data) != 30 {
		t.Fatalf("Files() = %+v", files)
	}

	p.Clear()
	if len(p.Files()) != 0 {
		t.Error("Clear did not drop queued files")
	}
}

func TestPreloader_Errors(t *testing.T) {
	p := NewPreloader(NewFetcher(&Config{Root: fstest.MapFS{}}))

	err := p.Preload(context.Background(), "x", "")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhasePreload, Kind: errors.KindInvalidInput}) {
		t.Errorf("empty path error = %v", err)
	}

	err = p.Preload(context.Background(), "missing.pck", "/missing.pck")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhasePreload, Kind: errors.KindFetch}) {
		t.Errorf("missing file error = %v", err)
	}
	if len(p.Files()) != 0 {
		t.Error("failed preload should not queue a file")
	}
}

func TestFetch_DeclaredSizeTooLarge(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "1152921504606846976")
		_, _ = w.Write([]byte("wasm"))
	}))
	defer srv.Close()

	for _, onProgress := range []ProgressFunc{nil, func(int64, int64) {}} {
		_, err := NewFetcher(fastConfig()).Fetch(context.Background(), srv.URL, onProgress)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindFetch}) {
			t.Errorf("Fetch = %v, want fetch error", err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 (size errors are not retried)", hits.Load())
	}
}

func TestFetch_MaxSize(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// flushing first forces a chunked body with no declared size
		w.(http.Flusher).Flush()
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		maxSize int64
		wantErr bool
	}{
		{"under limit", int64(len(payload)), false},
		{"over limit", int64(len(payload)) - 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			cfg.MaxSize = tt.maxSize
			f := NewFetcher(cfg)

			for _, onProgress := range []ProgressFunc{nil, func(int64, int64) {}} {
				data, err := f.Fetch(context.Background(), srv.URL, onProgress)
				if tt.wantErr {
					if err == nil {
						t.Errorf("Fetch returned %d bytes, want error", len(data))
					}
					continue
				}
				if err != nil || len(data) != len(payload) {
					t.Errorf("Fetch = %d bytes, %v", len(data), err)
				}
			}
		})
	}

	dir := t.TempDir()
	name := filepath.Join(dir, "big.pck")
	if err := os.WriteFile(name, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewFetcher(&Config{MaxSize: 1024}).Fetch(context.Background(), name, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindFetch}) {
		t.Errorf("oversized file = %v", err)
	}
}

func TestPreloader_SameLocationProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("p"), 100*1024)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p := NewPreloader(NewFetcher(fastConfig()))

	var wg sync.WaitGroup
	for _, path := range []string{"/a.pck", "/b.pck"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Preload(context.Background(), srv.URL+"/game.pck", path); err != nil {
				t.Errorf("Preload(%s): %v", path, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	n := int64(len(payload))
	if loaded, total := p.Progress(); loaded != n || total != n {
		t.Errorf("Progress() = %d/%d, want %d/%d", loaded, total, n, n)
	}
	if files := p.Files(); len(files) != 2 {
		t.Errorf("Files() = %d, want 2", len(files))
	}
}

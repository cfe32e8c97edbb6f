package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-launcher/errors"
)

// ProgressFunc receives byte counts while a location is read.
// total is -1 when the size is unknown.
type ProgressFunc func(loaded, total int64)

// Config holds Fetcher settings. A nil Config uses defaults.
type Config struct {
	// Client is used for http and https locations. Defaults to a client
	// with a 30s timeout.
	Client *http.Client

	// Root resolves relative file locations. nil means the OS filesystem.
	Root fs.FS

	Logger *zap.Logger

	// MaxRetries bounds retries of transient HTTP failures. Default 3.
	MaxRetries uint64

	// InitialInterval is the first retry delay. Default 200ms.
	InitialInterval time.Duration

	// MaxSize bounds the bytes read from one location. Default 1GiB.
	MaxSize int64
}

// DefaultMaxSize is the per-location read limit when Config.MaxSize is 0.
const DefaultMaxSize int64 = 1 << 30

// presizeLimit caps how much a declared size may pre-allocate.
const presizeLimit int64 = 64 << 20

// Fetcher reads binaries from files, an fs.FS or HTTP.
// Concurrent fetches of the same location share one read.
type Fetcher struct {
	client     *http.Client
	root       fs.FS
	logger     *zap.Logger
	group      singleflight.Group
	maxRetries uint64
	interval   time.Duration
	maxSize    int64
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg *Config) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		maxRetries: 3,
		interval:   200 * time.Millisecond,
		maxSize:    DefaultMaxSize,
	}
	if cfg == nil {
		return f
	}
	if cfg.Client != nil {
		f.client = cfg.Client
	}
	if cfg.Logger != nil {
		f.logger = cfg.Logger
	}
	if cfg.MaxRetries > 0 {
		f.maxRetries = cfg.MaxRetries
	}
	if cfg.InitialInterval > 0 {
		f.interval = cfg.InitialInterval
	}
	if cfg.MaxSize > 0 {
		f.maxSize = cfg.MaxSize
	}
	f.root = cfg.Root
	return f
}

// IsRemote reports whether location is fetched over HTTP.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Fetch reads location fully. onProgress may be nil. When another fetch of
// the same location is in flight, only that fetch reports progress.
func (f *Fetcher) Fetch(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	if location == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty location")
	}

	v, err, shared := f.group.Do(location, func() (any, error) {
		start := time.Now()
		var (
			data []byte
			err  error
		)
		if IsRemote(location) {
			data, err = f.fetchHTTP(ctx, location, onProgress)
		} else {
			data, err = f.fetchFile(location, onProgress)
		}
		if err != nil {
			f.logger.Debug("fetch failed", zap.String("location", location), zap.Error(err))
			return nil, err
		}
		f.logger.Debug("fetched",
			zap.String("location", location),
			zap.Int("bytes", len(data)),
			zap.Duration("elapsed", time.Since(start)))
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	data := v.([]byte)
	if shared {
		// callers may retain and mutate their copy
		data = bytes.Clone(data)
	}
	return data, nil
}

func (f *Fetcher) fetchFile(location string, onProgress ProgressFunc) ([]byte, error) {
	name := strings.TrimPrefix(location, "file://")

	var (
		file fs.File
		err  error
	)
	if f.root != nil {
		file, err = f.root.Open(path.Clean(strings.TrimPrefix(name, "/")))
	} else {
		file, err = os.Open(name)
	}
	if err != nil {
		return nil, errors.Fetch(errors.PhaseLoad, location, err)
	}
	defer file.Close()

	total := int64(-1)
	if st, err := file.Stat(); err == nil && st.Mode().IsRegular() {
		total = st.Size()
	}

	data, err := readAll(file, total, f.maxSize, onProgress)
	if err != nil {
		return nil, errors.Fetch(errors.PhaseLoad, location, err)
	}
	return data, nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.status, http.StatusText(e.status))
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	if _, err := url.Parse(location); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "parse url "+location)
	}

	var data []byte
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			serr := &statusError{status: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return serr
			}
			return backoff.Permanent(serr)
		}

		data, err = readAll(resp.Body, resp.ContentLength, f.maxSize, onProgress)
		if _, ok := err.(*sizeError); ok {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx)

	notify := func(err error, next time.Duration) {
		f.logger.Info("retrying fetch",
			zap.String("location", location),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindFetch).
			Location(location).
			Detail("fetch failed after %d attempt(s)", attempt).
			Cause(err).
			Build()
	}
	return data, nil
}

type sizeError struct {
	size  int64
	limit int64
}

func (e *sizeError) Error() string {
	if e.size < 0 {
		return fmt.Sprintf("body exceeds the %d byte limit", e.limit)
	}
	return fmt.Sprintf("declared size %d exceeds the %d byte limit", e.size, e.limit)
}

// readAll reads at most limit bytes from r. total is the declared size or
// -1; it is trusted for pre-allocation only up to presizeLimit.
func readAll(r io.Reader, total, limit int64, onProgress ProgressFunc) ([]byte, error) {
	if total > limit {
		return nil, &sizeError{size: total, limit: limit}
	}

	var buf bytes.Buffer
	if total > 0 && total <= presizeLimit {
		buf.Grow(int(total))
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}

	if onProgress == nil {
		if _, err := buf.ReadFrom(lr); err != nil {
			return nil, err
		}
		if int64(buf.Len()) > limit {
			return nil, &sizeError{size: -1, limit: limit}
		}
		return buf.Bytes(), nil
	}

	onProgress(0, total)
	chunk := make([]byte, 32*1024)
	var loaded int64
	for {
		n, err := lr.Read(chunk)
		if n > 0 {
			loaded += int64(n)
			if loaded > limit {
				return nil, &sizeError{size: -1, limit: limit}
			}
			buf.Write(chunk[:n])
			onProgress(loaded, total)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if total < 0 {
		onProgress(loaded, loaded)
	}
	return buf.Bytes(), nil
}

package launcher

import (
	"context"
	"io"
	"maps"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-launcher/engine"
	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/source"
	"github.com/wippyai/wasm-launcher/vfs"
)

// DefaultExtension is appended to the base path to locate the binary.
const DefaultExtension = ".wasm"

// DefaultLocale is used when neither an override nor the host environment
// names a locale.
const DefaultLocale = "en"

// ProgressFunc receives combined loaded and total bytes of everything the
// engine is fetching. total is -1 while a size is unknown.
type ProgressFunc = source.ProgressFunc

// FSConfig describes persistent host directories mounted into the guest.
type FSConfig = vfs.Config

// Mount maps a host directory into the guest.
type Mount = vfs.Mount

// Config holds construction-time settings. A nil Config uses defaults.
type Config struct {
	Logger  *zap.Logger
	Fetcher *source.Fetcher

	// Stdout and Stderr receive guest output when no print func is set.
	// Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// EntryPoint is the export Start calls. Default "_start".
	EntryPoint string

	// StagingDir backs the guest root. Empty uses a temporary directory
	// removed by Close.
	StagingDir string

	// MemoryLimitPages caps guest memory in 64KiB pages. 0 means no cap.
	MemoryLimitPages uint32
}

// Engine loads, initializes and starts one WebAssembly program.
//
// Load and Init each run at most once: concurrent and repeated calls share
// the first call's result, including its error, until Unload (for Load and
// a failed Init) or a Start (for Init) resets them. Setters may be called at any
// time; they affect the next Init or Start.
type Engine struct {
	logger    *zap.Logger
	preloader *source.Preloader
	runtime   *engine.Engine
	staging   *vfs.Staging
	baseCtx   context.Context
	cancel    context.CancelFunc
	getenv    func(string) string

	defaultStdout io.Writer
	defaultStderr io.Writer
	stdin         io.Reader

	load *future[[]byte]
	init *future[*engine.Module]

	stdout   PrintFunc
	stderr   PrintFunc
	fsConfig *FSConfig
	env      map[string]string

	ext             string
	loadPath        string
	executableName  string
	customLocale    string
	locale          string
	entryPoint      string
	unloadAfterInit bool
	closed          bool

	mu      sync.Mutex
	startMu sync.Mutex
}

// New creates an Engine. cfg may be nil.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = source.NewFetcher(&source.Config{Logger: logger.Named("source")})
	}

	staging, err := vfs.NewStaging(cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e := &Engine{
		logger:    logger,
		preloader: source.NewPreloader(fetcher),
		runtime: engine.New(ctx, &engine.Config{
			Logger:           logger.Named("engine"),
			MemoryLimitPages: cfg.MemoryLimitPages,
		}),
		staging:         staging,
		baseCtx:         baseCtx,
		cancel:          cancel,
		getenv:          os.Getenv,
		defaultStdout:   cfg.Stdout,
		defaultStderr:   cfg.Stderr,
		stdin:           cfg.Stdin,
		ext:             DefaultExtension,
		entryPoint:      cfg.EntryPoint,
		unloadAfterInit: true,
	}
	if e.defaultStdout == nil {
		e.defaultStdout = os.Stdout
	}
	if e.defaultStderr == nil {
		e.defaultStderr = os.Stderr
	}
	return e, nil
}

// Close stops pending loads and releases the runtime and staging directory.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()
	e.load = nil
	e.init = nil
	e.mu.Unlock()

	return multierr.Combine(
		e.runtime.Close(ctx),
		e.staging.Close(),
	)
}

// Load starts fetching basePath plus the binary extension and waits for it.
// Only the first call's basePath is used; later calls share its result.
func (e *Engine) Load(ctx context.Context, basePath string) error {
	e.mu.Lock()
	f, err := e.startLoadLocked(basePath)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = f.wait(ctx)
	return err
}

func (e *Engine) startLoadLocked(basePath string) (*future[[]byte], error) {
	if e.closed {
		return nil, errors.Closed(errors.PhaseLoad)
	}
	if e.load != nil {
		return e.load, nil
	}
	if basePath == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "a base path must be provided")
	}

	f := newFuture[[]byte]()
	e.load = f
	e.loadPath = basePath
	location := basePath + e.ext

	go func() {
		start := time.Now()
		e.logger.Info("loading", zap.String("location", location))
		data, err := e.preloader.Load(e.baseCtx, location)
		if err != nil {
			e.logger.Error("load failed", zap.String("location", location), zap.Error(err))
		} else {
			e.logger.Info("loaded",
				zap.String("location", location),
				zap.Int("bytes", len(data)),
				zap.Duration("elapsed", time.Since(start)))
		}
		f.resolve(data, err)
	}()
	return f, nil
}

// Unload drops the loaded binary so the next Load fetches it again. A failed
// Init is dropped too, so the next Init retries from scratch.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.load = nil
	if e.init != nil {
		if _, err, done := e.init.result(); done && err != nil {
			e.init = nil
		}
	}
}

// Init compiles the loaded binary and wires its host modules. When nothing
// is loaded yet, basePath is loaded first; an empty basePath then fails.
// The outcome is memoized until the next Start; a failure is also dropped
// by Unload.
func (e *Engine) Init(ctx context.Context, basePath string) error {
	f, err := e.startInit(basePath)
	if err != nil {
		return err
	}
	_, err = f.wait(ctx)
	return err
}

func (e *Engine) startInit(basePath string) (*future[*engine.Module], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.Closed(errors.PhaseInit)
	}
	if e.init != nil {
		return e.init, nil
	}

	f := newFuture[*engine.Module]()
	e.init = f

	if e.load == nil {
		if basePath == "" {
			f.resolve(nil, errors.InvalidInput(errors.PhaseInit,
				"a base path must be provided when calling Init and the engine is not loaded"))
			return f, nil
		}
		if _, err := e.startLoadLocked(basePath); err != nil {
			f.resolve(nil, err)
			return f, nil
		}
	}

	go e.initialize(f, e.load)
	return f, nil
}

func (e *Engine) initialize(f *future[*engine.Module], load *future[[]byte]) {
	data, err := load.wait(e.baseCtx)
	if err != nil {
		f.resolve(nil, err)
		return
	}

	start := time.Now()
	mod, err := e.runtime.Compile(e.baseCtx, data)
	if err != nil {
		e.logger.Error("init failed", zap.Error(err))
		f.resolve(nil, err)
		return
	}

	e.mu.Lock()
	if e.unloadAfterInit && e.load == load {
		e.load = nil
	}
	e.mu.Unlock()

	e.logger.Info("initialized",
		zap.Strings("exports", mod.Exports()),
		zap.Duration("elapsed", time.Since(start)))
	f.resolve(mod, nil)
}

// PreloadFile fetches src and queues it for guest path. Queued files are
// copied into the guest filesystem by the next Start.
func (e *Engine) PreloadFile(ctx context.Context, src, path string) error {
	if e.isClosed() {
		return errors.Closed(errors.PhasePreload)
	}
	return e.preloader.Preload(ctx, src, path)
}

// PreloadBytes queues data for guest path.
func (e *Engine) PreloadBytes(path string, data []byte) {
	e.preloader.PreloadBytes(path, data)
}

// Start initializes the engine if needed, prepares the guest environment
// and runs the entry point with args. It returns when the entry point
// returns or the guest exits; a non-zero exit code is returned as an error
// (see errors.ExitCode).
func (e *Engine) Start(ctx context.Context, args ...string) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.isClosed() {
		return errNotInitialized()
	}
	if err := e.Init(ctx, ""); err != nil {
		return err
	}

	e.mu.Lock()
	initF := e.init
	var mod *engine.Module
	if initF != nil && !e.closed {
		mod, _, _ = initF.result()
	}
	if mod == nil {
		e.mu.Unlock()
		return errNotInitialized()
	}
	locale := e.resolveLocaleLocked()
	e.locale = locale
	program := e.programNameLocked()
	fsCfg := e.fsConfig.Clone()
	env := maps.Clone(e.env)
	entry := e.entryPoint
	e.mu.Unlock()
	defer e.finishStart(initF, mod)

	if err := fsCfg.Validate(); err != nil {
		return err
	}
	if err := e.stageFiles(); err != nil {
		return err
	}

	if env == nil {
		env = make(map[string]string, 1)
	}
	env["LANG"] = locale

	stdout := newLineWriter(e.stdoutFunc, e.defaultStdout)
	stderr := newLineWriter(e.stderrFunc, e.defaultStderr)
	argv := append([]string{program}, args...)

	e.logger.Info("starting",
		zap.String("program", program),
		zap.Strings("args", args),
		zap.String("locale", locale))

	err := mod.Run(ctx, engine.RunConfig{
		Args:       argv,
		Env:        env,
		Stdin:      e.stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		FS:         vfs.FSConfig(e.staging, fsCfg),
		EntryPoint: entry,
	})
	err = multierr.Combine(err, stdout.Flush(), stderr.Flush())
	if err != nil {
		e.logger.Warn("program ended with error", zap.Error(err))
		return err
	}
	e.logger.Info("program exited")
	return nil
}

// finishStart clears the Init memo and releases the compiled module. It runs
// on every Start that got past Init, whether or not the guest ran.
func (e *Engine) finishStart(initF *future[*engine.Module], mod *engine.Module) {
	e.mu.Lock()
	if e.init == initF {
		e.init = nil
	}
	e.mu.Unlock()

	if err := mod.Close(context.Background()); err != nil {
		e.logger.Warn("close module", zap.Error(err))
	}
}

// stageFiles writes the preload queue into the guest root and clears it.
// On failure the files written so far are removed and the queue is kept.
func (e *Engine) stageFiles() error {
	files := e.preloader.Files()
	written := make([]string, 0, len(files))
	for _, file := range files {
		if err := e.staging.WriteFile(file.Path, file.Data); err != nil {
			for _, name := range written {
				if rerr := e.staging.Remove(name); rerr != nil {
					e.logger.Warn("remove staged file", zap.String("path", name), zap.Error(rerr))
				}
			}
			return err
		}
		written = append(written, file.Path)
	}
	e.preloader.Clear()
	return nil
}

// StartGame loads execName, preloads mainPack under its own name and starts
// with "--main-pack mainPack" followed by extraArgs.
func (e *Engine) StartGame(ctx context.Context, execName, mainPack string, extraArgs ...string) error {
	e.SetExecutableName(execName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Init(gctx, execName)
	})
	g.Go(func() error {
		return e.PreloadFile(gctx, mainPack, mainPack)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	args := append([]string{"--main-pack", mainPack}, extraArgs...)
	return e.Start(ctx, args...)
}

func errNotInitialized() error {
	return errors.NotInitialized(errors.PhaseStart, "the engine must be initialized before it can be started")
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) resolveLocaleLocked() string {
	locale := e.customLocale
	if locale == "" {
		for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
			if v := e.getenv(key); v != "" && v != "C" && v != "POSIX" {
				locale = v
				break
			}
		}
	}
	locale, _, _ = strings.Cut(locale, ".")
	if locale == "" {
		locale = DefaultLocale
	}
	return locale
}

func (e *Engine) programNameLocked() string {
	if e.executableName != "" {
		return e.executableName
	}
	if e.loadPath != "" {
		return path.Base(strings.TrimSuffix(e.loadPath, "/"))
	}
	return ""
}

func (e *Engine) stdoutFunc() PrintFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stdout
}

func (e *Engine) stderrFunc() PrintFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stderr
}

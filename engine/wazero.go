package engine

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/wasm"
)

// DefaultEntryPoint is the export called when RunConfig.EntryPoint is empty.
const DefaultEntryPoint = "_start"

// Engine wraps a wazero runtime shared by every module it compiles.
type Engine struct {
	runtime wazero.Runtime
	logger  *zap.Logger
	hosts   map[string]api.Closer
	hostsMu sync.Mutex
}

// Config holds configuration for engine creation
type Config struct {
	Logger *zap.Logger

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// New creates a wazero-backed engine. cfg may be nil.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	logger := Logger()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
	}

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		logger:  logger,
		hosts:   make(map[string]api.Closer),
	}
}

// Close releases the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile validates and compiles a core module, then makes sure the host
// modules it imports are available.
func (e *Engine) Compile(ctx context.Context, bin []byte) (*Module, error) {
	if wasm.IsComponent(bin) {
		return nil, errors.Unsupported(errors.PhaseInit, "component binaries cannot be launched as programs")
	}
	if err := wasm.ValidateHeader(bin); err != nil {
		return nil, errors.Wrap(errors.PhaseInit, errors.KindInvalidData, err, "validate binary")
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Compile(err)
	}

	if err := e.ensureHosts(ctx, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	e.logger.Debug("compiled module",
		zap.Int("bytes", len(bin)),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &Module{
		engine:   e,
		compiled: compiled,
	}, nil
}

// Module is a compiled binary ready to run.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Import is a function import of a compiled module.
type Import struct {
	Module string
	Name   string
}

// Imports lists the module's function imports in declaration order.
func (m *Module) Imports() []Import {
	defs := m.compiled.ImportedFunctions()
	out := make([]Import, 0, len(defs))
	for _, def := range defs {
		mod, name, _ := def.Import()
		out = append(out, Import{Module: mod, Name: name})
	}
	return out
}

// Exports lists exported function names, sorted.
func (m *Module) Exports() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasExport reports whether the module exports function name.
func (m *Module) HasExport(name string) bool {
	_, ok := m.compiled.ExportedFunctions()[name]
	return ok
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// RunConfig is the process context handed to the guest.
type RunConfig struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	FS     wazero.FSConfig
	Env    map[string]string

	// EntryPoint defaults to DefaultEntryPoint.
	EntryPoint string

	// Args is argv, including the program name.
	Args []string
}

// Run instantiates the module and calls its entry point until it returns or
// exits. A zero exit code is success; any other code is reported as an
// exit error carrying the code.
func (m *Module) Run(ctx context.Context, rc RunConfig) error {
	entry := rc.EntryPoint
	if entry == "" {
		entry = DefaultEntryPoint
	}
	if !m.HasExport(entry) {
		return errors.NotFound(errors.PhaseStart, "entry point", entry)
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithArgs(rc.Args...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)

	keys := make([]string, 0, len(rc.Env))
	for k := range rc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg = cfg.WithEnv(k, rc.Env[k])
	}

	if rc.Stdin != nil {
		cfg = cfg.WithStdin(rc.Stdin)
	}
	if rc.Stdout != nil {
		cfg = cfg.WithStdout(rc.Stdout)
	}
	if rc.Stderr != nil {
		cfg = cfg.WithStderr(rc.Stderr)
	}
	if rc.FS != nil {
		cfg = cfg.WithFSConfig(rc.FS)
	}

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		if code, ok := exitCode(err); ok {
			return exitResult(code, err)
		}
		return errors.Instantiation(err)
	}
	defer mod.Close(ctx)

	if entry != "_initialize" {
		if init := mod.ExportedFunction("_initialize"); init != nil {
			if _, err := init.Call(ctx); err != nil {
				return callResult(err)
			}
		}
	}

	m.engine.logger.Debug("entering guest", zap.String("entry", entry), zap.Strings("args", rc.Args))
	_, err = mod.ExportedFunction(entry).Call(ctx)
	return callResult(err)
}

func callResult(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := exitCode(err); ok {
		return exitResult(code, err)
	}
	return errors.Trap(err)
}

func exitResult(code uint32, cause error) error {
	switch code {
	case 0:
		return nil
	case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
		// cause still matches context.Canceled / DeadlineExceeded
		return errors.Wrap(errors.PhaseRuntime, errors.KindTrap, cause, "guest interrupted")
	}
	e := errors.Exit(code)
	e.Cause = cause
	return e
}

func exitCode(err error) (uint32, bool) {
	var ee *sys.ExitError
	if stderrors.As(err, &ee) {
		return ee.ExitCode(), true
	}
	return 0, false
}

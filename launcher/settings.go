package launcher

import (
	"maps"

	"github.com/wippyai/wasm-launcher/errors"
)

// SetWebAssemblyFilenameExtension changes the extension appended to the
// base path by the next Load. Default ".wasm".
func (e *Engine) SetWebAssemblyFilenameExtension(ext string) error {
	if ext == "" {
		return errors.InvalidInput(errors.PhaseConfig, "invalid WebAssembly filename extension: must not be empty")
	}
	e.mu.Lock()
	e.ext = ext
	e.mu.Unlock()
	return nil
}

// SetUnloadAfterInit controls whether Init drops the loaded bytes once the
// module is compiled. Default true.
func (e *Engine) SetUnloadAfterInit(enabled bool) {
	e.mu.Lock()
	e.unloadAfterInit = enabled
	e.mu.Unlock()
}

// SetLocale overrides the host locale. Empty restores detection.
func (e *Engine) SetLocale(locale string) {
	e.mu.Lock()
	e.customLocale = locale
	e.mu.Unlock()
}

// SetExecutableName sets argv[0]. Empty falls back to the base name of the
// loaded path.
func (e *Engine) SetExecutableName(name string) {
	e.mu.Lock()
	e.executableName = name
	e.mu.Unlock()
}

// SetProgressFunc sets the callback for combined fetch progress.
func (e *Engine) SetProgressFunc(fn ProgressFunc) {
	e.preloader.SetProgressFunc(fn)
}

// SetStdoutFunc routes guest stdout lines to fn. nil restores the default
// writer.
func (e *Engine) SetStdoutFunc(fn PrintFunc) {
	e.mu.Lock()
	e.stdout = fn
	e.mu.Unlock()
}

// SetStderrFunc routes guest stderr lines to fn. nil restores the default
// writer.
func (e *Engine) SetStderrFunc(fn PrintFunc) {
	e.mu.Lock()
	e.stderr = fn
	e.mu.Unlock()
}

// SetFSConfig sets the persistent mounts used by the next Start. The
// config is copied when Start runs, so later edits to cfg apply only to
// later starts.
func (e *Engine) SetFSConfig(cfg *FSConfig) {
	e.mu.Lock()
	e.fsConfig = cfg
	e.mu.Unlock()
}

// SetEnv sets extra guest environment variables. LANG is always replaced
// by the resolved locale.
func (e *Engine) SetEnv(env map[string]string) {
	e.mu.Lock()
	e.env = maps.Clone(env)
	e.mu.Unlock()
}

// Locale returns the locale resolved by the last Start.
func (e *Engine) Locale() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locale
}

// Loaded reports whether the binary is loaded and held in memory.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	f := e.load
	e.mu.Unlock()
	if f == nil {
		return false
	}
	_, err, ok := f.result()
	return ok && err == nil
}

// Initialized reports whether a compiled module is ready for Start.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	f := e.init
	e.mu.Unlock()
	if f == nil {
		return false
	}
	_, err, ok := f.result()
	return ok && err == nil
}

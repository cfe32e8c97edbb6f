package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-launcher/errors"
)

// Host module names the engine knows how to provide.
const (
	ModuleWASI       = wasi_snapshot_preview1.ModuleName
	ModuleEmscripten = "env"
)

// ensureHosts instantiates WASI and, for Emscripten builds, the "env"
// module. Each host module is instantiated at most once per runtime. Every
// function import must then resolve to an export of a module in the
// runtime, otherwise Compile fails with a MissingImportsError.
func (e *Engine) ensureHosts(ctx context.Context, compiled wazero.CompiledModule) error {
	e.hostsMu.Lock()
	defer e.hostsMu.Unlock()

	imports := compiled.ImportedFunctions()
	needed := make(map[string]bool)
	var missing []string
	for _, def := range imports {
		mod, name, _ := def.Import()
		switch mod {
		case ModuleWASI, ModuleEmscripten:
			needed[mod] = true
		default:
			if e.runtime.Module(mod) == nil {
				missing = append(missing, mod+"#"+name)
			}
		}
	}
	if len(missing) > 0 {
		return missingImports(missing)
	}

	if needed[ModuleWASI] {
		if err := e.instantiateHost(ctx, ModuleWASI, func() (api.Closer, error) {
			return instantiateWASI(ctx, e.runtime)
		}); err != nil {
			return err
		}
	}
	if needed[ModuleEmscripten] {
		if err := e.instantiateHost(ctx, ModuleEmscripten, func() (api.Closer, error) {
			return emscripten.InstantiateForModule(ctx, e.runtime, compiled)
		}); err != nil {
			return err
		}
	}

	// "env" only carries the invoke_* trampolines the first Emscripten
	// guest asked for; anything else is JS glue no host provides.
	for _, def := range imports {
		mod, name, _ := def.Import()
		host := e.runtime.Module(mod)
		if host == nil || host.ExportedFunction(name) == nil {
			missing = append(missing, mod+"#"+name)
		}
	}
	if len(missing) > 0 {
		return missingImports(missing)
	}
	return nil
}

func missingImports(missing []string) error {
	return errors.Wrap(errors.PhaseInit, errors.KindMissingImport,
		errors.NewMissingImportsError(missing), "resolve imports")
}

func (e *Engine) instantiateHost(ctx context.Context, name string, fn func() (api.Closer, error)) error {
	if _, ok := e.hosts[name]; ok {
		return nil
	}
	// Registered by the caller directly on the runtime.
	if e.runtime.Module(name) != nil {
		return nil
	}

	c, err := fn()
	if err != nil {
		return errors.Wrap(errors.PhaseInit, errors.KindInstantiation, err, fmt.Sprintf("instantiate host module %q", name))
	}
	e.hosts[name] = c
	e.logger.Debug("host module ready", zap.String("module", name))
	return nil
}

// instantiateWASI builds wasi_snapshot_preview1 from the exporter so more
// functions can be added next to the standard set.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Closer, error) {
	builder := r.NewHostModuleBuilder(ModuleWASI)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

// Package engine runs compiled WebAssembly programs on wazero.
//
// An Engine owns one wazero runtime. Compile validates a binary, compiles it
// and instantiates the host modules it imports: wasi_snapshot_preview1 for
// any WASI build and the Emscripten "env" module for Emscripten builds. Host
// modules are created once per runtime and shared by later compilations.
// Imports from any other module must be satisfied before Compile, otherwise
// it fails with a MissingImportsError listing them.
//
// Module.Run instantiates a fresh anonymous instance per call with the given
// argv, environment, stdio and filesystem, calls "_initialize" when the
// binary is a reactor, then calls the entry point:
//
//	eng := engine.New(ctx, nil)
//	defer eng.Close(ctx)
//
//	mod, err := eng.Compile(ctx, bin)
//	if err != nil {
//	    return err
//	}
//	err = mod.Run(ctx, engine.RunConfig{
//	    Args:   []string{"game", "--main-pack", "game.pck"},
//	    Stdout: os.Stdout,
//	})
//	if code, ok := errors.ExitCode(err); ok {
//	    os.Exit(int(code))
//	}
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use; each Run gets its own
// instance.
package engine

// Package launcher loads, initializes and starts a WebAssembly program the
// way a game runtime's bootstrap page would, with the host process standing
// in for the browser.
//
// An Engine runs three steps. Load fetches "<basePath><ext>" once. Init
// compiles the loaded bytes and wires the WASI and Emscripten host modules,
// once. Start resolves the locale, copies preloaded files into the guest
// filesystem and calls the entry point with argv [executable, args...].
//
//	eng, err := launcher.New(ctx, &launcher.Config{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	eng.SetStdoutFunc(func(line string) { logger.Info(line) })
//	err = eng.StartGame(ctx, "godot", "game.pck")
//
// Load and Init are memoized: a second call returns the first call's
// result, errors included. Unload clears the Load memo and a finished Start
// clears the Init memo. With unload-after-init enabled (the default) the
// bytes are dropped after compiling, so starting again needs a fresh Init
// with a base path.
package launcher

// Package wasmlauncher loads and starts WebAssembly game runtimes outside the
// browser.
//
// It does on the host what a game engine's web bootstrap does on a page:
// fetch the runtime binary once, instantiate it once, stage the main pack
// and other files in a virtual filesystem, then hand process-style
// arguments to the module's entry point.
//
// # Architecture Overview
//
//	wasmlauncher/
//	├── launcher/    The coordinating Engine: Load, Init, Start, StartGame
//	├── engine/      wazero runtime, host modules (WASI, Emscripten), Run
//	├── source/      Fetching from files, fs.FS and HTTP with progress
//	├── vfs/         Staging root and persistent mounts for the guest
//	├── config/      YAML launch manifests
//	├── errors/      Structured error types for debugging
//	├── wasm/        Binary header checks and a small module encoder
//	└── cmd/launch/  Command line launcher with a progress bar
//
// # Quick Start
//
//	eng, err := launcher.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	eng.SetLocale("de_DE")
//	eng.SetProgressFunc(func(loaded, total int64) {
//	    fmt.Printf("%d/%d\n", loaded, total)
//	})
//
//	err = eng.StartGame(ctx, "https://example.com/godot", "game.pck")
//	if code, ok := errors.ExitCode(err); ok {
//	    os.Exit(int(code))
//	}
//
// # Lifecycle
//
// Load and Init run at most once and remember their result, failures
// included. Unload forgets the loaded bytes and a finished Start forgets the
// compiled module. By default Init unloads the bytes right after compiling,
// so a program that has already run must be initialized again with its base
// path before the next Start.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Starts are serialized.
package wasmlauncher

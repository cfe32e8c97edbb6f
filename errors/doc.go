// Package errors provides structured error types for the launcher.
//
// Errors are categorized by Phase (which step of the launch sequence failed)
// and Kind (error category). The Error type carries the offending location
// (a file path, URL or guest path) and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindFetch).
//		Location("https://example.com/game.wasm").
//		Detail("unexpected status %d", 404).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidInput(errors.PhaseConfig, "empty extension")
//	err := errors.Exit(3)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

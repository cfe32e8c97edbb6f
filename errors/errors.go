package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the launch sequence the error occurred
type Phase string

const (
	PhaseConfig  Phase = "config"  // setters and manifests
	PhaseLoad    Phase = "load"    // fetching the binary
	PhasePreload Phase = "preload" // fetching side files
	PhaseInit    Phase = "init"    // compile and host wiring
	PhaseFS      Phase = "fs"      // virtual filesystem
	PhaseStart   Phase = "start"   // instantiate and enter main
	PhaseRuntime Phase = "runtime" // guest execution
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindUnsupported    Kind = "unsupported"
	KindFetch          Kind = "fetch"
	KindCompile        Kind = "compile"
	KindInstantiation  Kind = "instantiation"
	KindMissingImport  Kind = "missing_import"
	KindExit           Kind = "exit"
	KindTrap           Kind = "trap"
	KindClosed         Kind = "closed"
)

// Error is the structured error type used throughout the launcher
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Location string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Location != "" {
		b.WriteString(" at ")
		b.WriteString(e.Location)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Location sets the file, URL or guest path the error refers to
func (b *Builder) Location(loc string) *Builder {
	b.err.Location = loc
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error for a named location
func InvalidData(phase Phase, location, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidData,
		Location: location,
		Detail:   detail,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Fetch creates a fetch error for location
func Fetch(phase Phase, location string, cause error) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindFetch,
		Location: location,
		Detail:   "fetch failed",
		Cause:    cause,
	}
}

// Compile creates a compilation error
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindCompile,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseStart,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Closed creates an error for use after Close
func Closed(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: "engine is closed",
	}
}

// Exit creates an error for a guest that exited with a non-zero code
func Exit(code uint32) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindExit,
		Detail: fmt.Sprintf("exit code %d", code),
		Value:  code,
	}
}

// Trap creates an error for a guest that aborted with a runtime trap
func Trap(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: "guest trapped",
		Cause:  cause,
	}
}

// ExitCode extracts the guest exit code from err, following both single
// and joined (Unwrap() []error) chains. Returns false when err does not
// carry one.
func ExitCode(err error) (uint32, bool) {
	switch e := err.(type) {
	case nil:
		return 0, false
	case *Error:
		if e.Kind == KindExit {
			code, ok := e.Value.(uint32)
			return code, ok
		}
		return ExitCode(e.Cause)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if code, ok := ExitCode(inner); ok {
				return code, true
			}
		}
	case interface{ Unwrap() error }:
		return ExitCode(e.Unwrap())
	}
	return 0, false
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "env"
	Function string // e.g., "emscripten_memcpy_big"
}

// MissingImportsError is returned when a binary imports functions no host module provides
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[init] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Function)
	}

	for _, mod := range modOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

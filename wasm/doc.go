// Package wasm provides the WebAssembly binary helpers the launcher needs.
//
// ValidateHeader and IsComponent inspect a fetched binary before it is handed
// to the compiler, so a truncated download or an HTML error page fails with a
// readable message instead of a compiler error.
//
// Module encodes small core modules. It is used to build guest fixtures and
// stub binaries:
//
//	m := &wasm.Module{Memory: &wasm.Limits{Min: 1}}
//	start := m.AddFunc(wasm.FuncType{}, nil)
//	m.ExportFunc("_start", start)
//	bin := m.Encode()
package wasm

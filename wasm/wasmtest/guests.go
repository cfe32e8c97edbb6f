// Package wasmtest builds small WASI guest binaries for tests.
package wasmtest

import "github.com/wippyai/wasm-launcher/wasm"

const wasiModule = "wasi_snapshot_preview1"

// Memory layout shared by the guests.
const (
	sizesAddr   = 0    // two i32 results of *_sizes_get
	iovAddr     = 16   // one iovec {buf, len}
	nwritAddr   = 24   // fd_write result
	textAddr    = 100  // static text
	pointerAddr = 1024 // argv/environ pointer array
	bufferAddr  = 2048 // argv/environ string buffer
)

var (
	i32x2 = wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	i32x4 = wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	i32Pair = wasm.FuncType{
		Params: []wasm.ValType{wasm.ValI32, wasm.ValI32},
	}
	void = wasm.FuncType{}
)

func newModule() *wasm.Module {
	m := &wasm.Module{Memory: &wasm.Limits{Min: 1}}
	m.ExportMemory("memory")
	return m
}

// Noop exports an entry point named entry that returns immediately.
func Noop(entry string) []byte {
	m := newModule()
	m.ExportFunc(entry, m.AddFunc(void, nil))
	return m.Encode()
}

// Exit calls proc_exit(code) from _start.
func Exit(code int32) []byte {
	m := newModule()
	exit := m.ImportFunc(wasiModule, "proc_exit", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	body := (&wasm.Instr{}).I32Const(code).Call(exit).Bytes()
	m.ExportFunc("_start", m.AddFunc(void, body))
	return m.Encode()
}

// Write writes text to fd from _start.
func Write(fd int32, text string) []byte {
	m := newModule()
	fdWrite := m.ImportFunc(wasiModule, "fd_write", i32x4)
	body := (&wasm.Instr{}).
		I32Const(fd).I32Const(iovAddr).I32Const(1).I32Const(nwritAddr).Call(fdWrite).Drop().
		Bytes()
	m.ExportFunc("_start", m.AddFunc(void, body))

	iov := append(wasm.LE32(textAddr), wasm.LE32(uint32(len(text)))...)
	m.Data = append(m.Data,
		wasm.DataSegment{Offset: iovAddr, Init: iov},
		wasm.DataSegment{Offset: textAddr, Init: []byte(text)},
	)
	return m.Encode()
}

// DumpArgs writes the raw argv buffer (NUL separated) to stdout.
func DumpArgs() []byte {
	return dump("args_sizes_get", "args_get")
}

// DumpEnv writes the raw environ buffer (NUL separated) to stdout.
func DumpEnv() []byte {
	return dump("environ_sizes_get", "environ_get")
}

func dump(sizesFn, getFn string) []byte {
	m := newModule()
	sizes := m.ImportFunc(wasiModule, sizesFn, i32x2)
	get := m.ImportFunc(wasiModule, getFn, i32x2)
	fdWrite := m.ImportFunc(wasiModule, "fd_write", i32x4)

	body := (&wasm.Instr{}).
		I32Const(sizesAddr).I32Const(sizesAddr+4).Call(sizes).Drop().
		I32Const(pointerAddr).I32Const(bufferAddr).Call(get).Drop().
		I32Const(iovAddr).I32Const(bufferAddr).I32Store().
		I32Const(iovAddr+4).I32Const(sizesAddr+4).I32Load().I32Store().
		I32Const(1).I32Const(iovAddr).I32Const(1).I32Const(nwritAddr).Call(fdWrite).Drop().
		Bytes()
	m.ExportFunc("_start", m.AddFunc(void, body))
	return m.Encode()
}

// Imports declares a _start plus a function import from module that no
// host provides.
func Imports(module, name string) []byte {
	m := newModule()
	m.ImportFunc(module, name, void)
	m.ExportFunc("_start", m.AddFunc(void, nil))
	return m.Encode()
}

// Emscripten imports each of names from "env" with the (i32, i32) -> ()
// signature of invoke_vi and exports a _start that does not call them.
func Emscripten(names ...string) []byte {
	m := newModule()
	for _, name := range names {
		m.ImportFunc("env", name, i32Pair)
	}
	m.ExportFunc("_start", m.AddFunc(void, nil))
	return m.Encode()
}

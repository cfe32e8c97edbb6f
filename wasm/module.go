package wasm

import "encoding/binary"

// Module is a small core module description that encodes to a binary.
// It covers function imports, one linear memory, exports, code and active
// data segments, which is what launch fixtures and stubs need.
type Module struct {
	Memory  *Limits
	Types   []FuncType
	Imports []Import
	Funcs   []uint32 // type index per defined function
	Exports []Export
	Code    [][]byte // instruction stream per defined function, without locals or end
	Data    []DataSegment
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is a function import.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// Export names a function or memory.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Limits are memory limits in 64KiB pages.
type Limits struct {
	Max *uint32
	Min uint32
}

// DataSegment initializes memory 0 at Offset.
type DataSegment struct {
	Init   []byte
	Offset int32
}

// AddType appends ft unless an equal signature exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if sameValTypes(t.Params, ft.Params) && sameValTypes(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// ImportFunc adds a function import and returns its function index.
// All imports must be added before defined functions.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	m.Imports = append(m.Imports, Import{Module: module, Name: name, TypeIdx: m.AddType(ft)})
	return uint32(len(m.Imports) - 1)
}

// AddFunc defines a function with body and returns its function index.
func (m *Module) AddFunc(ft FuncType, body []byte) uint32 {
	m.Funcs = append(m.Funcs, m.AddType(ft))
	m.Code = append(m.Code, body)
	return uint32(len(m.Imports) + len(m.Funcs) - 1)
}

// ExportFunc exports the function at idx under name.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: KindFunc, Index: idx})
}

// ExportMemory exports memory 0 under name.
func (m *Module) ExportMemory(name string) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: KindMemory, Index: 0})
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	var w Writer

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(&sec, ft.Params)
			writeValTypes(&sec, ft.Results)
		}
		writeSection(&w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(KindFunc)
			sec.WriteU32(imp.TypeIdx)
		}
		writeSection(&w, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(&w, SectionFunction, sec.Bytes())
	}

	if m.Memory != nil {
		var sec Writer
		sec.WriteU32(1)
		if m.Memory.Max != nil {
			sec.Byte(0x01)
			sec.WriteU32(m.Memory.Min)
			sec.WriteU32(*m.Memory.Max)
		} else {
			sec.Byte(0x00)
			sec.WriteU32(m.Memory.Min)
		}
		writeSection(&w, SectionMemory, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Index)
		}
		writeSection(&w, SectionExport, sec.Bytes())
	}

	if len(m.Code) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Code)))
		for _, instrs := range m.Code {
			var body Writer
			body.WriteU32(0) // no locals
			body.WriteBytes(instrs)
			body.Byte(OpEnd)
			sec.WriteVec(body.Bytes())
		}
		writeSection(&w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		var sec Writer
		sec.WriteU32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			sec.WriteU32(0) // active, memory 0
			sec.Byte(OpI32Const)
			sec.WriteS32(seg.Offset)
			sec.Byte(OpEnd)
			sec.WriteVec(seg.Init)
		}
		writeSection(&w, SectionData, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *Writer, id byte, content []byte) {
	w.Byte(id)
	w.WriteVec(content)
}

func writeValTypes(w *Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func sameValTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Instr builds an instruction stream for Module.AddFunc.
type Instr struct {
	w Writer
}

// I32Const pushes v.
func (in *Instr) I32Const(v int32) *Instr {
	in.w.Byte(OpI32Const)
	in.w.WriteS32(v)
	return in
}

// Call calls the function at idx.
func (in *Instr) Call(idx uint32) *Instr {
	in.w.Byte(OpCall)
	in.w.WriteU32(idx)
	return in
}

// Drop discards the top of the stack.
func (in *Instr) Drop() *Instr {
	in.w.Byte(OpDrop)
	return in
}

// I32Load loads an aligned i32 from the address on the stack.
func (in *Instr) I32Load() *Instr {
	in.w.Byte(OpI32Load)
	in.w.WriteU32(2)
	in.w.WriteU32(0)
	return in
}

// I32Store stores an aligned i32: [addr value] -> [].
func (in *Instr) I32Store() *Instr {
	in.w.Byte(OpI32Store)
	in.w.WriteU32(2)
	in.w.WriteU32(0)
	return in
}

// Bytes returns the encoded instructions.
func (in *Instr) Bytes() []byte {
	return in.w.Bytes()
}

// LE32 encodes v as 4 little-endian bytes, for data segments.
func LE32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

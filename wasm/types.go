package wasm

// ValType is a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	default:
		return "unknown"
	}
}

// Module is the subset of a WebAssembly module the encoder emits.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Memories []Limits
	Exports  []Export
	Code     []FuncBody
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is a function import, or a memory import when Memory is set.
type Import struct {
	Memory  *Limits
	Module  string
	Name    string
	TypeIdx uint32
}

// Export is a named export of a function or memory.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Limits bounds a memory in 64 KiB pages.
type Limits struct {
	Max      *uint64
	Min      uint64
	Memory64 bool
}

// FuncBody is the locals and instruction bytes of one function. Code must
// end with OpEnd.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// AddFuncType appends ft unless an identical type exists and returns its index.
func (m *Module) AddFuncType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if equalTypes(t.Params, ft.Params) && equalTypes(t.Results, ft.Results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func equalTypes(a, b []ValType) bool {
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

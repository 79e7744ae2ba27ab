// Package wasmgen lowers address functions recorded by the ir package to
// WebAssembly and runs them on wazero.
//
// The generated module imports env.trap(i32) and exports one function:
//
//	addr(index, g0, g1, ...) -> i64
//
// where index is i32 or i64 according to the heap and g0.. are the global
// values the function reads, in Func.Globals order. Traps call env.trap
// with the trap code before executing unreachable, so the host can report
// the precise code.
package wasmgen

import (
	"fmt"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/codegen/ir"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
	"github.com/wippyai/heapguard/wasm"
)

const (
	// ExportName is the name of the exported address function.
	ExportName = "addr"
	// TrapModule and TrapFunc name the imported trap hook.
	TrapModule = "env"
	TrapFunc   = "trap"

	trapFuncIdx = 0
)

// Compile encodes f as a WebAssembly module.
func Compile(f *ir.Func) ([]byte, error) {
	m := &wasm.Module{}

	trapType := m.AddFuncType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	m.Imports = []wasm.Import{{Module: TrapModule, Name: TrapFunc, TypeIdx: trapType}}

	params := []wasm.ValType{valType(f.Param())}
	globalParam := make(map[heap.GlobalValue]uint32, len(f.Globals()))
	for _, gv := range f.Globals() {
		globalParam[gv] = uint32(len(params))
		params = append(params, wasm.ValI64)
	}
	addrType := m.AddFuncType(wasm.FuncType{Params: params, Results: []wasm.ValType{wasm.ValI64}})
	m.Funcs = []uint32{addrType}
	m.Exports = []wasm.Export{{Name: ExportName, Kind: wasm.KindFunc, Idx: 1}}

	l := &lowering{
		f:           f,
		code:        wasm.NewCode(),
		globalParam: globalParam,
		numParams:   uint32(len(params)),
	}
	if err := l.lower(); err != nil {
		return nil, err
	}

	m.Code = []wasm.FuncBody{{Locals: l.locals(), Code: l.code.Bytes()}}
	return m.Encode(), nil
}

func valType(t ir.Type) wasm.ValType {
	if t == ir.I32 {
		return wasm.ValI32
	}
	return wasm.ValI64
}

// lowering maps every SSA value v > 0 to a local. Value 0 is the index
// parameter.
type lowering struct {
	f           *ir.Func
	code        *wasm.Code
	globalParam map[heap.GlobalValue]uint32
	numParams   uint32
}

// Locals are declared one per SSA result, in value order, so value v lives
// in local numParams + v - 1.
func (l *lowering) local(v codegen.Value) uint32 {
	if v == 0 {
		return 0
	}
	return l.numParams + uint32(v) - 1
}

func (l *lowering) locals() []wasm.LocalEntry {
	var out []wasm.LocalEntry
	for _, inst := range l.f.Insts() {
		if !inst.HasResult {
			continue
		}
		vt := valType(l.f.TypeOf(inst.Result))
		if n := len(out); n > 0 && out[n-1].ValType == vt {
			out[n-1].Count++
			continue
		}
		out = append(out, wasm.LocalEntry{Count: 1, ValType: vt})
	}
	return out
}

func (l *lowering) get(v codegen.Value) { l.code.LocalGet(l.local(v)) }

func (l *lowering) trap(code errors.TrapCode) {
	l.code.I32Const(int32(code)).Call(trapFuncIdx).Unreachable()
}

func (l *lowering) lower() error {
	c := l.code
	for _, inst := range l.f.Insts() {
		switch inst.Op {
		case ir.OpGlobalValue:
			p, ok := l.globalParam[inst.GV]
			if !ok {
				return errors.InvalidInput(errors.PhaseEmit, "global value without parameter: "+inst.GV.String())
			}
			c.LocalGet(p)
		case ir.OpIconst:
			c.I64Const(inst.Imm)
		case ir.OpUextend:
			l.get(inst.Args[0])
			c.Op(wasm.OpI64ExtendU)
		case ir.OpIadd:
			l.get(inst.Args[0])
			l.get(inst.Args[1])
			c.Op(wasm.OpI64Add)
		case ir.OpIaddOverflowTrap:
			// sum < a (unsigned) iff the add carried.
			l.get(inst.Args[0])
			l.get(inst.Args[1])
			c.Op(wasm.OpI64Add).LocalTee(l.local(inst.Result))
			l.get(inst.Args[0])
			c.Op(wasm.OpI64LtU).If()
			l.trap(inst.Code)
			c.End()
			continue
		case ir.OpIsub:
			l.get(inst.Args[0])
			l.get(inst.Args[1])
			c.Op(wasm.OpI64Sub)
		case ir.OpIcmp:
			l.get(inst.Args[0])
			l.get(inst.Args[1])
			switch inst.Cond {
			case bounds.CondUGE:
				c.Op(wasm.OpI64GeU)
			case bounds.CondUGT:
				c.Op(wasm.OpI64GtU)
			default:
				return errors.Unsupported(errors.PhaseEmit, "condition "+inst.Cond.String())
			}
		case ir.OpTrapIf:
			l.get(inst.Args[0])
			c.If()
			l.trap(inst.Code)
			c.End()
			continue
		case ir.OpTrap:
			l.trap(inst.Code)
			continue
		case ir.OpSelect:
			l.get(inst.Args[1])
			l.get(inst.Args[2])
			l.get(inst.Args[0])
			c.Select()
		default:
			return errors.Unsupported(errors.PhaseEmit, fmt.Sprintf("lowering %s", inst.Op))
		}
		c.LocalSet(l.local(inst.Result))
	}

	if ret, ok := l.f.Result(); ok {
		l.get(ret)
	}
	c.End()
	return nil
}

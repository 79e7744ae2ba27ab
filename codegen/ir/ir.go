// Package ir is a straight-line reference implementation of codegen.Builder.
//
// A Func records the instructions the emitter produced for one access site.
// It can be printed, evaluated on concrete inputs, and lowered to
// WebAssembly by the wasmgen package.
package ir

import (
	"fmt"
	"strings"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
)

// Type is the type of an SSA value.
type Type uint8

const (
	I32 Type = iota + 1
	I64
)

func (t Type) String() string {
	if t == I32 {
		return "i32"
	}
	return "i64"
}

// Op is an instruction opcode.
type Op uint8

const (
	OpGlobalValue Op = iota + 1
	OpIconst
	OpUextend
	OpIadd
	OpIaddOverflowTrap
	OpIsub
	OpIcmp
	OpTrapIf
	OpTrap
	OpSelect
)

var opNames = map[Op]string{
	OpGlobalValue:      "global_value",
	OpIconst:           "iconst",
	OpUextend:          "uextend",
	OpIadd:             "iadd",
	OpIaddOverflowTrap: "uadd_overflow_trap",
	OpIsub:             "isub",
	OpIcmp:             "icmp",
	OpTrapIf:           "trapnz",
	OpTrap:             "trap",
	OpSelect:           "select",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Inst is one recorded instruction.
type Inst struct {
	Args   []codegen.Value
	Imm    uint64
	Result codegen.Value
	GV     heap.GlobalValue
	Op     Op
	Cond   bounds.Cond
	Code   errors.TrapCode
	// HasResult is false for trapnz and trap.
	HasResult bool
}

// Func is a straight-line function taking the access index as its only
// parameter and returning the effective address.
type Func struct {
	name       string
	insts      []Inst
	types      []Type
	globals    []heap.GlobalValue
	ret        codegen.Value
	hasRet     bool
	terminated bool
}

var _ codegen.Builder = (*Func)(nil)

// NewFunc creates a function whose parameter is the index, typed by the
// heap's index width. It returns the parameter value.
func NewFunc(name string, index heap.IndexType) (*Func, codegen.Value) {
	t := I64
	if index == heap.I32 {
		t = I32
	}
	f := &Func{name: name, types: []Type{t}}
	return f, 0
}

// Name returns the function name.
func (f *Func) Name() string { return f.name }

// Insts returns the recorded instructions.
func (f *Func) Insts() []Inst { return f.insts }

// Param returns the type of the index parameter.
func (f *Func) Param() Type { return f.types[0] }

// Globals returns the global values referenced, in first-use order.
func (f *Func) Globals() []heap.GlobalValue { return f.globals }

// TypeOf returns the type of v.
func (f *Func) TypeOf(v codegen.Value) Type { return f.types[v] }

// Return sets the function result. Functions that end in a trap have none.
func (f *Func) Return(v codegen.Value) {
	f.ret = v
	f.hasRet = true
}

// Result returns the returned value, if any.
func (f *Func) Result() (codegen.Value, bool) { return f.ret, f.hasRet }

// Terminated reports whether the function ends in an unconditional trap.
func (f *Func) Terminated() bool { return f.terminated }

func (f *Func) push(inst Inst, t Type) codegen.Value {
	if f.terminated {
		panic("ir: instruction after trap")
	}
	if t != 0 {
		inst.Result = codegen.Value(len(f.types))
		inst.HasResult = true
		f.types = append(f.types, t)
	}
	f.insts = append(f.insts, inst)
	return inst.Result
}

func (f *Func) GlobalValue(gv heap.GlobalValue) codegen.Value {
	seen := false
	for _, g := range f.globals {
		if g == gv {
			seen = true
			break
		}
	}
	if !seen {
		f.globals = append(f.globals, gv)
	}
	return f.push(Inst{Op: OpGlobalValue, GV: gv}, I64)
}

func (f *Func) Iconst(v uint64) codegen.Value {
	return f.push(Inst{Op: OpIconst, Imm: v}, I64)
}

func (f *Func) Uextend(v codegen.Value) codegen.Value {
	return f.push(Inst{Op: OpUextend, Args: []codegen.Value{v}}, I64)
}

func (f *Func) Iadd(a, b codegen.Value) codegen.Value {
	return f.push(Inst{Op: OpIadd, Args: []codegen.Value{a, b}}, I64)
}

func (f *Func) IaddOverflowTrap(a, b codegen.Value, code errors.TrapCode) codegen.Value {
	return f.push(Inst{Op: OpIaddOverflowTrap, Args: []codegen.Value{a, b}, Code: code}, I64)
}

func (f *Func) Isub(a, b codegen.Value) codegen.Value {
	return f.push(Inst{Op: OpIsub, Args: []codegen.Value{a, b}}, I64)
}

func (f *Func) Icmp(cond bounds.Cond, a, b codegen.Value) codegen.Value {
	return f.push(Inst{Op: OpIcmp, Cond: cond, Args: []codegen.Value{a, b}}, I32)
}

func (f *Func) TrapIf(cond codegen.Value, code errors.TrapCode) {
	f.push(Inst{Op: OpTrapIf, Args: []codegen.Value{cond}, Code: code}, 0)
}

func (f *Func) Trap(code errors.TrapCode) {
	f.push(Inst{Op: OpTrap, Code: code}, 0)
	f.terminated = true
}

func (f *Func) Select(cond, ifTrue, ifFalse codegen.Value) codegen.Value {
	return f.push(Inst{Op: OpSelect, Args: []codegen.Value{cond, ifTrue, ifFalse}}, I64)
}

// String renders the function in a textual form:
//
//	function addr(v0: i32) -> i64 {
//	    v1 = uextend v0
//	    ...
//	    return v6
//	}
func (f *Func) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "function %s(v0: %s) -> i64 {\n", f.name, f.types[0])
	for _, inst := range f.insts {
		b.WriteString("    ")
		if inst.HasResult {
			fmt.Fprintf(&b, "v%d = ", inst.Result)
		}
		b.WriteString(inst.Op.String())
		switch inst.Op {
		case OpGlobalValue:
			b.WriteString(" " + inst.GV.String())
		case OpIconst:
			fmt.Fprintf(&b, " %#x", inst.Imm)
		case OpIcmp:
			b.WriteString(" " + inst.Cond.String())
		}
		for i, a := range inst.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, " v%d", a)
		}
		if inst.Op == OpTrapIf || inst.Op == OpTrap || inst.Op == OpIaddOverflowTrap {
			b.WriteString(", " + inst.Code.String())
		}
		b.WriteByte('\n')
	}
	if f.hasRet {
		fmt.Fprintf(&b, "    return v%d\n", f.ret)
	}
	b.WriteString("}\n")
	return b.String()
}

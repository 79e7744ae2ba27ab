package wasm

import (
	"github.com/wippyai/heapguard/wasm/internal/binary"
)

// Code accumulates the instruction bytes of one function body. Methods
// return the receiver so sequences can be chained:
//
//	c := wasm.NewCode()
//	c.LocalGet(0).LocalGet(1).Op(wasm.OpI64Add).End()
type Code struct {
	w *binary.Writer
}

// NewCode creates an empty instruction sequence.
func NewCode() *Code {
	return &Code{w: binary.NewWriter()}
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte { return c.w.Bytes() }

// Len returns the number of bytes emitted.
func (c *Code) Len() int { return c.w.Len() }

// Op emits an instruction without immediates.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code { return c.index(OpLocalGet, idx) }
func (c *Code) LocalSet(idx uint32) *Code { return c.index(OpLocalSet, idx) }
func (c *Code) LocalTee(idx uint32) *Code { return c.index(OpLocalTee, idx) }
func (c *Code) Call(funcIdx uint32) *Code { return c.index(OpCall, funcIdx) }

func (c *Code) index(op byte, idx uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(idx)
	return c
}

// I32Const emits i32.const v.
func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS32(v)
	return c
}

// I64Const emits i64.const with the bit pattern of v.
func (c *Code) I64Const(v uint64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(int64(v))
	return c
}

// If opens a void if block.
func (c *Code) If() *Code {
	c.w.Byte(OpIf)
	c.w.Byte(BlockTypeVoid)
	return c
}

// End closes a block or the function body.
func (c *Code) End() *Code { return c.Op(OpEnd) }

// Unreachable emits a trap.
func (c *Code) Unreachable() *Code { return c.Op(OpUnreachable) }

// Select emits the untyped select.
func (c *Code) Select() *Code { return c.Op(OpSelect) }

// Mem emits a load or store with the given alignment exponent and offset
// on memory 0.
func (c *Code) Mem(op byte, alignLog2 uint32, offset uint64) *Code {
	c.w.Byte(op)
	c.w.WriteU32(alignLog2)
	c.w.WriteU64(offset)
	return c
}

// MemorySize emits memory.size on memory 0.
func (c *Code) MemorySize() *Code {
	c.w.Byte(OpMemorySize)
	c.w.Byte(0)
	return c
}

// MemoryGrow emits memory.grow on memory 0.
func (c *Code) MemoryGrow() *Code {
	c.w.Byte(OpMemoryGrow)
	c.w.Byte(0)
	return c
}

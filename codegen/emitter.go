package codegen

import (
	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
)

// Value is an SSA value handle owned by a Builder.
type Value uint32

// Builder is the instruction set the emitter needs from a code generator.
// All integer operations are on 64-bit values unless stated otherwise.
type Builder interface {
	// GlobalValue loads the run-time value behind gv.
	GlobalValue(gv heap.GlobalValue) Value
	Iconst(v uint64) Value
	// Uextend zero-extends a 32-bit value to 64 bits.
	Uextend(v Value) Value
	Iadd(a, b Value) Value
	// IaddOverflowTrap adds and traps with code if the sum carries.
	IaddOverflowTrap(a, b Value, code errors.TrapCode) Value
	Isub(a, b Value) Value
	// Icmp produces 1 when the unsigned comparison holds, else 0.
	Icmp(cond bounds.Cond, a, b Value) Value
	// TrapIf traps with code when cond is non-zero.
	TrapIf(cond Value, code errors.TrapCode)
	// Trap ends the block unconditionally.
	Trap(code errors.TrapCode)
	// Select returns ifTrue when cond is non-zero, else ifFalse, without
	// branching.
	Select(cond, ifTrue, ifFalse Value) Value
}

// Address is the result of emitting one access site.
type Address struct {
	Plan bounds.Plan
	// Value holds the effective address when Reachable.
	Value Value
	// Reachable is false when the site always traps; code after it is dead.
	Reachable bool
}

// Emitter realizes bounds-check plans through a Builder.
type Emitter struct {
	planner *bounds.Planner
}

// NewEmitter creates an emitter that plans with planner.
func NewEmitter(planner *bounds.Planner) *Emitter {
	return &Emitter{planner: planner}
}

// Planner returns the emitter's planner.
func (e *Emitter) Planner() *bounds.Planner {
	return e.planner
}

// Emit plans the access of accessSize bytes at index+offset into h and
// emits the address computation, checks and clamps into b.
//
// index is a 32-bit value for I32 heaps and a 64-bit value for I64 heaps.
func (e *Emitter) Emit(b Builder, h *heap.Descriptor, index Value, offset uint32, accessSize uint8) (Address, error) {
	if err := h.Validate(); err != nil {
		return Address{}, err
	}
	if accessSize == 0 || accessSize > 16 {
		return Address{}, errors.New(errors.PhaseEmit, errors.KindInvalidInput).
			Value(accessSize).
			Detail("access size %d not in [1, 16]", accessSize).
			Build()
	}

	plan := e.planner.Plan(h, offset, accessSize)
	if _, ok := plan.(bounds.UnconditionalTrap); ok {
		b.Trap(errors.TrapHeapOutOfBounds)
		return Address{Plan: plan}, nil
	}

	// Every remaining plan uses the index as a 64-bit address operand.
	if h.IndexType == heap.I32 {
		index = b.Uextend(index)
	}

	switch p := plan.(type) {
	case bounds.DirectAddress:
		return Address{Plan: plan, Value: computeAddr(b, h, index, offset), Reachable: true}, nil

	case bounds.ExplicitCheck:
		oob := emitCompare(b, h, index, p.Check)
		b.TrapIf(oob, errors.TrapHeapOutOfBounds)
		return Address{Plan: plan, Value: computeAddr(b, h, index, offset), Reachable: true}, nil

	case bounds.SpeculativeGuard:
		// Offset is folded in before the clamp so a mispredicted path
		// cannot reach past the selected null address.
		addr := computeAddr(b, h, index, offset)
		oob := emitCompare(b, h, index, p.Check)
		null := b.Iconst(0)
		return Address{Plan: plan, Value: b.Select(oob, null, addr), Reachable: true}, nil

	default:
		return Address{}, errors.Unsupported(errors.PhaseEmit, plan.String())
	}
}

// computeAddr emits base + index + offset.
func computeAddr(b Builder, h *heap.Descriptor, index Value, offset uint32) Value {
	addr := b.Iadd(b.GlobalValue(h.Base), index)
	if offset == 0 {
		return addr
	}
	return b.Iadd(addr, b.Iconst(uint64(offset)))
}

// emitCompare emits the comparison that is non-zero when the access is out
// of bounds.
func emitCompare(b Builder, h *heap.Descriptor, index Value, c bounds.Check) Value {
	lhs := index
	if p, ok := c.Index.(bounds.IndexPlus); ok {
		lhs = b.IaddOverflowTrap(index, b.Iconst(p.Addend), errors.TrapHeapOutOfBounds)
	}

	var rhs Value
	switch bo := c.Bound.(type) {
	case bounds.RuntimeBound:
		rhs = b.GlobalValue(dynamicBound(h))
	case bounds.RuntimeBoundMinus:
		rhs = b.Isub(b.GlobalValue(dynamicBound(h)), b.Iconst(bo.Sub))
	case bounds.ConstBound:
		rhs = b.Iconst(bo.Value)
	}
	return b.Icmp(c.Cond, lhs, rhs)
}

func dynamicBound(h *heap.Descriptor) heap.GlobalValue {
	d, ok := h.Style.(heap.Dynamic)
	if !ok {
		panic("codegen: runtime bound requested for " + h.Style.String() + " heap")
	}
	return d.Bound
}

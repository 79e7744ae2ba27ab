// Package heap describes a linear memory as seen by the compiler.
//
// A Descriptor holds the facts about one memory that are fixed at compile
// time (growth style, minimum size, guard size, index width) plus opaque
// GlobalValue handles that the code generator resolves to the base address
// and, for dynamic memories, the current bound.
package heap

import (
	"fmt"

	"github.com/wippyai/heapguard/errors"
)

// IndexType is the width of the dynamic index operand.
type IndexType uint8

const (
	I32 IndexType = 32
	I64 IndexType = 64
)

// Bits returns the index width in bits.
func (t IndexType) Bits() int {
	return int(t)
}

func (t IndexType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return fmt.Sprintf("index(%d)", uint8(t))
	}
}

// GlobalValue is an opaque handle to a run-time value owned by the code
// generator, such as a field in the instance context.
type GlobalValue uint32

func (gv GlobalValue) String() string {
	return fmt.Sprintf("gv%d", uint32(gv))
}

// Style is how a memory's bound is known: Dynamic or Static.
type Style interface {
	isStyle()
	String() string
}

// Dynamic memories have a bound that is loaded at run time from Bound
// every time it is needed.
type Dynamic struct {
	Bound GlobalValue
}

// Static memories have a bound fixed for the module's lifetime, typically
// because the engine reserved the maximum size up front.
type Static struct {
	Bound uint64
}

func (Dynamic) isStyle() {}
func (Static) isStyle()  {}

func (d Dynamic) String() string { return "dynamic(" + d.Bound.String() + ")" }
func (s Static) String() string  { return fmt.Sprintf("static(%#x)", s.Bound) }

// Descriptor is the compile-time view of one linear memory.
type Descriptor struct {
	Style Style
	// Base resolves to the memory's base address.
	Base GlobalValue
	// MinSize is accessible from instantiation onwards; accesses proven
	// to land below it never need a check.
	MinSize uint64
	// OffsetGuardSize bytes past the bound are reserved and never mapped
	// to anything else.
	OffsetGuardSize uint64
	IndexType       IndexType
}

// Validate checks the descriptor invariants the planner depends on.
func (d *Descriptor) Validate() error {
	if d == nil {
		return errors.InvalidInput(errors.PhasePlan, "nil heap descriptor")
	}
	switch s := d.Style.(type) {
	case Dynamic:
	case Static:
		if s.Bound < d.MinSize {
			return errors.New(errors.PhasePlan, errors.KindInvalidInput).
				Value(s.Bound).
				Detail("static bound %#x below minimum size %#x", s.Bound, d.MinSize).
				Build()
		}
	case nil:
		return errors.InvalidInput(errors.PhasePlan, "heap style not set")
	default:
		return errors.InvalidInput(errors.PhasePlan, fmt.Sprintf("unknown heap style %T", s))
	}
	if d.IndexType != I32 && d.IndexType != I64 {
		return errors.InvalidInput(errors.PhasePlan, "unknown index type "+d.IndexType.String())
	}
	return nil
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("heap{%s base=%s min=%#x guard=%#x index=%s}",
		d.Style, d.Base, d.MinSize, d.OffsetGuardSize, d.IndexType)
}

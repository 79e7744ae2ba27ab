package bounds

import "fmt"

// Cond is the unsigned comparison that signals an out-of-bounds access.
type Cond uint8

const (
	// CondUGE traps when index >= bound.
	CondUGE Cond = iota + 1
	// CondUGT traps when index > bound.
	CondUGT
)

func (c Cond) String() string {
	switch c {
	case CondUGE:
		return "uge"
	case CondUGT:
		return "ugt"
	default:
		return fmt.Sprintf("cond(%d)", uint8(c))
	}
}

// Holds evaluates the comparison on concrete operands.
func (c Cond) Holds(lhs, rhs uint64) bool {
	switch c {
	case CondUGE:
		return lhs >= rhs
	case CondUGT:
		return lhs > rhs
	default:
		panic(fmt.Sprintf("bounds: invalid condition %d", uint8(c)))
	}
}

// IndexOperand is the left-hand side of a bounds comparison.
type IndexOperand interface {
	isIndexOperand()
	String() string
}

// Index is the dynamic index, zero-extended to 64 bits.
type Index struct{}

// IndexPlus is index + Addend computed with an add that traps on carry.
type IndexPlus struct {
	Addend uint64
}

func (Index) isIndexOperand()     {}
func (IndexPlus) isIndexOperand() {}

func (Index) String() string       { return "index" }
func (i IndexPlus) String() string { return fmt.Sprintf("index+%d", i.Addend) }

// BoundOperand is the right-hand side of a bounds comparison.
type BoundOperand interface {
	isBoundOperand()
	String() string
}

// RuntimeBound is the dynamic bound as loaded at run time.
type RuntimeBound struct{}

// RuntimeBoundMinus is the dynamic bound minus Sub. Sub never exceeds the
// heap's minimum size, so the subtraction cannot wrap.
type RuntimeBoundMinus struct {
	Sub uint64
}

// ConstBound is an adjusted static bound known at compile time.
type ConstBound struct {
	Value uint64
}

func (RuntimeBound) isBoundOperand()      {}
func (RuntimeBoundMinus) isBoundOperand() {}
func (ConstBound) isBoundOperand()        {}

func (RuntimeBound) String() string        { return "bound" }
func (b RuntimeBoundMinus) String() string { return fmt.Sprintf("bound-%d", b.Sub) }
func (b ConstBound) String() string        { return fmt.Sprintf("%#x", b.Value) }

// Check is the comparison shared by ExplicitCheck and SpeculativeGuard.
// The access is out of bounds when Cond holds for (Index, Bound).
type Check struct {
	Index IndexOperand
	Bound BoundOperand
	Cond  Cond
}

func (c Check) String() string {
	return fmt.Sprintf("%s %s %s", c.Index, c.Cond, c.Bound)
}

// OutOfBounds evaluates the check for a concrete index and dynamic bound.
// The second result reports whether the overflow-checked add carried, in
// which case the emitted code traps before the comparison is made.
func (c Check) OutOfBounds(index, bound uint64) (oob bool, carry bool) {
	lhs := index
	if p, ok := c.Index.(IndexPlus); ok {
		lhs = index + p.Addend
		if lhs < index {
			return true, true
		}
	}
	var rhs uint64
	switch b := c.Bound.(type) {
	case RuntimeBound:
		rhs = bound
	case RuntimeBoundMinus:
		rhs = bound - b.Sub
	case ConstBound:
		rhs = b.Value
	}
	return c.Cond.Holds(lhs, rhs), false
}

// Kind names a Plan variant.
type Kind uint8

const (
	KindUnconditionalTrap Kind = iota
	KindDirectAddress
	KindExplicitCheck
	KindSpeculativeGuard
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindUnconditionalTrap:
		return "unconditional_trap"
	case KindDirectAddress:
		return "direct_address"
	case KindExplicitCheck:
		return "explicit_check"
	case KindSpeculativeGuard:
		return "speculative_guard"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Plan is the compile-time decision for one access site.
type Plan interface {
	Kind() Kind
	String() string
}

// UnconditionalTrap: the access is out of bounds for every index.
type UnconditionalTrap struct{}

// DirectAddress: no check is needed.
type DirectAddress struct{}

// ExplicitCheck: compare, trap on match, then compute the address.
type ExplicitCheck struct {
	Check
}

// SpeculativeGuard: compute the address and the comparison unconditionally
// and select a null address when the comparison matches.
type SpeculativeGuard struct {
	Check
}

func (UnconditionalTrap) Kind() Kind { return KindUnconditionalTrap }
func (DirectAddress) Kind() Kind     { return KindDirectAddress }
func (ExplicitCheck) Kind() Kind     { return KindExplicitCheck }
func (SpeculativeGuard) Kind() Kind  { return KindSpeculativeGuard }

func (UnconditionalTrap) String() string  { return "trap" }
func (DirectAddress) String() string      { return "direct" }
func (p ExplicitCheck) String() string    { return "check(" + p.Check.String() + ")" }
func (p SpeculativeGuard) String() string { return "guard(" + p.Check.String() + ")" }

// CheckOf returns the comparison carried by p, if any.
func CheckOf(p Plan) (Check, bool) {
	switch v := p.(type) {
	case ExplicitCheck:
		return v.Check, true
	case SpeculativeGuard:
		return v.Check, true
	default:
		return Check{}, false
	}
}

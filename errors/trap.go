package errors

import "fmt"

// TrapCode identifies why guest execution was aborted.
type TrapCode uint8

const (
	// TrapHeapOutOfBounds is raised by every bounds check and by the
	// overflow-checked index add that precedes one.
	TrapHeapOutOfBounds TrapCode = iota + 1
	TrapIntegerOverflow
	TrapUnreachable
)

// String returns the trap code name
func (c TrapCode) String() string {
	switch c {
	case TrapHeapOutOfBounds:
		return "heap_out_of_bounds"
	case TrapIntegerOverflow:
		return "integer_overflow"
	case TrapUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("trap(%d)", uint8(c))
	}
}

// Trap is the typed signal returned to the host when guest code traps.
type Trap struct {
	Code TrapCode
}

// NewTrap creates a trap for code
func NewTrap(code TrapCode) *Trap {
	return &Trap{Code: code}
}

// Error implements the error interface
func (t *Trap) Error() string {
	return "wasm trap: " + t.Code.String()
}

// Is reports whether target is a trap with the same code
func (t *Trap) Is(target error) bool {
	if o, ok := target.(*Trap); ok {
		return t.Code == o.Code
	}
	return false
}

// ErrHeapOutOfBounds matches any heap out-of-bounds trap via errors.Is.
var ErrHeapOutOfBounds error = &Trap{Code: TrapHeapOutOfBounds}

// Package errors provides structured error types for heapguard.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the failing operation, a detail message, the offending
// value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegion, errors.KindMisaligned).
//		Op("make_accessible").
//		Value(start).
//		Detail("start %#x is not page aligned", start).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseRegion, "make_accessible", start, length, reserved)
//	err := errors.AllocationFailed(errors.PhaseRegion, "reserve", size, cause)
//
// Guest traps are a separate type, Trap, carrying a TrapCode. A heap
// out-of-bounds access is the expected failure path and is matched with:
//
//	errors.Is(err, errors.ErrHeapOutOfBounds)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

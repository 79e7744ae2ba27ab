package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhasePlan    Phase = "plan"    // bounds-check planning
	PhaseEmit    Phase = "emit"    // address sequence emission
	PhaseRegion  Phase = "region"  // virtual memory reservation and protection
	PhaseMemory  Phase = "memory"  // linear memory growth and host access
	PhaseEngine  Phase = "engine"  // wazero integration
	PhaseConfig  Phase = "config"  // tunables loading and validation
	PhaseRuntime Phase = "runtime" // executing emitted code
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds   Kind = "out_of_bounds"
	KindAllocation    Kind = "allocation"
	KindProtection    Kind = "protection"
	KindMisaligned    Kind = "misaligned"
	KindFault         Kind = "fault"
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindClosed        Kind = "closed"
	KindLimitExceeded Kind = "limit_exceeded"
	KindOverflow      Kind = "overflow"
)

// Error is the structured error type used throughout heapguard
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the failing operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfBounds creates an error for a range that does not fit inside limit
func OutOfBounds(phase Phase, op string, start, length, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Op:     op,
		Detail: fmt.Sprintf("range [%#x, %#x) exceeds limit %#x", start, start+length, limit),
		Value:  start,
	}
}

// Misaligned creates an error for a value that is not a multiple of align
func Misaligned(phase Phase, op string, value, align uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMisaligned,
		Op:     op,
		Detail: fmt.Sprintf("%#x is not a multiple of %#x", value, align),
		Value:  value,
	}
}

// AllocationFailed creates an error for an address space request the OS refused
func AllocationFailed(phase Phase, op string, size uint64, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Op:     op,
		Detail: fmt.Sprintf("failed to reserve %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// ProtectionFailed creates an error for a failed protection change
func ProtectionFailed(phase Phase, op string, start, length uint64, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindProtection,
		Op:     op,
		Detail: fmt.Sprintf("change protection of [%#x, %#x)", start, start+length),
		Value:  start,
		Cause:  cause,
	}
}

// Fault creates an error for a hardware fault observed at offset
func Fault(phase Phase, offset uint64, addr uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFault,
		Detail: fmt.Sprintf("access at offset %#x (address %#x) faulted", offset, addr),
		Value:  addr,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Closed creates an error for use of a released resource
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// LimitExceeded creates an error for growth past a configured maximum
func LimitExceeded(phase Phase, what string, requested, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimitExceeded,
		Detail: fmt.Sprintf("%s %d exceeds limit %d", what, requested, limit),
		Value:  requested,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, what string, value any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("%s overflows: %v", what, value),
		Value:  value,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseRegion,
				Kind:   KindMisaligned,
				Op:     "make_accessible",
				Detail: "start not page aligned",
			},
			contains: []string{"[region]", "misaligned", "make_accessible", "start not page aligned"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseMemory,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[memory]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRegion,
				Kind:   KindAllocation,
				Detail: "address space exhausted",
				Cause:  errors.New("cannot allocate memory"),
			},
			contains: []string{"[region]", "allocation", "address space exhausted", "caused by", "cannot allocate memory"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseRegion,
		Kind:  KindProtection,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause through chain")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseRegion,
		Kind:  KindOutOfBounds,
		Op:    "make_accessible",
	}

	if !err.Is(&Error{Phase: PhaseRegion, Kind: KindOutOfBounds}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseMemory, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseRegion, Kind: KindMisaligned}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("grow: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseRegion, Kind: KindOutOfBounds}) {
		t.Error("errors.Is should match through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseRegion, KindMisaligned).
		Op("make_accessible").
		Value(uint64(12)).
		Cause(cause).
		Detail("start %#x not aligned to %#x", 12, 4096).
		Build()

	if err.Phase != PhaseRegion {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseRegion)
	}
	if err.Kind != KindMisaligned {
		t.Errorf("Kind = %v, want %v", err.Kind, KindMisaligned)
	}
	if err.Op != "make_accessible" {
		t.Errorf("Op = %q, want make_accessible", err.Op)
	}
	if err.Value != uint64(12) {
		t.Errorf("Value = %v, want 12", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "start 0xc not aligned to 0x1000" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseRegion, "make_accessible", 0x1000, 0x2000, 0x2000)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if !strings.Contains(err.Detail, "0x3000") {
			t.Errorf("Detail = %q, should contain range end", err.Detail)
		}
	})

	t.Run("Misaligned", func(t *testing.T) {
		err := Misaligned(PhaseRegion, "reserve", 100, 4096)
		if err.Kind != KindMisaligned {
			t.Errorf("Kind = %v, want %v", err.Kind, KindMisaligned)
		}
		if err.Value != uint64(100) {
			t.Errorf("Value = %v, want 100", err.Value)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		cause := errors.New("ENOMEM")
		err := AllocationFailed(PhaseRegion, "reserve", 1<<40, cause)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !errors.Is(err, cause) {
			t.Error("cause should be reachable")
		}
	})

	t.Run("ProtectionFailed", func(t *testing.T) {
		err := ProtectionFailed(PhaseRegion, "make_accessible", 0, 4096, errors.New("EACCES"))
		if err.Kind != KindProtection {
			t.Errorf("Kind = %v, want %v", err.Kind, KindProtection)
		}
	})

	t.Run("Fault", func(t *testing.T) {
		err := Fault(PhaseRegion, 0x10000, 0x7f0000010000)
		if err.Kind != KindFault {
			t.Errorf("Kind = %v, want %v", err.Kind, KindFault)
		}
	})

	t.Run("LimitExceeded", func(t *testing.T) {
		err := LimitExceeded(PhaseMemory, "pages", 20, 16)
		if err.Kind != KindLimitExceeded {
			t.Errorf("Kind = %v, want %v", err.Kind, KindLimitExceeded)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseRegion, "region")
		if !strings.Contains(err.Error(), "region is closed") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})
}

func TestTrap(t *testing.T) {
	trap := NewTrap(TrapHeapOutOfBounds)
	if !errors.Is(trap, ErrHeapOutOfBounds) {
		t.Error("trap should match ErrHeapOutOfBounds")
	}
	if errors.Is(NewTrap(TrapIntegerOverflow), ErrHeapOutOfBounds) {
		t.Error("integer overflow must not match heap out of bounds")
	}

	wrapped := fmt.Errorf("call addr: %w", trap)
	var got *Trap
	if !errors.As(wrapped, &got) || got.Code != TrapHeapOutOfBounds {
		t.Errorf("errors.As = %v", got)
	}

	if trap.Error() != "wasm trap: heap_out_of_bounds" {
		t.Errorf("Error() = %q", trap.Error())
	}
	if TrapCode(99).String() != "trap(99)" {
		t.Errorf("unknown code String() = %q", TrapCode(99).String())
	}
}

// Package tunables holds the process-wide knobs that decide how linear
// memories are laid out and how accesses to them are checked.
//
// Values come from Default, optionally overridden by HEAPGUARD_* environment
// variables through FromEnv, and finally by command line flags.
package tunables

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/errors"
)

// WasmPageSize is the unit of linear memory growth.
const WasmPageSize = 1 << 16

// MaxWasmPages is the largest page count a 32-bit memory can have.
const MaxWasmPages = 1 << 16

// Environment variables read by FromEnv.
const (
	EnvStaticReservation  = "HEAPGUARD_STATIC_RESERVATION"
	EnvStaticGuardSize    = "HEAPGUARD_STATIC_GUARD_SIZE"
	EnvDynamicGuardSize   = "HEAPGUARD_DYNAMIC_GUARD_SIZE"
	EnvDynamicReservation = "HEAPGUARD_DYNAMIC_RESERVATION"
	EnvSpectre            = "HEAPGUARD_SPECTRE"
	EnvPointerWidth       = "HEAPGUARD_POINTER_WIDTH"
	EnvMaxPages           = "HEAPGUARD_MAX_PAGES"
)

// Tunables configures memory layout and bounds checking.
type Tunables struct {
	// StaticReservation is the bound of static memories. A memory whose
	// maximum fits is reserved once at this size and never moves.
	StaticReservation uint64
	// StaticGuardSize is reserved past StaticReservation.
	StaticGuardSize uint64
	// DynamicGuardSize is reserved past the maximum of dynamic memories.
	DynamicGuardSize uint64
	// DynamicReservation is extra headroom reserved for dynamic memories
	// beyond their maximum size.
	DynamicReservation uint64
	// PointerWidth of the compilation target, 32 or 64.
	PointerWidth int
	// MaxPages caps every memory's page count.
	MaxPages uint32
	// SpectreMitigations clamps addresses with a conditional select
	// instead of relying on the trapping branch alone.
	SpectreMitigations bool
}

// Default returns tunables for the host.
func Default() *Tunables {
	if bits.UintSize == 32 {
		return &Tunables{
			StaticReservation:  16 << 20,
			StaticGuardSize:    64 << 10,
			DynamicGuardSize:   0,
			PointerWidth:       32,
			MaxPages:           MaxWasmPages,
			SpectreMitigations: true,
		}
	}
	return &Tunables{
		StaticReservation:  4 << 30,
		StaticGuardSize:    2 << 30,
		DynamicGuardSize:   64 << 10,
		PointerWidth:       64,
		MaxPages:           MaxWasmPages,
		SpectreMitigations: true,
	}
}

// Validate checks that every size is a whole number of wasm pages and that
// the largest reservation is addressable.
func (t *Tunables) Validate() error {
	if t == nil {
		return errors.InvalidInput(errors.PhaseConfig, "nil tunables")
	}
	if t.PointerWidth != 32 && t.PointerWidth != 64 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(t.PointerWidth).
			Detail("pointer width %d, want 32 or 64", t.PointerWidth).Build()
	}
	if t.PointerWidth > bits.UintSize {
		return errors.Unsupported(errors.PhaseConfig,
			fmt.Sprintf("%d-bit target on a %d-bit host", t.PointerWidth, bits.UintSize))
	}
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"static reservation", t.StaticReservation},
		{"static guard size", t.StaticGuardSize},
		{"dynamic guard size", t.DynamicGuardSize},
		{"dynamic reservation", t.DynamicReservation},
	} {
		if f.v%WasmPageSize != 0 {
			return errors.New(errors.PhaseConfig, errors.KindMisaligned).
				Op(f.name).Value(f.v).
				Detail("%s %#x is not a multiple of the wasm page size", f.name, f.v).Build()
		}
	}
	if t.MaxPages == 0 || t.MaxPages > MaxWasmPages {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(t.MaxPages).
			Detail("max pages %d not in [1, %d]", t.MaxPages, MaxWasmPages).Build()
	}

	limit := uint64(1)<<(t.PointerWidth-1) - 1
	static, carry := bits.Add64(t.StaticReservation, t.StaticGuardSize, 0)
	if carry != 0 || static > limit {
		return errors.LimitExceeded(errors.PhaseConfig, "static reservation plus guard", static, limit)
	}
	dynamic, c1 := bits.Add64(uint64(t.MaxPages)*WasmPageSize, t.DynamicReservation, 0)
	dynamic, c2 := bits.Add64(dynamic, t.DynamicGuardSize, 0)
	if c1|c2 != 0 || dynamic > limit {
		return errors.LimitExceeded(errors.PhaseConfig, "dynamic reservation", dynamic, limit)
	}
	return nil
}

// BoundsConfig returns the planner configuration these tunables imply.
func (t *Tunables) BoundsConfig() bounds.Config {
	return bounds.Config{
		SpectreMitigations: t.SpectreMitigations,
		PointerWidth:       t.PointerWidth,
	}
}

// Clone returns a copy of t.
func (t *Tunables) Clone() *Tunables {
	c := *t
	return &c
}

// FromEnv returns Default overridden by any HEAPGUARD_* variables that are
// set. The result is validated.
func FromEnv() (*Tunables, error) {
	env.Load()
	t := Default()

	sizes := []struct {
		name string
		dst  *uint64
	}{
		{EnvStaticReservation, &t.StaticReservation},
		{EnvStaticGuardSize, &t.StaticGuardSize},
		{EnvDynamicGuardSize, &t.DynamicGuardSize},
		{EnvDynamicReservation, &t.DynamicReservation},
	}
	for _, s := range sizes {
		if !env.Has(s.name) {
			continue
		}
		v, err := ParseSize(env.Str(s.name))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, s.name)
		}
		*s.dst = v
	}

	if env.Has(EnvSpectre) {
		t.SpectreMitigations = env.Bool(EnvSpectre)
	}
	if env.Has(EnvPointerWidth) {
		t.PointerWidth = env.Int(EnvPointerWidth, t.PointerWidth)
	}
	if env.Has(EnvMaxPages) {
		n, err := strconv.ParseUint(env.Str(EnvMaxPages), 10, 32)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, EnvMaxPages)
		}
		t.MaxPages = uint32(n)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

var sizeSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"GiB", 30}, {"MiB", 20}, {"KiB", 10},
	{"G", 30}, {"M", 20}, {"K", 10},
}

// ParseSize parses a byte count with an optional binary suffix such as
// "64KiB", "4GiB" or "2G". Hex is accepted with a 0x prefix.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	shift := uint(0)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			shift = sfx.shift
			break
		}
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if shift > 0 && v > (^uint64(0))>>shift {
		return 0, errors.Overflow(errors.PhaseConfig, "size", s)
	}
	return v << shift, nil
}

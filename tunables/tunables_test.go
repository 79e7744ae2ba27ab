package tunables

import (
	"errors"
	"math/bits"
	"testing"

	hgerrors "github.com/wippyai/heapguard/errors"
)

func kindOf(err error) hgerrors.Kind {
	var e *hgerrors.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func TestDefault_Valid(t *testing.T) {
	d := Default()
	if err := d.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if bits.UintSize == 64 {
		if d.StaticReservation != 4<<30 || d.StaticGuardSize != 2<<30 || d.DynamicGuardSize != 64<<10 {
			t.Errorf("unexpected 64-bit defaults: %+v", d)
		}
	}
	if !d.SpectreMitigations {
		t.Error("spectre mitigations should default on")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Tunables)
		kind   hgerrors.Kind
	}{
		{name: "default", modify: func(*Tunables) {}},
		{name: "bad pointer width", modify: func(t *Tunables) { t.PointerWidth = 48 }, kind: hgerrors.KindInvalidInput},
		{name: "unaligned guard", modify: func(t *Tunables) { t.StaticGuardSize = 4096 }, kind: hgerrors.KindMisaligned},
		{name: "unaligned reservation", modify: func(t *Tunables) { t.DynamicReservation = 1 }, kind: hgerrors.KindMisaligned},
		{name: "zero max pages", modify: func(t *Tunables) { t.MaxPages = 0 }, kind: hgerrors.KindInvalidInput},
		{name: "too many pages", modify: func(t *Tunables) { t.MaxPages = MaxWasmPages + 1 }, kind: hgerrors.KindInvalidInput},
		{
			name: "static overflow",
			modify: func(t *Tunables) {
				t.StaticReservation = ^uint64(0) &^ (WasmPageSize - 1)
				t.StaticGuardSize = WasmPageSize
			},
			kind: hgerrors.KindLimitExceeded,
		},
		{
			name: "dynamic overflow",
			modify: func(t *Tunables) {
				t.DynamicReservation = ^uint64(0) &^ (WasmPageSize - 1)
			},
			kind: hgerrors.KindLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu := Default()
			tt.modify(tu)
			err := tu.Validate()
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if kindOf(err) != tt.kind {
				t.Errorf("Validate() = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestBoundsConfig(t *testing.T) {
	tu := Default()
	tu.SpectreMitigations = false
	cfg := tu.BoundsConfig()
	if cfg.SpectreMitigations || cfg.PointerWidth != tu.PointerWidth {
		t.Errorf("BoundsConfig() = %+v", cfg)
	}
}

func TestClone(t *testing.T) {
	a := Default()
	b := a.Clone()
	b.MaxPages = 1
	if a.MaxPages == 1 {
		t.Error("Clone shares state")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "65536", want: 65536},
		{in: "64KiB", want: 64 << 10},
		{in: "4GiB", want: 4 << 30},
		{in: "2G", want: 2 << 30},
		{in: " 16 MiB ", want: 16 << 20},
		{in: "0x10000", want: 0x10000},
		{in: "lots", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "17179869184GiB", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSize(%q) = %d, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvStaticReservation, "1GiB")
	t.Setenv(EnvStaticGuardSize, "64KiB")
	t.Setenv(EnvSpectre, "false")
	t.Setenv(EnvMaxPages, "256")

	tu, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if tu.StaticReservation != 1<<30 || tu.StaticGuardSize != 64<<10 {
		t.Errorf("sizes = %#x/%#x", tu.StaticReservation, tu.StaticGuardSize)
	}
	if tu.SpectreMitigations {
		t.Error("HEAPGUARD_SPECTRE=false not applied")
	}
	if tu.MaxPages != 256 {
		t.Errorf("MaxPages = %d", tu.MaxPages)
	}
	if tu.DynamicGuardSize != Default().DynamicGuardSize {
		t.Error("unset variable changed a default")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		kind  hgerrors.Kind
	}{
		{name: "bad size", key: EnvDynamicGuardSize, value: "huge", kind: hgerrors.KindInvalidInput},
		{name: "unaligned size", key: EnvDynamicGuardSize, value: "4KiB", kind: hgerrors.KindMisaligned},
		{name: "bad pages", key: EnvMaxPages, value: "many", kind: hgerrors.KindInvalidInput},
		{name: "bad width", key: EnvPointerWidth, value: "16", kind: hgerrors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			if kindOf(err) != tt.kind {
				t.Errorf("FromEnv() = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

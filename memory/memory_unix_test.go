//go:build unix

package memory

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/codegen/ir"
	"github.com/wippyai/heapguard/region"
	"github.com/wippyai/heapguard/tunables"
)

func TestGuardFaultsPastSize(t *testing.T) {
	m := newMemory(t, Config{MinPages: 1, MaxPages: 4})
	res := m.Reservation()

	if err := region.Probe(res, PageSize-1); err != nil {
		t.Fatalf("last byte: %v", err)
	}
	if err := region.Probe(res, PageSize); err == nil {
		t.Fatal("first byte past size did not fault")
	}
	if _, err := m.Grow(1); err != nil {
		t.Fatal(err)
	}
	if err := region.Probe(res, PageSize); err != nil {
		t.Fatalf("grown byte: %v", err)
	}
	if err := region.Probe(res, 2*PageSize); err == nil {
		t.Fatal("first byte past grown size did not fault")
	}
}

// Every address the emitted code lets through for a static heap with a
// full-size guard must either be in bounds or land on a guard page.
func TestEmittedAddressesLandInRegion(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs a 64-bit address space")
	}
	tu := tunables.Default()
	for _, spectre := range []bool{false, true} {
		tu.SpectreMitigations = spectre
		m := newMemory(t, Config{Tunables: tu, MinPages: 1})
		h := m.Descriptor()
		e := codegen.NewEmitter(bounds.NewPlanner(tu.BoundsConfig()))

		for _, offset := range []uint32{0, 8, PageSize, 1 << 30} {
			f, addr, err := ir.Build(e, "addr", h, offset, 8)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !addr.Reachable {
				continue
			}
			for _, idx := range []uint64{0, PageSize - 8, PageSize, math.MaxUint32} {
				a, err := f.Eval(ir.Env{Index: idx, Globals: m.Globals()})
				if err != nil {
					continue
				}
				if a == 0 {
					// clamped by the speculative guard
					continue
				}
				off := int(a - uint64(m.Base()))
				inBounds := idx+uint64(offset)+8 <= m.Size()
				zone := m.Region().Classify(uintptr(a))
				switch {
				case inBounds && zone != region.ZoneAccessible:
					t.Errorf("%s idx %#x: in-bounds address in %s", addr.Plan, idx, zone)
				case !inBounds && zone != region.ZoneGuard:
					t.Errorf("%s idx %#x: out-of-bounds address in %s", addr.Plan, idx, zone)
				case !inBounds:
					if err := region.Probe(m.Reservation(), off); err == nil {
						t.Errorf("%s idx %#x: guard access did not fault", addr.Plan, idx)
					}
				}
			}
		}
	}
}

func TestImageCopyOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	image := bytes.Repeat([]byte{0x5a}, 3000)
	if err := os.WriteFile(path, image, 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	m := newMemory(t, Config{MinPages: 2, MaxPages: 4, Image: f, ImageSize: len(image)})
	if m.Pages() != 2 {
		t.Fatalf("Pages = %d", m.Pages())
	}
	if b, _ := m.Read(0, uint32(len(image))); !bytes.Equal(b, image) {
		t.Fatal("image not mapped")
	}
	if v, _ := m.ReadU8(uint32(len(image))); v != 0 {
		t.Errorf("byte after image = %#x", v)
	}
	if err := m.WriteU8(0, 1); err != nil {
		t.Fatalf("write over image: %v", err)
	}
	if err := m.WriteU8(2*PageSize-1, 1); err != nil {
		t.Fatalf("write past image: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, image) {
		t.Error("memory write reached the image file")
	}
}

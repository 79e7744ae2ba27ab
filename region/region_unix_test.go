//go:build unix

package region

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	hgerrors "github.com/wippyai/heapguard/errors"
)

func TestOS_FullyCommittedIsReadWrite(t *testing.T) {
	page := PageSize()
	r, err := ReserveAndCommit(4*page, 4*page)
	if err != nil {
		t.Fatalf("ReserveAndCommit: %v", err)
	}
	defer r.Close()

	if r.Backing() != BackingAnonymous {
		t.Errorf("Backing = %s, want anonymous", r.Backing())
	}
	mem := r.Reservation()
	for _, i := range []int{0, page, 4*page - 1} {
		if err := ProbeWrite(mem, i, 0xaa); err != nil {
			t.Errorf("write at %#x: %v", i, err)
		}
		if err := Probe(mem, i); err != nil {
			t.Errorf("read at %#x: %v", i, err)
		}
	}
}

func TestOS_GuardPagesFault(t *testing.T) {
	page := PageSize()
	r, err := ReserveAndCommit(page, 4*page)
	if err != nil {
		t.Fatalf("ReserveAndCommit: %v", err)
	}
	defer r.Close()

	mem := r.Reservation()
	if err := ProbeWrite(mem, page-1, 1); err != nil {
		t.Fatalf("last accessible byte: %v", err)
	}

	for _, i := range []int{page, 2*page + 17, 4*page - 1} {
		err := Probe(mem, i)
		var e *hgerrors.Error
		if !asError(err, &e) || e.Kind != hgerrors.KindFault {
			t.Fatalf("read at %#x: err = %v, want fault", i, err)
		}
		addr, _ := e.Value.(uintptr)
		if r.Classify(addr) != ZoneGuard {
			t.Errorf("fault address %#x classified %s", addr, r.Classify(addr))
		}
		if err := ProbeWrite(mem, i, 1); err == nil {
			t.Errorf("write at %#x did not fault", i)
		}
	}
}

func TestOS_GrowPreservesContents(t *testing.T) {
	page := PageSize()
	r, err := ReserveAndCommit(page, 8*page)
	if err != nil {
		t.Fatalf("ReserveAndCommit: %v", err)
	}
	defer r.Close()

	before := r.Bytes()
	for i := range before {
		before[i] = byte(i * 7)
	}
	base := r.Base()

	if err := r.MakeAccessible(page, 3*page); err != nil {
		t.Fatalf("MakeAccessible: %v", err)
	}
	if r.Base() != base {
		t.Fatal("growth moved the region")
	}

	after := r.Bytes()
	if len(after) != 4*page {
		t.Fatalf("len(Bytes) = %d", len(after))
	}
	for i := 0; i < page; i++ {
		if after[i] != byte(i*7) {
			t.Fatalf("byte %d changed to %#x", i, after[i])
		}
	}
	if !bytes.Equal(after[page:], make([]byte, 3*page)) {
		t.Error("new pages not zeroed")
	}
	after[4*page-1] = 0x55

	if err := Probe(r.Reservation(), 4*page); err == nil {
		t.Error("first byte past the grown prefix did not fault")
	}
}

func TestOS_OutOfRangeGrowDoesNotMutate(t *testing.T) {
	page := PageSize()
	r, err := ReserveAndCommit(page, 2*page)
	if err != nil {
		t.Fatalf("ReserveAndCommit: %v", err)
	}
	defer r.Close()

	if err := r.MakeAccessible(page, 2*page); err == nil {
		t.Fatal("grow past reservation succeeded")
	}
	if r.AccessibleSize() != page {
		t.Errorf("AccessibleSize = %d", r.AccessibleSize())
	}
	if err := Probe(r.Reservation(), page); err == nil {
		t.Error("guard page became accessible")
	}
}

func TestOS_GuardStaysFaultingAfterProtect(t *testing.T) {
	page := PageSize()
	r, err := ReserveAndCommit(page, 4*page)
	if err != nil {
		t.Fatalf("ReserveAndCommit: %v", err)
	}
	defer r.Close()

	if err := r.MakeWritable(2*page, page); kindOf(err) != hgerrors.KindOutOfBounds {
		t.Fatalf("MakeWritable over guard = %v, want out of bounds", err)
	}
	if err := r.MakeReadOnly(page, 3*page); kindOf(err) != hgerrors.KindOutOfBounds {
		t.Fatalf("MakeReadOnly over guard = %v, want out of bounds", err)
	}

	err = ProbeWrite(r.Reservation(), 2*page, 7)
	var e *hgerrors.Error
	if !asError(err, &e) || e.Kind != hgerrors.KindFault {
		t.Fatalf("write into guard: err = %v, want fault", err)
	}
	addr, _ := e.Value.(uintptr)
	if r.Classify(addr) != ZoneGuard {
		t.Errorf("fault address %#x classified %s", addr, r.Classify(addr))
	}
	if err := ProbeWrite(r.Reservation(), page-1, 7); err != nil {
		t.Errorf("prefix no longer writable: %v", err)
	}
}

func TestOS_MapFileCopyOnWrite(t *testing.T) {
	page := PageSize()
	path := filepath.Join(t.TempDir(), "image.bin")
	image := bytes.Repeat([]byte("heapguard"), page/4)
	if err := os.WriteFile(path, image, 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r, err := MapFile(f, len(image), 8*page)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer r.Close()

	if r.Backing() != BackingFile {
		t.Errorf("Backing = %s, want file", r.Backing())
	}
	mapped := roundUp(len(image), page)
	if r.AccessibleSize() != mapped {
		t.Fatalf("AccessibleSize = %d, want %d", r.AccessibleSize(), mapped)
	}
	if !bytes.Equal(r.Bytes()[:len(image)], image) {
		t.Fatal("mapped contents differ from file")
	}
	if err := ProbeWrite(r.Reservation(), 0, 'X'); err == nil {
		t.Fatal("write to read-only image did not fault")
	}

	if err := r.MakeWritable(0, mapped); err != nil {
		t.Fatalf("MakeWritable: %v", err)
	}
	r.Bytes()[0] = 'X'

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, image) {
		t.Error("write through private mapping reached the file")
	}
	if err := Probe(r.Reservation(), mapped); err == nil {
		t.Error("byte past the image did not fault")
	}
}

func TestOS_MapFileLargerThanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_, err = MapFile(f, 100, 4*PageSize())
	var e *hgerrors.Error
	if !asError(err, &e) || e.Kind != hgerrors.KindLimitExceeded {
		t.Errorf("err = %v, want limit exceeded", err)
	}
}

func TestOS_ReserveHugeFails(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs a 64-bit address space")
	}
	page := PageSize()
	huge := (math.MaxInt >> 1) / page * page
	_, err := ReserveAndCommit(0, huge)
	var e *hgerrors.Error
	if !asError(err, &e) || e.Kind != hgerrors.KindAllocation {
		t.Errorf("err = %v, want allocation failure", err)
	}
}

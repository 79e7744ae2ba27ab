// Package region manages guarded virtual memory reservations.
//
// A Region reserves a contiguous range of address space and keeps only a
// prefix of it accessible. Bytes in [0, AccessibleSize) can be read and
// written; bytes in [AccessibleSize, ReservedSize) fault. Compiled code can
// therefore rely on the fault instead of an explicit bounds check whenever
// every address it can form stays inside the reservation.
//
//	r, err := region.ReserveAndCommit(64<<10, 8<<30)
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	// grow the accessible prefix by one page
//	err = r.MakeAccessible(r.AccessibleSize(), region.PageSize())
//
// Growth never moves or zeroes existing contents. Teardown releases the
// whole reservation in one call regardless of how much was committed.
//
// The accessible prefix is read through Bytes; growth must be serialized by
// the caller relative to readers that rely on the old size.
package region

import (
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/heapguard/errors"
)

// Zone classifies an address relative to a region.
type Zone uint8

const (
	ZoneOutside Zone = iota
	ZoneAccessible
	ZoneGuard
)

func (z Zone) String() string {
	switch z {
	case ZoneAccessible:
		return "accessible"
	case ZoneGuard:
		return "guard"
	default:
		return "outside"
	}
}

// Backing is what the accessible prefix was created from.
type Backing uint8

const (
	BackingAnonymous Backing = iota
	BackingFile
)

func (b Backing) String() string {
	if b == BackingFile {
		return "file"
	}
	return "anonymous"
}

// Region is a reservation of address space with an accessible prefix.
type Region struct {
	backend    Backend
	mem        []byte
	mu         sync.Mutex
	accessible int
	backing    Backing
	closed     bool
}

// ReserveAndCommit reserves reserved bytes and makes the first accessible
// bytes readable and writable. When the two are equal the whole range is
// committed in one step. Both sizes must be multiples of the page size.
func ReserveAndCommit(accessible, reserved int) (*Region, error) {
	return ReserveAndCommitOn(defaultBackend, accessible, reserved)
}

// ReserveAndCommitOn is ReserveAndCommit on an explicit backend.
func ReserveAndCommitOn(b Backend, accessible, reserved int) (*Region, error) {
	if err := checkSizes(b, accessible, reserved); err != nil {
		return nil, err
	}

	if accessible == reserved {
		mem, err := b.ReserveCommitted(reserved)
		if err != nil {
			return nil, errors.AllocationFailed(errors.PhaseRegion, "reserve_committed", uint64(reserved), err)
		}
		Logger().Debug("region reserved committed", zap.Int("size", reserved))
		return &Region{backend: b, mem: mem, accessible: reserved}, nil
	}

	mem, err := b.Reserve(reserved)
	if err != nil {
		return nil, errors.AllocationFailed(errors.PhaseRegion, "reserve", uint64(reserved), err)
	}
	r := &Region{backend: b, mem: mem}
	if accessible > 0 {
		if err := b.Commit(mem[:accessible]); err != nil {
			r.release()
			return nil, errors.AllocationFailed(errors.PhaseRegion, "commit", uint64(accessible), err)
		}
		r.accessible = accessible
	}
	Logger().Debug("region reserved",
		zap.Int("accessible", accessible),
		zap.Int("reserved", reserved))
	return r, nil
}

// MapFile reserves reserved bytes and maps a private read-only image of the
// first size bytes of f at the start. The image, rounded up to whole pages,
// becomes the accessible prefix. MakeWritable over it is copy-on-write.
func MapFile(f *os.File, size, reserved int) (*Region, error) {
	return MapFileOn(defaultBackend, f, size, reserved)
}

// MapFileOn is MapFile on an explicit backend.
func MapFileOn(b Backend, f *os.File, size, reserved int) (*Region, error) {
	if f == nil {
		return nil, errors.InvalidInput(errors.PhaseRegion, "nil file")
	}
	page := b.PageSize()
	if size < 0 {
		return nil, errors.InvalidInput(errors.PhaseRegion, "negative image size")
	}
	image := roundUp(size, page)
	if err := checkSizes(b, image, reserved); err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRegion, errors.KindInvalidInput, err, "stat image file")
	}
	if int64(size) > st.Size() {
		return nil, errors.LimitExceeded(errors.PhaseRegion, "image size", uint64(size), uint64(st.Size()))
	}

	mem, err := b.Reserve(reserved)
	if err != nil {
		return nil, errors.AllocationFailed(errors.PhaseRegion, "reserve", uint64(reserved), err)
	}
	r := &Region{backend: b, mem: mem}
	if err := b.MapFile(f, mem[:image]); err != nil {
		r.release()
		return nil, errors.New(errors.PhaseRegion, errors.KindAllocation).
			Op("map_file").
			Value(f.Name()).
			Cause(err).
			Detail("map %d bytes of %s", size, f.Name()).
			Build()
	}
	r.accessible = image
	r.backing = BackingFile
	Logger().Debug("region mapped file",
		zap.String("file", f.Name()),
		zap.Int("image", image),
		zap.Int("reserved", reserved))
	return r, nil
}

func checkSizes(b Backend, accessible, reserved int) error {
	page := b.PageSize()
	switch {
	case reserved <= 0:
		return errors.InvalidInput(errors.PhaseRegion, "reserved size must be positive")
	case accessible < 0:
		return errors.InvalidInput(errors.PhaseRegion, "accessible size must not be negative")
	case reserved%page != 0:
		return errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Op("reserve").Value(reserved).
			Detail("reserved size %#x is not a multiple of page size %#x", reserved, page).Build()
	case accessible%page != 0:
		return errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Op("reserve").Value(accessible).
			Detail("accessible size %#x is not a multiple of page size %#x", accessible, page).Build()
	case accessible > reserved:
		return errors.OutOfBounds(errors.PhaseRegion, "reserve", 0, uint64(accessible), uint64(reserved))
	}
	return nil
}

// MakeAccessible makes [start, start+length) readable and writable and
// extends the accessible prefix to cover it. start must not be past the
// current accessible size so the prefix stays contiguous. On failure the
// region is unchanged.
func (r *Region) MakeAccessible(start, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRange("make_accessible", start, length); err != nil {
		return err
	}
	if start > r.accessible {
		return errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Op("make_accessible").Value(start).
			Detail("start %#x is past the accessible prefix %#x", start, r.accessible).Build()
	}
	if length == 0 {
		return nil
	}
	if err := r.backend.Commit(r.mem[start : start+length]); err != nil {
		return errors.ProtectionFailed(errors.PhaseRegion, "make_accessible", uint64(start), uint64(length), err)
	}
	if end := start + length; end > r.accessible {
		Logger().Debug("region grown",
			zap.Int("from", r.accessible),
			zap.Int("to", end))
		r.accessible = end
	}
	return nil
}

// MakeExecutable makes [start, start+length) readable and executable. The
// range must lie inside the accessible prefix, as for MakeWritable and
// MakeReadOnly.
func (r *Region) MakeExecutable(start, length int) error {
	return r.protect("make_executable", start, length, ProtReadExec)
}

// MakeWritable makes [start, start+length) readable and writable. Over a
// file image the writes are private to this region.
func (r *Region) MakeWritable(start, length int) error {
	return r.protect("make_writable", start, length, ProtReadWrite)
}

// MakeReadOnly makes [start, start+length) read-only.
func (r *Region) MakeReadOnly(start, length int) error {
	return r.protect("make_read_only", start, length, ProtRead)
}

func (r *Region) protect(op string, start, length int, prot Protection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRange(op, start, length); err != nil {
		return err
	}
	// Guard pages stay inaccessible; only MakeAccessible moves the prefix.
	if start+length > r.accessible {
		return errors.OutOfBounds(errors.PhaseRegion, op, uint64(start), uint64(length), uint64(r.accessible))
	}
	if length == 0 {
		return nil
	}
	if err := r.backend.Protect(r.mem[start:start+length], prot); err != nil {
		return errors.ProtectionFailed(errors.PhaseRegion, op, uint64(start), uint64(length), err)
	}
	return nil
}

// checkRange validates a page-aligned subrange of the reservation.
// Caller holds r.mu.
func (r *Region) checkRange(op string, start, length int) error {
	if r.closed {
		return errors.Closed(errors.PhaseRegion, "region")
	}
	page := r.backend.PageSize()
	if start < 0 || length < 0 {
		return errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Op(op).Detail("negative range [%d, +%d)", start, length).Build()
	}
	if start%page != 0 {
		return errors.Misaligned(errors.PhaseRegion, op, uint64(start), uint64(page))
	}
	if length%page != 0 {
		return errors.Misaligned(errors.PhaseRegion, op, uint64(length), uint64(page))
	}
	if length > len(r.mem)-start {
		return errors.OutOfBounds(errors.PhaseRegion, op, uint64(start), uint64(length), uint64(len(r.mem)))
	}
	return nil
}

// Close releases the whole reservation. Closing twice is a no-op.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.release()
}

// release unmaps the reservation. Caller holds r.mu or owns r exclusively.
func (r *Region) release() error {
	r.closed = true
	size := len(r.mem)
	err := r.backend.Release(r.mem)
	r.mem = nil
	r.accessible = 0
	if err != nil {
		Logger().Warn("region release failed", zap.Int("size", size), zap.Error(err))
		return errors.Wrap(errors.PhaseRegion, errors.KindProtection, err, "release reservation")
	}
	Logger().Debug("region released", zap.Int("size", size))
	return nil
}

// AccessibleSize returns the size of the accessible prefix.
func (r *Region) AccessibleSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessible
}

// ReservedSize returns the size of the whole reservation, or 0 once closed.
func (r *Region) ReservedSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mem)
}

// Base returns the address of the first reserved byte, or 0 once closed.
func (r *Region) Base() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base()
}

func (r *Region) base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
}

// Bytes returns the accessible prefix. The slice stays valid until Close
// and shares its backing array with later, larger results.
func (r *Region) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem[:r.accessible:r.accessible]
}

// Reservation returns the whole reservation, guard pages included. Indexing
// past AccessibleSize faults.
func (r *Region) Reservation() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem
}

// Backing reports whether the region started from an anonymous mapping or a
// file image.
func (r *Region) Backing() Backing { return r.backing }

// Classify reports which part of the region addr falls in.
func (r *Region) Classify(addr uintptr) Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.base()
	if base == 0 || addr < base || addr-base >= uintptr(len(r.mem)) {
		return ZoneOutside
	}
	if addr-base < uintptr(r.accessible) {
		return ZoneAccessible
	}
	return ZoneGuard
}

func roundUp(n, page int) int {
	return (n + page - 1) / page * page
}

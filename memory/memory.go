// Package memory implements WebAssembly linear memories on guarded regions.
//
// A Memory picks its heap style from the tunables: when its maximum size
// fits in the static reservation it is laid out as a static heap whose
// bound is the reservation itself, otherwise as a dynamic heap whose bound
// is the current byte length. Either way the base address never changes
// and bytes past the current length fault.
//
// Descriptor describes the memory to the bounds-check planner and Globals
// supplies the runtime values of its base and bound.
package memory

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
	"github.com/wippyai/heapguard/region"
	"github.com/wippyai/heapguard/tunables"
)

// PageSize is the wasm page size.
const PageSize = tunables.WasmPageSize

// Global values naming the base address and current byte length of a
// memory in its descriptor.
const (
	GVBase  heap.GlobalValue = 0
	GVBound heap.GlobalValue = 1
)

// Config describes a memory to create.
type Config struct {
	// Tunables selects the layout. Nil means tunables.Default.
	Tunables *tunables.Tunables
	// Image, if set, is mapped copy-on-write at offset 0.
	Image *os.File
	// MaxPages caps growth. Zero means Tunables.MaxPages.
	MaxPages uint32
	// MinPages is the initial size.
	MinPages uint32
	// ImageSize is the number of bytes of Image to map.
	ImageSize int
	// IndexType is the address width of the memory. Zero means I32.
	IndexType heap.IndexType
}

// Memory is a linear memory backed by a guarded region.
type Memory struct {
	region   *region.Region
	mem      []byte
	desc     heap.Descriptor
	bound    atomic.Uint64
	mu       sync.RWMutex
	maxPages uint32
	closed   bool
}

// New reserves and commits a memory of cfg.MinPages pages.
func New(cfg Config) (*Memory, error) {
	t := cfg.Tunables
	if t == nil {
		t = tunables.Default()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	idx := cfg.IndexType
	if idx == 0 {
		idx = heap.I32
	}
	maxPages := cfg.MaxPages
	if maxPages == 0 || maxPages > t.MaxPages {
		maxPages = t.MaxPages
	}
	if cfg.MinPages > maxPages {
		return nil, errors.LimitExceeded(errors.PhaseMemory, "minimum pages", uint64(cfg.MinPages), uint64(maxPages))
	}

	minBytes := uint64(cfg.MinPages) * PageSize
	maxBytes := uint64(maxPages) * PageSize

	desc := heap.Descriptor{
		Base:      GVBase,
		MinSize:   minBytes,
		IndexType: idx,
	}
	var reserved uint64
	if idx == heap.I32 && maxBytes <= t.StaticReservation {
		desc.Style = heap.Static{Bound: t.StaticReservation}
		desc.OffsetGuardSize = t.StaticGuardSize
		reserved = t.StaticReservation + t.StaticGuardSize
	} else {
		desc.Style = heap.Dynamic{Bound: GVBound}
		desc.OffsetGuardSize = t.DynamicGuardSize
		reserved = maxBytes + t.DynamicReservation + t.DynamicGuardSize
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	r, err := reserve(cfg, int(minBytes), int(reserved))
	if err != nil {
		return nil, err
	}

	m := &Memory{
		region:   r,
		mem:      r.Reservation(),
		desc:     desc,
		maxPages: maxPages,
	}
	m.bound.Store(minBytes)

	Logger().Debug("memory created",
		zap.Stringer("style", desc.Style),
		zap.Uint32("min_pages", cfg.MinPages),
		zap.Uint32("max_pages", maxPages),
		zap.Uint64("reserved", reserved))
	return m, nil
}

func reserve(cfg Config, minBytes, reserved int) (*region.Region, error) {
	if cfg.Image == nil {
		return region.ReserveAndCommit(minBytes, reserved)
	}
	if cfg.ImageSize > minBytes {
		return nil, errors.LimitExceeded(errors.PhaseMemory, "image size", uint64(cfg.ImageSize), uint64(minBytes))
	}
	r, err := region.MapFile(cfg.Image, cfg.ImageSize, reserved)
	if err != nil {
		return nil, err
	}
	image := r.AccessibleSize()
	if err := r.MakeWritable(0, image); err != nil {
		_ = r.Close()
		return nil, err
	}
	if image > minBytes {
		// The image was rounded up to host pages past the last wasm page.
		// Only reachable when host pages exceed wasm pages.
		_ = r.Close()
		return nil, errors.LimitExceeded(errors.PhaseMemory, "mapped image", uint64(image), uint64(minBytes))
	}
	if err := r.MakeAccessible(image, minBytes-image); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Grow adds delta pages and returns the previous page count. On failure the
// memory is unchanged.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.Closed(errors.PhaseMemory, "memory")
	}
	old := uint32(m.bound.Load() / PageSize)
	next := uint64(old) + uint64(delta)
	if next > uint64(m.maxPages) {
		return old, errors.LimitExceeded(errors.PhaseMemory, "pages", next, uint64(m.maxPages))
	}
	if delta == 0 {
		return old, nil
	}

	start := uint64(old) * PageSize
	if err := m.region.MakeAccessible(int(start), int(uint64(delta)*PageSize)); err != nil {
		return old, errors.Wrap(errors.PhaseMemory, errors.KindProtection, err, "grow")
	}
	m.bound.Store(next * PageSize)

	Logger().Debug("memory grown", zap.Uint32("from", old), zap.Uint64("to", next))
	return old, nil
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 { return uint32(m.bound.Load() / PageSize) }

// Size returns the current size in bytes.
func (m *Memory) Size() uint64 { return m.bound.Load() }

// MaxPages returns the growth limit.
func (m *Memory) MaxPages() uint32 { return m.maxPages }

// Base returns the address of byte 0. It never changes.
func (m *Memory) Base() uintptr { return m.region.Base() }

// Region returns the backing region.
func (m *Memory) Region() *region.Region { return m.region }

// Descriptor returns the heap descriptor the planner should use for
// accesses to this memory.
func (m *Memory) Descriptor() *heap.Descriptor {
	d := m.desc
	return &d
}

// Globals returns the current values of the descriptor's global values.
func (m *Memory) Globals() map[heap.GlobalValue]uint64 {
	return map[heap.GlobalValue]uint64{
		GVBase:  uint64(m.Base()),
		GVBound: m.bound.Load(),
	}
}

// Bytes returns the accessible memory. The slice does not follow growth and
// must not be used after Close.
func (m *Memory) Bytes() []byte {
	n := m.bound.Load()
	return m.mem[:n:n]
}

// Reservation returns the whole reservation including guard pages.
func (m *Memory) Reservation() []byte { return m.mem }

// Close releases the reservation.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.bound.Store(0)
	return m.region.Close()
}

// access runs fn over the length bytes at offset while holding the read
// lock, so Close cannot unmap the region underneath it.
func (m *Memory) access(op string, offset, length uint32, fn func(b []byte)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.Closed(errors.PhaseMemory, "memory")
	}
	end := uint64(offset) + uint64(length)
	if bound := m.bound.Load(); end > bound {
		return errors.OutOfBounds(errors.PhaseMemory, op, uint64(offset), uint64(length), bound)
	}
	fn(m.mem[offset:end:end])
	return nil
}

// Read returns a view of length bytes at offset. The view aliases the
// mapping and must not be used after Close.
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	var view []byte
	err := m.access("read", offset, length, func(b []byte) { view = b })
	return view, err
}

// Write copies data to offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return errors.OutOfBounds(errors.PhaseMemory, "write", uint64(offset), uint64(len(data)), m.bound.Load())
	}
	return m.access("write", offset, uint32(len(data)), func(b []byte) { copy(b, data) })
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Memory) ReadU8(offset uint32) (v uint8, err error) {
	err = m.access("read", offset, 1, func(b []byte) { v = b[0] })
	return v, err
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Memory) ReadU16(offset uint32) (v uint16, err error) {
	err = m.access("read", offset, 2, func(b []byte) { v = binary.LittleEndian.Uint16(b) })
	return v, err
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(offset uint32) (v uint32, err error) {
	err = m.access("read", offset, 4, func(b []byte) { v = binary.LittleEndian.Uint32(b) })
	return v, err
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Memory) ReadU64(offset uint32) (v uint64, err error) {
	err = m.access("read", offset, 8, func(b []byte) { v = binary.LittleEndian.Uint64(b) })
	return v, err
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Memory) WriteU8(offset uint32, value uint8) error {
	return m.access("write", offset, 1, func(b []byte) { b[0] = value })
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Memory) WriteU16(offset uint32, value uint16) error {
	return m.access("write", offset, 2, func(b []byte) { binary.LittleEndian.PutUint16(b, value) })
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(offset uint32, value uint32) error {
	return m.access("write", offset, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, value) })
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Memory) WriteU64(offset uint32, value uint64) error {
	return m.access("write", offset, 8, func(b []byte) { binary.LittleEndian.PutUint64(b, value) })
}

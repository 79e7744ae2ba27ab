package engine

import (
	"sync"

	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/memory"
	"github.com/wippyai/heapguard/tunables"
)

// Allocator backs wazero linear memories with guarded regions. Every
// memory it hands out keeps its base address for its whole lifetime, so it
// also satisfies wazero's requirement for shared memories.
type Allocator struct {
	tunables *tunables.Tunables
	live     map[*linearMemory]struct{}
	mu       sync.Mutex
}

var _ experimental.MemoryAllocator = (*Allocator)(nil)

// NewAllocator creates an allocator laying memories out per t.
func NewAllocator(t *tunables.Tunables) *Allocator {
	if t == nil {
		t = tunables.Default()
	}
	return &Allocator{tunables: t, live: make(map[*linearMemory]struct{})}
}

// allocationFailure is raised from Allocate, which has no error result, and
// recovered around instantiation.
type allocationFailure struct {
	err error
}

// Allocate implements experimental.MemoryAllocator. Sizes are in bytes.
func (a *Allocator) Allocate(capacity, maxBytes uint64) experimental.LinearMemory {
	lm, err := a.allocate(capacity, maxBytes)
	if err != nil {
		Logger().Warn("linear memory allocation failed",
			zap.Uint64("cap", capacity),
			zap.Uint64("max", maxBytes),
			zap.Error(err))
		panic(allocationFailure{err: err})
	}
	return lm
}

func (a *Allocator) allocate(capacity, maxBytes uint64) (*linearMemory, error) {
	maxPages := maxBytes / memory.PageSize
	if maxPages > uint64(a.tunables.MaxPages) {
		return nil, errors.LimitExceeded(errors.PhaseEngine, "memory maximum pages", maxPages, uint64(a.tunables.MaxPages))
	}
	cfgMax := uint32(maxPages)
	if cfgMax == 0 {
		// Zero would select the tunables default; the limit below keeps
		// the memory at zero pages.
		cfgMax = 1
	}

	mem, err := memory.New(memory.Config{
		Tunables: a.tunables,
		MaxPages: cfgMax,
	})
	if err != nil {
		return nil, err
	}
	lm := &linearMemory{alloc: a, mem: mem, limit: maxBytes}

	a.mu.Lock()
	a.live[lm] = struct{}{}
	a.mu.Unlock()

	Logger().Debug("linear memory allocated",
		zap.Uint64("cap", capacity),
		zap.Uint64("max", maxBytes),
		zap.Stringer("style", mem.Descriptor().Style))
	return lm, nil
}

// Live returns the number of memories not yet freed.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close frees every live memory.
func (a *Allocator) Close() error {
	a.mu.Lock()
	live := a.live
	a.live = make(map[*linearMemory]struct{})
	a.mu.Unlock()

	var err error
	for lm := range live {
		err = multierr.Append(err, lm.mem.Close())
	}
	return err
}

func (a *Allocator) release(lm *linearMemory) error {
	a.mu.Lock()
	_, ok := a.live[lm]
	delete(a.live, lm)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return lm.mem.Close()
}

// linearMemory adapts memory.Memory to experimental.LinearMemory.
type linearMemory struct {
	alloc *Allocator
	mem   *memory.Memory
	limit uint64
}

// Reallocate grows the memory to size bytes and returns the accessible
// bytes, or nil if it cannot.
func (l *linearMemory) Reallocate(size uint64) []byte {
	if size > l.limit {
		return nil
	}
	want := size / memory.PageSize
	if cur := uint64(l.mem.Pages()); want > cur {
		if _, err := l.mem.Grow(uint32(want - cur)); err != nil {
			Logger().Debug("linear memory grow refused", zap.Uint64("size", size), zap.Error(err))
			return nil
		}
	}
	return l.mem.Bytes()[:size]
}

// Free releases the reservation.
func (l *linearMemory) Free() {
	if err := l.alloc.release(l); err != nil {
		Logger().Warn("linear memory release failed", zap.Error(err))
	}
}

// scopedAllocator records the memories allocated during one instantiation.
type scopedAllocator struct {
	*Allocator
	memories []*linearMemory
}

func (s *scopedAllocator) Allocate(capacity, maxBytes uint64) experimental.LinearMemory {
	lm := s.Allocator.Allocate(capacity, maxBytes).(*linearMemory)
	s.memories = append(s.memories, lm)
	return lm
}

func (s *scopedAllocator) free() {
	for _, lm := range s.memories {
		lm.Free()
	}
	s.memories = nil
}

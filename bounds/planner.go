// Package bounds decides, per guest memory access, how the access is kept
// inside its linear memory.
//
// The Planner is a pure function of the heap descriptor, the static offset
// and access size, and the Config. It never looks at the run-time index:
//
//	p := bounds.NewPlanner(bounds.Config{SpectreMitigations: true, PointerWidth: 64})
//	plan := p.Plan(desc, offset, 4)
//	switch plan := plan.(type) {
//	case bounds.UnconditionalTrap:
//	case bounds.DirectAddress:
//	case bounds.ExplicitCheck:
//	case bounds.SpeculativeGuard:
//	}
//
// Static memories whose bound plus guard covers the whole 32-bit index
// space get DirectAddress and emit no check at all; that proof is only
// sound while the region backing the memory really reserves that guard.
package bounds

import (
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/wippyai/heapguard/heap"
)

// Config is the process-wide input to planning.
type Config struct {
	// SpectreMitigations selects SpeculativeGuard over ExplicitCheck.
	SpectreMitigations bool
	// PointerWidth of the compilation target, 32 or 64. Guard elision is
	// only attempted on 64-bit targets. Zero means 64.
	PointerWidth int
}

func (c Config) pointerWidth() int {
	if c.PointerWidth == 0 {
		return 64
	}
	return c.PointerWidth
}

// Planner produces a Plan per access site.
type Planner struct {
	counts [numKinds]atomic.Uint64
	cfg    Config
}

// NewPlanner creates a planner for cfg.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Config returns the planner's configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan decides how an access of accessSize bytes at index+offset into h is
// bounds checked. accessSize is at most 16.
func (p *Planner) Plan(h *heap.Descriptor, offset uint32, accessSize uint8) Plan {
	plan := p.decide(h, offset, accessSize)
	p.counts[plan.Kind()].Add(1)
	return plan
}

func (p *Planner) decide(h *heap.Descriptor, offset uint32, accessSize uint8) Plan {
	offsetAndSize := uint64(offset) + uint64(accessSize)

	switch style := h.Style.(type) {
	case heap.Dynamic:
		switch {
		case offsetAndSize == 1:
			return p.check(Check{Cond: CondUGE, Index: Index{}, Bound: RuntimeBound{}})
		case offsetAndSize <= h.MinSize:
			// bound >= MinSize, so bound - offsetAndSize cannot wrap.
			return p.check(Check{Cond: CondUGT, Index: Index{}, Bound: RuntimeBoundMinus{Sub: offsetAndSize}})
		default:
			return p.check(Check{Cond: CondUGT, Index: IndexPlus{Addend: offsetAndSize}, Bound: RuntimeBound{}})
		}

	case heap.Static:
		bound := style.Bound
		if offsetAndSize > bound {
			return UnconditionalTrap{}
		}
		if h.IndexType == heap.I32 && p.cfg.pointerWidth() == 64 && coversIndexSpace(bound, h.OffsetGuardSize, offsetAndSize) {
			return DirectAddress{}
		}
		return p.check(Check{Cond: CondUGT, Index: Index{}, Bound: ConstBound{Value: bound - offsetAndSize}})

	default:
		panic("bounds: heap descriptor has no style")
	}
}

// coversIndexSpace reports u32::MAX <= bound + guard - offsetAndSize.
// The sum is evaluated first and the proof is abandoned if it carries;
// offsetAndSize <= bound is established by the caller.
func coversIndexSpace(bound, guard, offsetAndSize uint64) bool {
	sum, carry := bits.Add64(bound, guard, 0)
	if carry != 0 {
		return false
	}
	return uint64(math.MaxUint32) <= sum-offsetAndSize
}

func (p *Planner) check(c Check) Plan {
	if p.cfg.SpectreMitigations {
		return SpeculativeGuard{Check: c}
	}
	return ExplicitCheck{Check: c}
}

// Stats is a snapshot of how many plans of each kind were produced.
type Stats struct {
	UnconditionalTrap uint64
	DirectAddress     uint64
	ExplicitCheck     uint64
	SpeculativeGuard  uint64
}

// Total returns the number of planned access sites.
func (s Stats) Total() uint64 {
	return s.UnconditionalTrap + s.DirectAddress + s.ExplicitCheck + s.SpeculativeGuard
}

// Stats returns the plan counters.
func (p *Planner) Stats() Stats {
	return Stats{
		UnconditionalTrap: p.counts[KindUnconditionalTrap].Load(),
		DirectAddress:     p.counts[KindDirectAddress].Load(),
		ExplicitCheck:     p.counts[KindExplicitCheck].Load(),
		SpeculativeGuard:  p.counts[KindSpeculativeGuard].Load(),
	}
}

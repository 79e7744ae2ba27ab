package wasmgen_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/codegen/ir"
	"github.com/wippyai/heapguard/codegen/wasmgen"
	hgerrors "github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
)

const (
	gvBase  heap.GlobalValue = 0
	gvBound heap.GlobalValue = 1

	wasmPage = 1 << 16
	base     = 0x10_0000
)

type site struct {
	name    string
	heap    *heap.Descriptor
	offset  uint32
	size    uint8
	spectre bool
}

func sites() []site {
	dyn := func(idx heap.IndexType) *heap.Descriptor {
		return &heap.Descriptor{
			Style:           heap.Dynamic{Bound: gvBound},
			Base:            gvBase,
			MinSize:         wasmPage,
			OffsetGuardSize: wasmPage,
			IndexType:       idx,
		}
	}
	static := func(bound, guard uint64) *heap.Descriptor {
		return &heap.Descriptor{
			Style:           heap.Static{Bound: bound},
			Base:            gvBase,
			MinSize:         wasmPage,
			OffsetGuardSize: guard,
			IndexType:       heap.I32,
		}
	}
	return []site{
		{name: "static trap", heap: static(wasmPage, 0), offset: wasmPage, size: 1},
		{name: "static direct", heap: static(1<<32, 1<<32), offset: 16, size: 8},
		{name: "static check", heap: static(wasmPage, 0), offset: 16, size: 8},
		{name: "static guard", heap: static(wasmPage, 0), offset: 16, size: 8, spectre: true},
		{name: "dynamic single byte", heap: dyn(heap.I32), offset: 0, size: 1},
		{name: "dynamic within min", heap: dyn(heap.I32), offset: 4, size: 4},
		{name: "dynamic beyond min", heap: dyn(heap.I64), offset: wasmPage, size: 8},
		{name: "dynamic beyond min guarded", heap: dyn(heap.I64), offset: wasmPage, size: 8, spectre: true},
		{name: "dynamic i64 within min guarded", heap: dyn(heap.I64), offset: 8, size: 8, spectre: true},
	}
}

var indices = []uint64{
	0, 1, 7, 8, wasmPage - 24, wasmPage - 16, wasmPage - 8, wasmPage - 1, wasmPage,
	2 * wasmPage, math.MaxUint32, 1 << 32, math.MaxUint64 - wasmPage, math.MaxUint64,
}

func TestCompiled_MatchesEval(t *testing.T) {
	ctx := context.Background()
	r, err := wasmgen.NewRunner(ctx)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer r.Close(ctx)

	for _, s := range sites() {
		t.Run(s.name, func(t *testing.T) {
			e := codegen.NewEmitter(bounds.NewPlanner(bounds.Config{SpectreMitigations: s.spectre}))
			f, _, err := ir.Build(e, "addr", s.heap, s.offset, s.size)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			p, err := r.Load(ctx, f)
			if err != nil {
				t.Fatalf("Load: %v\n%s", err, f)
			}
			defer p.Close(ctx)

			for _, bound := range []uint64{wasmPage, 2 * wasmPage} {
				for _, idx := range indices {
					env := ir.Env{Index: idx, Globals: map[heap.GlobalValue]uint64{gvBase: base, gvBound: bound}}
					want, wantErr := f.Eval(env)
					got, gotErr := p.Call(ctx, env)

					if (wantErr == nil) != (gotErr == nil) {
						t.Fatalf("index %#x bound %#x: eval err %v, wasm err %v", idx, bound, wantErr, gotErr)
					}
					if wantErr != nil {
						if !errors.Is(gotErr, wantErr) {
							t.Errorf("index %#x: wasm trap %v, want %v", idx, gotErr, wantErr)
						}
						continue
					}
					if got != want {
						t.Errorf("index %#x bound %#x: wasm %#x, eval %#x", idx, bound, got, want)
					}
				}
			}
		})
	}
}

func TestCompiled_TrapCode(t *testing.T) {
	ctx := context.Background()
	r, err := wasmgen.NewRunner(ctx)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer r.Close(ctx)

	h := &heap.Descriptor{
		Style:     heap.Static{Bound: wasmPage},
		Base:      gvBase,
		MinSize:   wasmPage,
		IndexType: heap.I32,
	}
	f, _, err := ir.Build(codegen.NewEmitter(bounds.NewPlanner(bounds.Config{})), "addr", h, 0, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := r.Load(ctx, f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env := ir.Env{Globals: map[heap.GlobalValue]uint64{gvBase: base}}

	env.Index = wasmPage - 3
	_, err = p.Call(ctx, env)
	if !errors.Is(err, hgerrors.ErrHeapOutOfBounds) {
		t.Fatalf("err = %v, want heap out of bounds trap", err)
	}

	// The recorded code must not leak into the next call.
	env.Index = wasmPage - 4
	got, err := p.Call(ctx, env)
	if err != nil {
		t.Fatalf("in-bounds call: %v", err)
	}
	if got != base+wasmPage-4 {
		t.Errorf("addr = %#x", got)
	}
}

func TestCompiled_UnboundGlobal(t *testing.T) {
	ctx := context.Background()
	r, err := wasmgen.NewRunner(ctx)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	defer r.Close(ctx)

	h := &heap.Descriptor{
		Style:     heap.Static{Bound: wasmPage},
		Base:      gvBase,
		MinSize:   wasmPage,
		IndexType: heap.I32,
	}
	f, _, err := ir.Build(codegen.NewEmitter(bounds.NewPlanner(bounds.Config{})), "addr", h, 0, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := r.Load(ctx, f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err = p.Call(ctx, ir.Env{})
	var e *hgerrors.Error
	if !errors.As(err, &e) || e.Kind != hgerrors.KindInvalidInput {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestCompile_TrapOnlyFunction(t *testing.T) {
	h := &heap.Descriptor{
		Style:     heap.Static{Bound: wasmPage},
		Base:      gvBase,
		MinSize:   wasmPage,
		IndexType: heap.I64,
	}
	f, addr, err := ir.Build(codegen.NewEmitter(bounds.NewPlanner(bounds.Config{})), "addr", h, math.MaxUint32, 16)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if addr.Reachable {
		t.Fatal("expected unreachable address")
	}
	bin, err := wasmgen.Compile(f)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(bin) < 8 || string(bin[:4]) != "\x00asm" {
		t.Errorf("bad module header % x", bin[:8])
	}
}

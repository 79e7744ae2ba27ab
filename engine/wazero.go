package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/heapguard"
	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/memory"
	"github.com/wippyai/heapguard/tunables"
)

// WazeroEngine runs modules on wazero with region-backed linear memories.
type WazeroEngine struct {
	runtime  wazero.Runtime
	alloc    *Allocator
	tunables *tunables.Tunables
	emitter  *codegen.Emitter
}

// Config holds configuration for engine creation
type Config struct {
	// Tunables decides memory layout and bounds-check strategy.
	// Nil means tunables.Default.
	Tunables *tunables.Tunables

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means Tunables.MaxPages.
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	// Shared memories are safe because guarded memories never move.
	EnableThreads bool
}

// NewWazeroEngine creates an engine with default tunables.
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	t := cfg.Tunables
	if t == nil {
		t = tunables.Default()
	}
	t = t.Clone()
	if cfg.MemoryLimitPages > 0 && cfg.MemoryLimitPages < t.MaxPages {
		t.MaxPages = cfg.MemoryLimitPages
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(t.MaxPages)
	if cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	e := &WazeroEngine{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		alloc:    NewAllocator(t),
		tunables: t,
		emitter:  codegen.NewEmitter(bounds.NewPlanner(t.BoundsConfig())),
	}
	Logger().Debug("engine created",
		zap.Uint32("max_pages", t.MaxPages),
		zap.Bool("spectre", t.SpectreMitigations),
		zap.Uint64("static_reservation", t.StaticReservation))
	return e, nil
}

// Runtime returns the underlying wazero runtime.
func (e *WazeroEngine) Runtime() wazero.Runtime { return e.runtime }

// Tunables returns the effective tunables.
func (e *WazeroEngine) Tunables() *tunables.Tunables { return e.tunables }

// Emitter returns an emitter configured from the tunables.
func (e *WazeroEngine) Emitter() *codegen.Emitter { return e.emitter }

// Allocator returns the memory allocator shared by all instances.
func (e *WazeroEngine) Allocator() *Allocator { return e.alloc }

// Close closes the runtime and frees every memory still allocated.
func (e *WazeroEngine) Close(ctx context.Context) error {
	return multierr.Append(e.runtime.Close(ctx), e.alloc.Close())
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
}

// LoadModule compiles a core module.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}
	return &WazeroModule{engine: e, compiled: compiled}, nil
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Name string
}

// WazeroInstance is an instantiated module and the memories it owns.
type WazeroInstance struct {
	module   api.Module
	memories []*linearMemory
}

// Instantiate creates an instance whose memories are guarded regions.
func (m *WazeroModule) Instantiate(ctx context.Context, cfg *InstanceConfig) (inst *WazeroInstance, err error) {
	modCfg := wazero.NewModuleConfig()
	if cfg != nil && cfg.Name != "" {
		modCfg = modCfg.WithName(cfg.Name)
	} else {
		modCfg = modCfg.WithName("")
	}

	scope := &scopedAllocator{Allocator: m.engine.alloc}
	ctx = experimental.WithMemoryAllocator(ctx, scope)

	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(allocationFailure)
			if !ok {
				panic(r)
			}
			scope.free()
			inst, err = nil, f.err
		}
	}()

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		scope.free()
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}
	return &WazeroInstance{module: mod, memories: scope.memories}, nil
}

// Module returns the wazero module.
func (i *WazeroInstance) Module() api.Module { return i.module }

// Memories returns the guarded memories owned by the instance, in
// definition order.
func (i *WazeroInstance) Memories() []*memory.Memory {
	out := make([]*memory.Memory, len(i.memories))
	for n, lm := range i.memories {
		out[n] = lm.mem
	}
	return out
}

// Memory returns host access to the instance's default memory: the guarded
// memory when the instance defines it, otherwise the memory it imports.
// It returns nil when the module has no memory.
func (i *WazeroInstance) Memory() heapguard.Memory {
	if len(i.memories) > 0 {
		return i.memories[0].mem
	}
	return WrapMemory(i.module.Memory())
}

// Call invokes an exported function. Out-of-bounds memory accesses are
// reported as a heap out-of-bounds trap wrapping the wazero error.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindInvalidInput).
			Op("call").Value(name).
			Detail("export %q not found", name).Build()
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, classifyTrap(err)
	}
	return res, nil
}

// wazero reports traps through unexported error values; match on the
// message it formats them with.
var trapMessages = []struct {
	msg  string
	code errors.TrapCode
}{
	{"out of bounds memory access", errors.TrapHeapOutOfBounds},
	{"integer overflow", errors.TrapIntegerOverflow},
	{"unreachable", errors.TrapUnreachable},
}

func classifyTrap(err error) error {
	msg := err.Error()
	for _, t := range trapMessages {
		if strings.Contains(msg, t.msg) {
			return fmt.Errorf("%w: %w", errors.NewTrap(t.code), err)
		}
	}
	return err
}

// Close closes the module and frees its memories.
func (i *WazeroInstance) Close(ctx context.Context) error {
	err := i.module.Close(ctx)
	for _, lm := range i.memories {
		err = multierr.Append(err, lm.alloc.release(lm))
	}
	i.memories = nil
	return err
}

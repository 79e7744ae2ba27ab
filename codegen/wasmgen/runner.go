package wasmgen

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/heapguard/codegen/ir"
	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
)

// Runner executes compiled address functions on a wazero runtime.
// Calls are serialized because the trap hook reports through shared state.
type Runner struct {
	runtime wazero.Runtime
	mu      sync.Mutex
	trap    errors.TrapCode
}

// NewRunner creates a runtime with the env.trap hook installed.
func NewRunner(ctx context.Context) (*Runner, error) {
	r := &Runner{runtime: wazero.NewRuntime(ctx)}

	_, err := r.runtime.NewHostModuleBuilder(TrapModule).
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
			r.trap = errors.TrapCode(api.DecodeU32(stack[0]))
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export(TrapFunc).
		Instantiate(ctx)
	if err != nil {
		_ = r.runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "instantiate trap hook")
	}
	return r, nil
}

// Close releases the runtime and every program loaded into it.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Program is one loaded address function.
type Program struct {
	runner  *Runner
	mod     api.Module
	fn      api.Function
	globals []heap.GlobalValue
	index   ir.Type
}

// Load compiles and instantiates f.
func (r *Runner) Load(ctx context.Context, f *ir.Func) (*Program, error) {
	bin, err := Compile(f)
	if err != nil {
		return nil, err
	}
	compiled, err := r.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", f.Name(), err)
	}
	// Anonymous instances so one runner can hold many programs.
	mod, err := r.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", f.Name(), err)
	}
	return &Program{
		runner:  r,
		mod:     mod,
		fn:      mod.ExportedFunction(ExportName),
		globals: f.Globals(),
		index:   f.Param(),
	}, nil
}

// Call evaluates the program on env. Traps are returned as *errors.Trap.
func (p *Program) Call(ctx context.Context, env ir.Env) (uint64, error) {
	params := make([]uint64, 0, 1+len(p.globals))
	if p.index == ir.I32 {
		params = append(params, api.EncodeU32(uint32(env.Index)))
	} else {
		params = append(params, env.Index)
	}
	for _, gv := range p.globals {
		v, ok := env.Globals[gv]
		if !ok {
			return 0, errors.InvalidInput(errors.PhaseRuntime, "unbound global value "+gv.String())
		}
		params = append(params, v)
	}

	r := p.runner
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trap = 0

	res, err := p.fn.Call(ctx, params...)
	if r.trap != 0 {
		return 0, errors.NewTrap(r.trap)
	}
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindFault, err, "call "+ExportName)
	}
	return res[0], nil
}

// Close releases the program's module instance.
func (p *Program) Close(ctx context.Context) error {
	return p.mod.Close(ctx)
}

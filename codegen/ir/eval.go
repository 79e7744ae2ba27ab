package ir

import (
	"fmt"

	"github.com/wippyai/heapguard/errors"
	"github.com/wippyai/heapguard/heap"
)

// Env supplies the concrete inputs of one evaluation.
type Env struct {
	Globals map[heap.GlobalValue]uint64
	Index   uint64
}

// Eval runs f on env and returns the effective address. A trapping run
// returns a *errors.Trap.
func (f *Func) Eval(env Env) (uint64, error) {
	vals := make([]uint64, len(f.types))
	vals[0] = env.Index
	if f.types[0] == I32 {
		vals[0] = uint64(uint32(env.Index))
	}

	for _, inst := range f.insts {
		var r uint64
		switch inst.Op {
		case OpGlobalValue:
			v, ok := env.Globals[inst.GV]
			if !ok {
				return 0, errors.InvalidInput(errors.PhaseRuntime, "unbound global value "+inst.GV.String())
			}
			r = v
		case OpIconst:
			r = inst.Imm
		case OpUextend:
			r = uint64(uint32(vals[inst.Args[0]]))
		case OpIadd:
			r = vals[inst.Args[0]] + vals[inst.Args[1]]
		case OpIaddOverflowTrap:
			a, b := vals[inst.Args[0]], vals[inst.Args[1]]
			r = a + b
			if r < a {
				return 0, errors.NewTrap(inst.Code)
			}
		case OpIsub:
			r = vals[inst.Args[0]] - vals[inst.Args[1]]
		case OpIcmp:
			if inst.Cond.Holds(vals[inst.Args[0]], vals[inst.Args[1]]) {
				r = 1
			}
		case OpTrapIf:
			if vals[inst.Args[0]] != 0 {
				return 0, errors.NewTrap(inst.Code)
			}
			continue
		case OpTrap:
			return 0, errors.NewTrap(inst.Code)
		case OpSelect:
			if vals[inst.Args[0]] != 0 {
				r = vals[inst.Args[1]]
			} else {
				r = vals[inst.Args[2]]
			}
		default:
			panic(fmt.Sprintf("ir: cannot evaluate %s", inst.Op))
		}
		vals[inst.Result] = r
	}

	if !f.hasRet {
		return 0, errors.NewTrap(errors.TrapUnreachable)
	}
	return vals[f.ret], nil
}

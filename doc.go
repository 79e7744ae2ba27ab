// Package heapguard decides, for every WebAssembly linear memory access,
// whether an explicit bounds check is needed, and provides the guarded
// memory reservations that make skipping it safe.
//
// # Architecture Overview
//
//	heapguard/           Root package with the host Memory interface
//	├── heap/            Heap descriptors: static or dynamic bound, guard size, index width
//	├── bounds/          The bounds-check planner
//	├── codegen/         Address emission against an abstract instruction builder
//	│   ├── ir/          Straight-line reference builder with an evaluator
//	│   └── wasmgen/     Lowering of emitted code to WebAssembly, run on wazero
//	├── region/          Guarded virtual memory reservations
//	├── memory/          Linear memories on regions
//	├── engine/          wazero integration through a region-backed memory allocator
//	├── tunables/        Reservation, guard and mitigation settings
//	├── wasm/            Core WASM binary encoding
//	├── errors/          Structured error and trap types
//	└── cmd/heapguard/   Command line planner, emitter and probe
//
// # Planning
//
// For an access of size bytes at index+offset the planner chooses one of:
//
//	trap    the access can never be in bounds
//	direct  every address the index can form lands in the reservation,
//	        so the guard pages catch anything out of bounds
//	check   compare and trap
//	guard   compare and clamp the address to null, for Spectre hardening
//
//	p := bounds.NewPlanner(tunables.Default().BoundsConfig())
//	plan := p.Plan(mem.Descriptor(), offset, 8)
//
// # Memory
//
// A memory.Memory reserves its maximum size plus guard up front and commits
// pages as it grows. Its base address never changes and bytes past its
// current size fault, which is what makes the direct plan sound.
package heapguard

// Package codegen turns bounds-check plans into address computations.
//
// The Emitter asks a bounds.Planner for the plan of an access site and
// realizes it through a Builder, the small set of integer primitives a code
// generator provides:
//
//	UnconditionalTrap  trap heap_out_of_bounds; the site is dead
//	DirectAddress      base + index + offset
//	ExplicitCheck      trap_if(cmp); base + index + offset
//	SpeculativeGuard   select(cmp, 0, base + index + offset)
//
// In the speculative form neither the address nor the comparison is
// behind a branch, so a mispredicted path observes the null address rather
// than the out-of-range one.
//
// Two builders live in sub-packages: ir records a straight-line function
// that can be printed and evaluated, and wasmgen lowers that function to a
// WebAssembly module executed on wazero.
package codegen

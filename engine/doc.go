// Package engine runs WebAssembly modules on wazero with guarded linear
// memories.
//
// Every memory a module defines is allocated through Allocator, which
// implements wazero's experimental.MemoryAllocator on top of memory.Memory.
// The memory is laid out by the engine's tunables: a static reservation
// with a trailing guard when its maximum fits, a dynamic one otherwise.
// Growth commits pages in place, so the base address is stable for the
// life of the instance.
//
// # Architecture
//
//	WazeroEngine   - owns the wazero runtime, the allocator and the emitter
//	WazeroModule   - a compiled core module
//	WazeroInstance - an instantiated module and the memories it owns
//
// # Usage
//
//	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
//		Tunables: tunables.Default(),
//	})
//	if err != nil {
//		return err
//	}
//	defer eng.Close(ctx)
//
//	mod, err := eng.LoadModule(ctx, wasmBytes)
//	inst, err := mod.Instantiate(ctx, nil)
//	res, err := inst.Call(ctx, "run")
//
// Out-of-bounds accesses surface from Call as an error matching
// errors.ErrHeapOutOfBounds.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
package engine

package ir

import (
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/heap"
)

// Build emits one access site into a fresh function named name and returns
// it together with the emitted address.
func Build(e *codegen.Emitter, name string, h *heap.Descriptor, offset uint32, accessSize uint8) (*Func, codegen.Address, error) {
	if err := h.Validate(); err != nil {
		return nil, codegen.Address{}, err
	}
	f, index := NewFunc(name, h.IndexType)
	addr, err := e.Emit(f, h, index, offset, accessSize)
	if err != nil {
		return nil, codegen.Address{}, err
	}
	if addr.Reachable {
		f.Return(addr.Value)
	}
	return f, addr, nil
}

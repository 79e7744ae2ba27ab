package engine

import (
	"encoding/binary"
	"math"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/heapguard"
	"github.com/wippyai/heapguard/errors"
)

// WrapMemory exposes a wazero memory the engine did not allocate, such as
// one imported from another instance, as a heapguard.Memory.
func WrapMemory(mem api.Memory) heapguard.Memory {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts api.Memory. Every access is bounds-checked against the
// size at the time of the call.
type Wrapper struct {
	Mem api.Memory
}

var _ heapguard.Memory = (*Wrapper)(nil)

// view returns the n bytes at offset, aliasing guest memory.
func (m *Wrapper) view(op string, offset uint32, n uint32) ([]byte, error) {
	b, ok := m.Mem.Read(offset, n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseEngine, op, uint64(offset), uint64(n), m.Size())
	}
	return b, nil
}

func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	return m.view("read", offset, length)
}

func (m *Wrapper) Write(offset uint32, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return errors.OutOfBounds(errors.PhaseEngine, "write", uint64(offset), uint64(len(data)), m.Size())
	}
	b, err := m.view("write", offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	b, err := m.view("read", offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	b, err := m.view("read", offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	b, err := m.view("read", offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	b, err := m.view("read", offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	b, err := m.view("write", offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	b, err := m.view("write", offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	b, err := m.view("write", offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	b, err := m.view("write", offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

// Size returns the memory size in bytes.
func (m *Wrapper) Size() uint64 {
	return uint64(m.Mem.Size())
}

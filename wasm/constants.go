package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs emitted by the encoder, in the order they must appear.
const (
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionMemory   byte = 5
	SectionExport   byte = 7
	SectionCode     byte = 10
)

// Import/Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindMemory byte = 2
)

// Value type encodings.
const (
	ValI32 ValType = 0x7F
	ValI64 ValType = 0x7E
)

// FuncTypeByte prefixes a function type in the type section.
const FuncTypeByte byte = 0x60

// BlockTypeVoid is the empty block type.
const BlockTypeVoid byte = 0x40

// Limits flags for memory types.
const (
	LimitsHasMax   byte = 0x01
	LimitsMemory64 byte = 0x04
)

// Control and variable opcodes.
const (
	OpUnreachable byte = 0x00
	OpIf          byte = 0x04
	OpEnd         byte = 0x0B
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpSelect      byte = 0x1B
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
)

// Memory and numeric opcodes.
const (
	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
	OpI32Const   byte = 0x41
	OpI64Const   byte = 0x42
	OpI64LtU     byte = 0x54
	OpI64GtU     byte = 0x56
	OpI64GeU     byte = 0x5A
	OpI64Add     byte = 0x7C
	OpI64Sub     byte = 0x7D
	OpI32WrapI64 byte = 0xA7
	OpI64ExtendU byte = 0xAD
)

package wasm

import (
	"github.com/wippyai/heapguard/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	sec := binary.NewWriter()

	if len(m.Types) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		w.WriteSection(SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			if imp.Memory != nil {
				sec.Byte(KindMemory)
				writeLimits(sec, *imp.Memory)
				continue
			}
			sec.Byte(KindFunc)
			sec.WriteU32(imp.TypeIdx)
		}
		w.WriteSection(SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		w.WriteSection(SectionFunction, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem)
		}
		w.WriteSection(SectionMemory, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		w.WriteSection(SectionExport, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec.Reset()
		sec.WriteU32(uint32(len(m.Code)))
		body := binary.NewWriter()
		for _, fb := range m.Code {
			body.Reset()
			body.WriteU32(uint32(len(fb.Locals)))
			for _, local := range fb.Locals {
				body.WriteU32(local.Count)
				body.Byte(byte(local.ValType))
			}
			body.WriteBytes(fb.Code)
			sec.WriteU32(uint32(body.Len()))
			sec.WriteBytes(body.Bytes())
		}
		w.WriteSection(SectionCode, sec.Bytes())
	}

	return w.Bytes()
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)

	if l.Memory64 {
		w.WriteU64(l.Min)
		if l.Max != nil {
			w.WriteU64(*l.Max)
		}
	} else {
		w.WriteU32(uint32(l.Min))
		if l.Max != nil {
			w.WriteU32(uint32(*l.Max))
		}
	}
}

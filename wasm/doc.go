// Package wasm provides WebAssembly binary encoding.
//
// It covers the module subset heapguard generates: function types, function
// imports, functions, memories, exports and code. Generated modules are
// executed by wazero, which performs full validation.
//
// # Encoding
//
//	m := &wasm.Module{}
//	ti := m.AddFuncType(wasm.FuncType{
//		Params:  []wasm.ValType{wasm.ValI64, wasm.ValI64},
//		Results: []wasm.ValType{wasm.ValI64},
//	})
//	m.Funcs = append(m.Funcs, ti)
//	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc, Idx: 0})
//	code := wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI64Add).End()
//	m.Code = append(m.Code, wasm.FuncBody{Code: code.Bytes()})
//	bin := m.Encode()
package wasm

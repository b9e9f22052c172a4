package testutil

import (
	"encoding/binary"
	"strings"
)

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// FuncType is a WebAssembly function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (t FuncType) key() string {
	var b strings.Builder
	for _, p := range t.Params {
		b.WriteByte(byte(p))
	}
	b.WriteByte('>')
	for _, r := range t.Results {
		b.WriteByte(byte(r))
	}
	return b.String()
}

type wasmImport struct {
	module, name string
	typ          uint32
}

type wasmFunc struct {
	export string
	body   []byte
	typ    uint32
}

type wasmData struct {
	bytes  []byte
	offset uint32
}

// WasmModule assembles a small WebAssembly binary by hand. It covers the
// subset of the format the host tests need: one memory, mutable i32
// globals, imports, function exports, and active data segments.
type WasmModule struct {
	types    []FuncType
	imports  []wasmImport
	funcs    []wasmFunc
	globals  []int32
	data     []wasmData
	memPages uint32
}

// NewWasmModule starts a module with a memory of pages 64KiB pages.
func NewWasmModule(pages uint32) *WasmModule {
	return &WasmModule{memPages: pages}
}

func (m *WasmModule) typeIndex(t FuncType) uint32 {
	for i, have := range m.types {
		if have.key() == t.key() {
			return uint32(i)
		}
	}
	m.types = append(m.types, t)
	return uint32(len(m.types) - 1)
}

// Import declares an imported function and returns its function index.
// Imports must be declared before any Func.
func (m *WasmModule) Import(module, name string, t FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasm: imports must precede functions")
	}
	m.imports = append(m.imports, wasmImport{module: module, name: name, typ: m.typeIndex(t)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function from instruction bytes, exports it under export
// when non-empty, and returns its function index. The closing end opcode is
// appended.
func (m *WasmModule) Func(export string, t FuncType, code ...[]byte) uint32 {
	var body []byte
	for _, c := range code {
		body = append(body, c...)
	}
	body = append(body, opEnd)
	m.funcs = append(m.funcs, wasmFunc{export: export, typ: m.typeIndex(t), body: body})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Global declares a mutable i32 global and returns its index.
func (m *WasmModule) Global(init int32) uint32 {
	m.globals = append(m.globals, init)
	return uint32(len(m.globals) - 1)
}

// Data places b at offset and returns the packed ptr<<32|len of the region.
func (m *WasmModule) Data(offset uint32, b []byte) int64 {
	m.data = append(m.data, wasmData{offset: offset, bytes: b})
	return int64(offset)<<32 | int64(len(b))
}

// Bytes encodes the module.
func (m *WasmModule) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm'}
	out = binary.LittleEndian.AppendUint32(out, 1)

	var types []byte
	for _, t := range m.types {
		types = append(types, 0x60)
		types = append(types, valTypes(t.Params)...)
		types = append(types, valTypes(t.Results)...)
	}
	out = section(out, 1, len(m.types), types)

	var imports []byte
	for _, im := range m.imports {
		imports = append(imports, name(im.module)...)
		imports = append(imports, name(im.name)...)
		imports = append(imports, 0x00)
		imports = append(imports, uleb(uint64(im.typ))...)
	}
	out = section(out, 2, len(m.imports), imports)

	var funcs []byte
	for _, f := range m.funcs {
		funcs = append(funcs, uleb(uint64(f.typ))...)
	}
	out = section(out, 3, len(m.funcs), funcs)

	out = section(out, 5, 1, append([]byte{0x00}, uleb(uint64(m.memPages))...))

	var globals []byte
	for _, g := range m.globals {
		globals = append(globals, byte(I32), 0x01)
		globals = append(globals, I32Const(g)...)
		globals = append(globals, opEnd)
	}
	out = section(out, 6, len(m.globals), globals)

	exports := append(name("memory"), 0x02, 0x00)
	count := 1
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		exports = append(exports, name(f.export)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(uint64(len(m.imports)+i))...)
		count++
	}
	out = section(out, 7, count, exports)

	var code []byte
	for _, f := range m.funcs {
		body := append([]byte{0x00}, f.body...) // no locals
		code = append(code, uleb(uint64(len(body)))...)
		code = append(code, body...)
	}
	out = section(out, 10, len(m.funcs), code)

	var data []byte
	for _, d := range m.data {
		data = append(data, 0x00)
		data = append(data, I32Const(int32(d.offset))...)
		data = append(data, opEnd)
		data = append(data, uleb(uint64(len(d.bytes)))...)
		data = append(data, d.bytes...)
	}
	return section(out, 11, len(m.data), data)
}

func section(out []byte, id byte, count int, contents []byte) []byte {
	if count == 0 {
		return out
	}
	body := append(uleb(uint64(count)), contents...)
	out = append(out, id)
	out = append(out, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func valTypes(ts []ValType) []byte {
	out := uleb(uint64(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

const opEnd = 0x0b

// Instructions.
var (
	Unreachable = []byte{0x00}
	Drop        = []byte{0x1a}
	I32Add      = []byte{0x6a}
	// I32Store8 stores the low byte of the top operand at the address below it.
	I32Store8 = []byte{0x3a, 0x00, 0x00}
	// Spin loops forever.
	Spin = []byte{0x03, 0x40, 0x0c, 0x00, opEnd}
)

// I32Const pushes v.
func I32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func I64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }
func LocalGet(i uint32) []byte { return append([]byte{0x20}, uleb(uint64(i))...) }
func GlobalGet(i uint32) []byte { return append([]byte{0x23}, uleb(uint64(i))...) }
func GlobalSet(i uint32) []byte { return append([]byte{0x24}, uleb(uint64(i))...) }
func Call(fn uint32) []byte { return append([]byte{0x10}, uleb(uint64(fn))...) }

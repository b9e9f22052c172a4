package testutil

import (
	"bytes"
)

// Data segment layout of the counter guest. The heap starts above it.
const (
	fetchTemplateAt  = 64
	objectTemplateAt = 128
	faultAt          = 192
	logAt            = 256
	nullAt           = 320
	putAt            = 352
	getAt            = 400
	throwAt          = 448
	heapStart        = 4096
)

const counterTemplate = `{"ok":{"status":200,"body":"0"}}`

// bodyField precedes the digit the counter rewrites.
const bodyField = `"body":"`

// CounterObjectHandle is the handle Counter.new returns.
const CounterObjectHandle = 7

// CounterWasm returns a hand-assembled WebAssembly worker that speaks guest
// ABI v1. Its exports:
//
//	fetch          counts calls in a module global and answers with the count
//	fault          traps with unreachable
//	abort          calls report_fault, then traps
//	log            calls log_message
//	throw          returns an application error envelope
//	spin           never returns
//	Counter.new    resets the object counter, returns CounterObjectHandle
//	Counter.fetch  counts calls in the object counter and answers with it
//	Counter.crash  traps
//	Counter.store  storage_put("visits", "1"), then returns storage_get("visits")
//
// Counts are rendered as one ASCII digit.
func CounterWasm() []byte {
	hookType := FuncType{Params: []ValType{I32, I32}, Results: []ValType{I64}}
	newType := FuncType{Params: []ValType{I32, I32}, Results: []ValType{I32}}
	methodType := FuncType{Params: []ValType{I32, I32, I32}, Results: []ValType{I64}}
	sinkType := FuncType{Params: []ValType{I64}}
	hostType := FuncType{Params: []ValType{I64}, Results: []ValType{I64}}

	m := NewWasmModule(2)
	reportFault := m.Import("worker_host", "report_fault", sinkType)
	logMessage := m.Import("worker_host", "log_message", sinkType)
	storagePut := m.Import("worker_host", "storage_put", hostType)
	storageGet := m.Import("worker_host", "storage_get", hostType)

	heap := m.Global(heapStart)
	calls := m.Global(0)
	objectCalls := m.Global(0)

	fetchResult := m.Data(fetchTemplateAt, []byte(counterTemplate))
	objectResult := m.Data(objectTemplateAt, []byte(counterTemplate))
	fault := m.Data(faultAt, []byte(`{"message":"panicked at 'explicit abort'"}`))
	logRecord := m.Data(logAt, []byte(`{"level":"warn","message":"from guest","attrs":{"n":1}}`))
	null := m.Data(nullAt, []byte(`{"ok":null}`))
	put := m.Data(putAt, []byte(`{"key":"visits","value":"1"}`))
	get := m.Data(getAt, []byte(`{"key":"visits"}`))
	throw := m.Data(throwAt, []byte(`{"error":{"message":"thrown by handler","type":"Error"}}`))

	digit := counterDigit()

	// count increments global g and writes its last digit into the
	// template at base.
	count := func(g uint32, base int32) []byte {
		return bytes.Join([][]byte{
			GlobalGet(g), I32Const(1), I32Add, GlobalSet(g),
			I32Const(base + digit), GlobalGet(g), I32Const('0'), I32Add, I32Store8,
		}, nil)
	}

	m.Func("allocate", FuncType{Params: []ValType{I32}, Results: []ValType{I32}},
		GlobalGet(heap), GlobalGet(heap), LocalGet(0), I32Add, GlobalSet(heap))
	m.Func("_initialize", FuncType{},
		I32Const(0), GlobalSet(calls))
	m.Func("fetch", hookType, count(calls, fetchTemplateAt), I64Const(fetchResult))
	m.Func("fault", hookType, Unreachable)
	m.Func("abort", hookType, I64Const(fault), Call(reportFault), Unreachable)
	m.Func("log", hookType, I64Const(logRecord), Call(logMessage), I64Const(null))
	m.Func("throw", hookType, I64Const(throw))
	m.Func("spin", hookType, Spin, Unreachable)
	m.Func("Counter.new", newType,
		I32Const(0), GlobalSet(objectCalls), I32Const(CounterObjectHandle))
	m.Func("Counter.fetch", methodType, count(objectCalls, objectTemplateAt), I64Const(objectResult))
	m.Func("Counter.crash", methodType, Unreachable)
	m.Func("Counter.store", methodType,
		I64Const(put), Call(storagePut), Drop, I64Const(get), Call(storageGet))

	return m.Bytes()
}

// counterDigit returns the offset of the body digit within counterTemplate.
func counterDigit() int32 {
	return int32(bytes.Index([]byte(counterTemplate), []byte(bodyField)) + len(bodyField))
}

// Package host runs the worker's WebAssembly module on wazero.
//
// An Executor compiles the module once and hands out fresh instances on
// demand; it is the ports.ModuleFactory behind the lifecycle controller.
// Each Instance is one linear memory and one set of globals.
//
// # Guest ABI v1
//
// Exports:
//
//	memory
//	allocate(size i32) i32
//	deallocate(ptr i32, size i32)               optional
//	_initialize()                               optional, run on every instantiation
//	fetch, scheduled, queue(ptr i32, len i32) i64
//	<name>(ptr i32, len i32) i64                plain functions
//	<Class>.new(ptr i32, len i32) i32           returns an object handle
//	<Class>.<method>(handle i32, ptr i32, len i32) i64
//
// Requests are JSON written into memory obtained from allocate. Results are
// packed i64 values (ptr<<32 | len) pointing at a JSON envelope, either
// {"ok": ...} or {"error": {"message": ..., "type": ...}}.
//
// Imports, all from module "worker_host" and all taking a packed request:
//
//	log_message(i64)                 guest log record, forwarded to slog
//	report_fault(i64)                fault hook, called before a guest aborts
//	storage_get/put/delete/list(i64) i64
//	env_get(i64) i64
//
// Storage requests may carry the "context" the guest was invoked with; its
// deadline bounds the store operation. Requests larger than
// hostfuncs.MaxRequestBytes are refused with VALIDATION_ERROR.
package host

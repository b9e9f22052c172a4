// Package workers hosts one WebAssembly worker module and serves concurrent
// invocations against it. A critical fault in guest code retires the module
// instance; the next invocation runs against a fresh instance.
//
// Runtime assembles the pieces in dependency order:
//
//	fault.Monitor -> host.Executor -> lifecycle.Controller -> dispatch.Registry -> dispatch.Dispatcher
package workers

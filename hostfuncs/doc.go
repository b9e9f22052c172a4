// Package hostfuncs implements the host functions a guest module imports
// from the worker_host module: durable storage, environment bindings, and
// logging helpers.
//
// Handlers are plain Go and know nothing of the WebAssembly runtime. They
// take and return JSON bytes; the infrastructure/wazero adapter moves those
// bytes in and out of guest memory.
package hostfuncs

// Package dispatch is the boundary the host calls into: the fixed fetch,
// scheduled and queue hooks, the synthesized per-symbol methods built from
// the module's exports, RPC classes and durable-object stubs.
//
// Every call goes through the lifecycle controller, so a long-lived
// Dispatcher always reaches the current generation's instance.
package dispatch

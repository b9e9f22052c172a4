// Package lifecycle owns the generation counter and the instance-record
// table of a worker.
//
// A generation is one live module instance. Calls against a generation are
// serialized by its execution lock. When the fault monitor reports a critical
// fault, the next CheckAndAdvance supersedes the faulted generation; the next
// Resolve instantiates a fresh module for the new generation, and every
// record (module singleton, RPC class, durable object) is rebuilt from its
// last-known constructor and arguments the next time it is addressed.
//
// A superseded generation stays usable by handles that already hold it and is
// closed when the last of them is released.
package lifecycle

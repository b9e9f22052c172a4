// Package fault classifies failures observed around guest calls and keeps the
// pending-fault flag consumed by the lifecycle controller.
//
// Classify is the only place that decides what counts as unrecoverable.
// A failure is critical when it leaves the shared linear memory of the
// current generation in an undefined state: a runtime trap, a closed module,
// a guest allocation failure, a host-function panic, or a fault the guest
// reported through its fault hook. Every other error is benign and travels to
// the caller unchanged.
package fault

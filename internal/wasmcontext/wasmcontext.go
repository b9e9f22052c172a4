// Package wasmcontext converts between Go contexts and the wire format handed
// to the guest with every call, and carries per-invocation values (request
// id, durable-object state handle) through to host functions.
package wasmcontext

import (
	stdcontext "context"
	"time"

	"github.com/google/uuid"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/fault"
)

// contextKey is a type alias for context value keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"
	stateKey     contextKey = "state_handle"
)

// NewRequestID returns a time-ordered request id.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx stdcontext.Context, id string) stdcontext.Context {
	return stdcontext.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom returns the request id attached to ctx.
func RequestIDFrom(ctx stdcontext.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithState scopes ctx to a durable object's state handle. Storage host
// functions called during the invocation use it.
func WithState(ctx stdcontext.Context, h *entities.StateHandle) stdcontext.Context {
	if h == nil {
		return ctx
	}
	return stdcontext.WithValue(ctx, stateKey, *h)
}

// StateFrom returns the state handle ctx is scoped to.
func StateFrom(ctx stdcontext.Context) (entities.StateHandle, bool) {
	h, ok := ctx.Value(stateKey).(entities.StateHandle)
	return h, ok
}

// ContextToWire converts a stdcontext.Context to the ContextWire format sent
// to the guest.
//
// It extracts:
// - Deadline (timeout)
// - Cancellation status
// - Request ID (key: RequestIDKey)
// - Generation of the guest call, when ctx belongs to one
func ContextToWire(ctx stdcontext.Context) entities.ContextWire {
	wire := entities.ContextWire{}

	if deadline, ok := ctx.Deadline(); ok {
		wire.Deadline = &deadline
		timeout := time.Until(deadline)
		if timeout > 0 {
			wire.TimeoutMs = timeout.Milliseconds()
		}
	}

	select {
	case <-ctx.Done():
		wire.Canceled = true
	default:
	}

	wire.RequestID = RequestIDFrom(ctx)
	if gen, ok := fault.GenerationFrom(ctx); ok {
		wire.Generation = gen
	}

	return wire
}

// WireToContext converts a ContextWire to a stdcontext.Context.
// Host functions use it to honour the deadline the guest forwards with a
// request.
//
// If parent is nil, context.Background() is used.
// Returns the new context and its CancelFunc.
func WireToContext(parent stdcontext.Context, wire entities.ContextWire) (stdcontext.Context, stdcontext.CancelFunc) {
	if parent == nil {
		parent = stdcontext.Background()
	}

	ctx := parent

	var cancel stdcontext.CancelFunc
	switch {
	case wire.Deadline != nil:
		ctx, cancel = stdcontext.WithDeadline(ctx, *wire.Deadline)
	case wire.TimeoutMs > 0:
		ctx, cancel = stdcontext.WithTimeout(ctx, time.Duration(wire.TimeoutMs)*time.Millisecond)
	default:
		ctx, cancel = stdcontext.WithCancel(ctx)
	}

	if wire.RequestID != "" && RequestIDFrom(ctx) == "" {
		ctx = WithRequestID(ctx, wire.RequestID)
	}

	if wire.Canceled {
		cancel()
	}

	return ctx, cancel
}

package entities

import (
	"encoding/json"
	"time"
)

// ContextWire is the JSON wire format for context.Context propagation.
type ContextWire struct {
	Deadline   *time.Time `json:"deadline,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
	TimeoutMs  int64      `json:"timeout_ms,omitempty"`
	Generation Generation `json:"generation,omitempty"`
	Canceled   bool       `json:"canceled,omitempty"`
}

// StateHandle is the per-identity persistent state handle given to a durable
// object constructor. Storage host calls made on behalf of the object are
// scoped to it.
type StateHandle struct {
	Class string `json:"class"`
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
}

// ConstructorArgs are the arguments a live object was built with. They are
// retained on the instance record so the object can be rebuilt with the same
// identity after a generation bump.
type ConstructorArgs struct {
	State   *StateHandle      `json:"state,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Context ContextWire       `json:"ctx"`
}

// Envelope is the JSON document handed to every guest export. Exactly one of
// the payload fields is set, depending on the entrypoint.
type Envelope struct {
	Request *Request          `json:"request,omitempty"`
	Event   *ScheduledEvent   `json:"event,omitempty"`
	Batch   *QueueBatch       `json:"batch,omitempty"`
	Args    json.RawMessage   `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Context ContextWire       `json:"ctx"`
}

// Result is the JSON envelope every guest export returns. A non-nil Error
// is an application error raised by business logic.
type Result struct {
	Error *ErrorDetail    `json:"error,omitempty"`
	OK    json.RawMessage `json:"ok,omitempty"`
}

// LogWire is the JSON wire format of a guest log record.
type LogWire struct {
	Attrs   map[string]any `json:"attrs,omitempty"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
}

// FaultWire is the JSON wire format of a report_fault call.
type FaultWire struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

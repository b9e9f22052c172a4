package entities

import (
	"encoding/json"
	"time"
)

// Request is the JSON wire format of an inbound HTTP request handed to the
// guest fetch hook.
type Request struct {
	Headers map[string][]string `json:"headers,omitempty"`
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Body    string              `json:"body,omitempty"`
}

// Response is the JSON wire format of the guest's reply to a fetch.
type Response struct {
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"`
	Status  int                 `json:"status"`
}

// ScheduledEvent is delivered to the guest scheduled hook.
type ScheduledEvent struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	Cron          string    `json:"cron"`
}

// QueueMessage is one message of a queue batch.
type QueueMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	Body      json.RawMessage `json:"body"`
	Attempts  int             `json:"attempts"`
}

// QueueBatch is delivered to the guest queue hook.
type QueueBatch struct {
	Queue    string         `json:"queue"`
	Messages []QueueMessage `json:"messages"`
}

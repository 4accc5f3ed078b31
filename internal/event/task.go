package event

import (
	"encoding/json"
	"time"
)

// FanoutTask is the envelope carried on the events topic. The dispatcher's
// fanout stage matches it against the registry and expands it into
// per-subscription DeliveryTasks.
type FanoutTask struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Replay        bool              `json:"replay,omitempty"`
	TargetService string            `json:"target_service,omitempty"` // replay scope, empty = all
	TraceHeaders  map[string]string `json:"trace_headers,omitempty"`
}

// DeliveryTask is the envelope carried on the deliveries topic: one pending
// callback to one subscription.
type DeliveryTask struct {
	DeliveryID     string            `json:"delivery_id"`
	EventID        string            `json:"event_id"`
	SubscriptionID string            `json:"subscription_id"`
	CallbackURL    string            `json:"callback_url"`
	EventType      string            `json:"event_type"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Attempt        int               `json:"attempt"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

const DLQType = "delivery.dlq"

// DeadLetter is the envelope published on the DLQ topic when a delivery
// exhausts its retries.
type DeadLetter struct {
	Type       string       `json:"type"`    // "delivery.dlq"
	Version    string       `json:"version"` // schema version
	At         string       `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason     string       `json:"reason"`
	Attempt    int          `json:"attempt"`
	HTTPStatus int          `json:"http_status,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	Task       DeliveryTask `json:"task"` // full delivery snapshot
}

// NewDeadLetter snapshots a failed delivery task into a DLQ envelope.
func NewDeadLetter(t DeliveryTask, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Task:       t,
	}
}

// Encode marshals a task envelope for the broker.
func Encode(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

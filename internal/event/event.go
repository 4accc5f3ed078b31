package event

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an event. Transitions only move forward
// (see Rank); delivery history is appended, never overwritten.
type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusDispatched   Status = "dispatched"
	StatusDelivered    Status = "delivered"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Rank orders statuses for the monotonic-transition guard. The two terminal
// states share the top rank: once delivered or dead-lettered an event only
// moves again through an explicit replay.
func (s Status) Rank() int {
	switch s {
	case StatusAccepted:
		return 0
	case StatusDispatched:
		return 1
	case StatusFailed:
		return 2
	case StatusDelivered, StatusDeadLettered:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusDeadLettered
}

const (
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

// ClampPriority maps an arbitrary priority to the [1,10] range,
// defaulting zero (unset) to 5.
func ClampPriority(p int) int {
	if p == 0 {
		return PriorityDefault
	}
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}

// Event is an immutable fact accepted from a producer service.
type Event struct {
	ID            string          `json:"event_id"`
	Seq           int64           `json:"-"` // store-assigned, orders events within a correlation chain
	Type          string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	SourceService string          `json:"source_service"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Priority      int             `json:"priority"`
	CreatedBy     string          `json:"created_by,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Subscription is a standing interest registration. Deleted subscriptions
// are soft-deleted (Active=false) to keep delivery history referentially intact.
type Subscription struct {
	ID             string          `json:"subscription_id"`
	EventTypes     []string        `json:"event_types"`
	CallbackURL    string          `json:"callback_url"`
	ServiceName    string          `json:"service_name"`
	FilterCriteria json.RawMessage `json:"filter_criteria,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Active         bool            `json:"active"`
}

// DeliveryState is the state of one event/subscription delivery.
type DeliveryState string

const (
	DeliveryQueued    DeliveryState = "queued"
	DeliveryInflight  DeliveryState = "inflight"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryDead      DeliveryState = "dead"
)

// Delivery tracks the current state of delivering one event to one
// subscription. Attempt history lives in DeliveryAttempt rows.
type Delivery struct {
	ID             string        `json:"delivery_id"`
	EventID        string        `json:"event_id"`
	SubscriptionID string        `json:"subscription_id"`
	State          DeliveryState `json:"state"`
	Attempt        int           `json:"attempt"`
	ReplayOf       string        `json:"replay_of,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	HTTPStatus     int           `json:"http_status,omitempty"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AttemptOutcome is the result of a single delivery attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// DeliveryAttempt is one try to deliver one event to one subscription.
// Rows are append-only; attempt numbers strictly increase per pair.
type DeliveryAttempt struct {
	EventID        string         `json:"event_id"`
	SubscriptionID string         `json:"subscription_id"`
	AttemptNumber  int            `json:"attempt_number"`
	Outcome        AttemptOutcome `json:"outcome"`
	HTTPStatus     int            `json:"http_status,omitempty"`
	Error          string         `json:"error,omitempty"`
	AttemptedAt    time.Time      `json:"attempted_at"`
}

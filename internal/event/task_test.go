package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewDeadLetter(t *testing.T) {
	tests := []struct {
		name       string
		task       DeliveryTask
		attempt    int
		httpStatus int
		lastErr    string
		reason     string
	}{
		{
			name: "complete dead letter creation",
			task: DeliveryTask{
				DeliveryID:     "delivery-123",
				EventID:        "event-456",
				SubscriptionID: "sub-789",
				CallbackURL:    "https://example.com/hook",
				EventType:      "order.created",
				CorrelationID:  "corr-abc",
				Attempt:        3,
				TraceHeaders: map[string]string{
					"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
				},
			},
			attempt:    8,
			httpStatus: 500,
			lastErr:    "connection timeout",
			reason:     "max attempts reached (8)",
		},
		{
			name: "minimal dead letter creation",
			task: DeliveryTask{
				DeliveryID: "delivery-minimal",
				EventID:    "event-minimal",
			},
			attempt:    1,
			httpStatus: 404,
			lastErr:    "not found",
			reason:     "subscriber gone",
		},
		{
			name:       "empty error and reason",
			task:       DeliveryTask{DeliveryID: "delivery-empty"},
			attempt:    2,
			httpStatus: 0,
			lastErr:    "",
			reason:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			dl := NewDeadLetter(tt.task, tt.attempt, tt.httpStatus, tt.lastErr, tt.reason)
			after := time.Now()

			if dl.Type != DLQType {
				t.Errorf("NewDeadLetter() Type = %q, want %q", dl.Type, DLQType)
			}
			if dl.Version != "v1" {
				t.Errorf("NewDeadLetter() Version = %q, want %q", dl.Version, "v1")
			}
			if dl.Reason != tt.reason {
				t.Errorf("NewDeadLetter() Reason = %q, want %q", dl.Reason, tt.reason)
			}
			if dl.Attempt != tt.attempt {
				t.Errorf("NewDeadLetter() Attempt = %d, want %d", dl.Attempt, tt.attempt)
			}
			if dl.HTTPStatus != tt.httpStatus {
				t.Errorf("NewDeadLetter() HTTPStatus = %d, want %d", dl.HTTPStatus, tt.httpStatus)
			}
			if dl.LastError != tt.lastErr {
				t.Errorf("NewDeadLetter() LastError = %q, want %q", dl.LastError, tt.lastErr)
			}
			if dl.Task.DeliveryID != tt.task.DeliveryID {
				t.Errorf("NewDeadLetter() Task.DeliveryID = %q, want %q", dl.Task.DeliveryID, tt.task.DeliveryID)
			}
			if dl.Task.SubscriptionID != tt.task.SubscriptionID {
				t.Errorf("NewDeadLetter() Task.SubscriptionID = %q, want %q", dl.Task.SubscriptionID, tt.task.SubscriptionID)
			}

			parsedTime, err := time.Parse(time.RFC3339Nano, dl.At)
			if err != nil {
				t.Errorf("NewDeadLetter() At timestamp parse error: %v", err)
			}
			if parsedTime.Before(before) || parsedTime.After(after) {
				t.Errorf("NewDeadLetter() At timestamp %v not between %v and %v", parsedTime, before, after)
			}
		})
	}
}

func TestEncodeDecodeFanoutTask(t *testing.T) {
	task := FanoutTask{
		EventID:       "event-1",
		EventType:     "user.created",
		CorrelationID: "order-42",
		Replay:        true,
		TargetService: "billing",
		TraceHeaders:  map[string]string{"traceparent": "trace-123"},
	}

	b := Encode(task)
	if len(b) == 0 {
		t.Fatal("Encode() returned empty payload")
	}

	var got FanoutTask
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.EventID != task.EventID {
		t.Errorf("EventID = %q, want %q", got.EventID, task.EventID)
	}
	if got.Replay != task.Replay {
		t.Errorf("Replay = %v, want %v", got.Replay, task.Replay)
	}
	if got.TargetService != task.TargetService {
		t.Errorf("TargetService = %q, want %q", got.TargetService, task.TargetService)
	}
	if got.TraceHeaders["traceparent"] != "trace-123" {
		t.Errorf("TraceHeaders = %v, want traceparent carried through", got.TraceHeaders)
	}
}

func TestEventJSONOmitsSeq(t *testing.T) {
	ev := Event{
		ID:            "event-1",
		Seq:           99,
		Type:          "order.created",
		Data:          json.RawMessage(`{"order_id":1}`),
		SourceService: "orders",
		Status:        StatusAccepted,
	}

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["seq"]; ok {
		t.Error("Event JSON should not expose seq")
	}
	if m["event_id"] != "event-1" {
		t.Errorf("event_id = %v, want %q", m["event_id"], "event-1")
	}
	if m["status"] != "accepted" {
		t.Errorf("status = %v, want %q", m["status"], "accepted")
	}
}

func TestDLQTypeConstant(t *testing.T) {
	expected := "delivery.dlq"
	if DLQType != expected {
		t.Errorf("DLQType constant = %q, want %q", DLQType, expected)
	}
}

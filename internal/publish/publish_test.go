package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
)

type fakeStore struct {
	inserted []*event.Event
	err      error
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev *event.Event) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, ev)
	return nil
}

type fakeEnqueuer struct {
	published [][]byte
	topics    []string
	err       error
}

func (f *fakeEnqueuer) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.published = append(f.published, body)
	return nil
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantField string
	}{
		{
			name:      "missing event type",
			req:       Request{SourceService: "orders", Data: json.RawMessage(`{}`)},
			wantField: "event_type",
		},
		{
			name:      "missing source service",
			req:       Request{EventType: "order.created", Data: json.RawMessage(`{}`)},
			wantField: "source_service",
		},
		{
			name:      "missing data",
			req:       Request{EventType: "order.created", SourceService: "orders"},
			wantField: "data",
		},
		{
			name:      "invalid json data",
			req:       Request{EventType: "order.created", SourceService: "orders", Data: json.RawMessage(`{not json`)},
			wantField: "data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{}
			enq := &fakeEnqueuer{}
			svc := NewService(st, enq, "events")

			id, err := svc.Publish(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Publish() expected validation error, got nil")
			}
			if !buserr.IsValidation(err) {
				t.Errorf("Publish() error = %v, want ValidationError", err)
			}
			var verr *buserr.ValidationError
			if errors.As(err, &verr) && verr.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.wantField)
			}
			if id != "" {
				t.Errorf("Publish() id = %q, want empty on validation failure", id)
			}
			if len(st.inserted) != 0 {
				t.Error("nothing should be persisted on validation failure")
			}
			if len(enq.published) != 0 {
				t.Error("nothing should be enqueued on validation failure")
			}
		})
	}
}

func TestPublishSuccess(t *testing.T) {
	st := &fakeStore{}
	enq := &fakeEnqueuer{}
	svc := NewService(st, enq, "events")

	req := Request{
		EventType:     "order.created",
		Data:          json.RawMessage(`{"order_id": 1}`),
		SourceService: "orders",
		CorrelationID: "order-1",
		Priority:      20,
		CreatedBy:     "svc-orders",
	}

	id, err := svc.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id == "" {
		t.Fatal("Publish() returned empty id")
	}

	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d events, want 1", len(st.inserted))
	}
	ev := st.inserted[0]
	if ev.ID != id {
		t.Errorf("persisted id %q != returned id %q", ev.ID, id)
	}
	if ev.Status != event.StatusAccepted {
		t.Errorf("persisted status = %q, want %q", ev.Status, event.StatusAccepted)
	}
	if ev.Priority != 10 {
		t.Errorf("priority = %d, want clamped to 10", ev.Priority)
	}
	if ev.CreatedBy != "svc-orders" {
		t.Errorf("created_by = %q, want %q", ev.CreatedBy, "svc-orders")
	}

	if len(enq.published) != 1 {
		t.Fatalf("published %d tasks, want 1", len(enq.published))
	}
	if enq.topics[0] != "events" {
		t.Errorf("published to topic %q, want %q", enq.topics[0], "events")
	}
	var task event.FanoutTask
	if err := json.Unmarshal(enq.published[0], &task); err != nil {
		t.Fatalf("task unmarshal error: %v", err)
	}
	if task.EventID != id {
		t.Errorf("task.EventID = %q, want %q", task.EventID, id)
	}
	if task.CorrelationID != "order-1" {
		t.Errorf("task.CorrelationID = %q, want %q", task.CorrelationID, "order-1")
	}
	if task.Replay {
		t.Error("fresh publish must not be marked as replay")
	}
}

func TestPublishIDsAreUnique(t *testing.T) {
	st := &fakeStore{}
	svc := NewService(st, &fakeEnqueuer{}, "events")
	req := Request{EventType: "t", SourceService: "s", Data: json.RawMessage(`{}`)}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := svc.Publish(context.Background(), req)
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = true
	}
}

func TestPublishStoreFailure(t *testing.T) {
	st := &fakeStore{err: errors.New("db down")}
	enq := &fakeEnqueuer{}
	svc := NewService(st, enq, "events")

	req := Request{EventType: "t", SourceService: "s", Data: json.RawMessage(`{}`)}
	_, err := svc.Publish(context.Background(), req)
	if err == nil {
		t.Fatal("Publish() expected error when store fails")
	}
	if len(enq.published) != 0 {
		t.Error("nothing should be enqueued when the insert fails")
	}
}

func TestPublishAbsorbsEnqueueFailure(t *testing.T) {
	// The durable record wins: a broker outage must not surface to the
	// producer, recovery re-enqueues later.
	st := &fakeStore{}
	enq := &fakeEnqueuer{err: errors.New("nsqd unreachable")}
	svc := NewService(st, enq, "events")

	req := Request{EventType: "t", SourceService: "s", Data: json.RawMessage(`{}`)}
	id, err := svc.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("Publish() error = %v, want nil despite enqueue failure", err)
	}
	if id == "" {
		t.Fatal("Publish() returned empty id")
	}
	if len(st.inserted) != 1 {
		t.Errorf("inserted %d events, want 1", len(st.inserted))
	}
}

func TestPublishBatch(t *testing.T) {
	st := &fakeStore{}
	enq := &fakeEnqueuer{}
	svc := NewService(st, enq, "events")

	reqs := []Request{
		{EventType: "a.one", SourceService: "s", Data: json.RawMessage(`{}`)},
		{EventType: "", SourceService: "s", Data: json.RawMessage(`{}`)}, // invalid
		{EventType: "a.three", SourceService: "s", Data: json.RawMessage(`{}`)},
	}

	resp := svc.PublishBatch(context.Background(), reqs)

	if resp.Total != 3 {
		t.Errorf("Total = %d, want 3", resp.Total)
	}
	if resp.Successful != 2 {
		t.Errorf("Successful = %d, want 2", resp.Successful)
	}
	if resp.Failed != 1 {
		t.Errorf("Failed = %d, want 1", resp.Failed)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(resp.Results))
	}

	if resp.Results[0].EventID == "" || resp.Results[0].Error != "" {
		t.Errorf("Results[0] = %+v, want success", resp.Results[0])
	}
	if resp.Results[1].EventID != "" || resp.Results[1].Error == "" {
		t.Errorf("Results[1] = %+v, want failure", resp.Results[1])
	}
	if resp.Results[1].Index != 1 {
		t.Errorf("Results[1].Index = %d, want 1", resp.Results[1].Index)
	}
	if resp.Results[2].EventID == "" {
		t.Errorf("Results[2] = %+v, want success after a failed item", resp.Results[2])
	}

	if len(st.inserted) != 2 {
		t.Errorf("inserted %d events, want 2", len(st.inserted))
	}
}

func TestPublishBatchEmpty(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEnqueuer{}, "events")
	resp := svc.PublishBatch(context.Background(), nil)
	if resp.Total != 0 || resp.Successful != 0 || resp.Failed != 0 {
		t.Errorf("empty batch = %+v, want all zero", resp)
	}
}

package history

import (
	"context"
	"testing"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/store"
)

type fakeReader struct {
	events     map[string]*event.Event
	attempts   map[string][]event.DeliveryAttempt
	lastFilter store.HistoryFilter
	lastDays   int
}

func (f *fakeReader) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	if ev, ok := f.events[id]; ok {
		return ev, nil
	}
	return nil, buserr.NotFound("event", id)
}

func (f *fakeReader) History(ctx context.Context, hf store.HistoryFilter) ([]*event.Event, error) {
	f.lastFilter = hf
	var out []*event.Event
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeReader) GetStats(ctx context.Context, days int) (*store.Stats, error) {
	f.lastDays = days
	return &store.Stats{Days: days}, nil
}

func (f *fakeReader) ListAttempts(ctx context.Context, eventID string) ([]event.DeliveryAttempt, error) {
	return f.attempts[eventID], nil
}

func TestGetHistory(t *testing.T) {
	reader := &fakeReader{events: map[string]*event.Event{
		"ev-1": {ID: "ev-1", Type: "order.created"},
	}}
	svc := NewService(reader)

	f := store.HistoryFilter{EventType: "order.created", Limit: 5}
	events, err := svc.GetHistory(context.Background(), f)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("len(events) = %d, want 1", len(events))
	}
	if reader.lastFilter.EventType != "order.created" || reader.lastFilter.Limit != 5 {
		t.Errorf("filter passed through = %+v, want event_type and limit preserved", reader.lastFilter)
	}
}

func TestGetStats(t *testing.T) {
	reader := &fakeReader{}
	svc := NewService(reader)

	st, err := svc.GetStats(context.Background(), 30)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if st.Days != 30 || reader.lastDays != 30 {
		t.Errorf("days = %d (reader saw %d), want 30", st.Days, reader.lastDays)
	}
}

func TestGetEvent(t *testing.T) {
	reader := &fakeReader{
		events: map[string]*event.Event{
			"ev-1": {ID: "ev-1", Type: "order.created", Status: event.StatusDelivered},
		},
		attempts: map[string][]event.DeliveryAttempt{
			"ev-1": {
				{EventID: "ev-1", SubscriptionID: "sub-1", AttemptNumber: 1, Outcome: event.OutcomeFailure, HTTPStatus: 500},
				{EventID: "ev-1", SubscriptionID: "sub-1", AttemptNumber: 2, Outcome: event.OutcomeSuccess, HTTPStatus: 200},
			},
		},
	}
	svc := NewService(reader)

	detail, err := svc.GetEvent(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if detail.Event.ID != "ev-1" {
		t.Errorf("Event.ID = %q, want %q", detail.Event.ID, "ev-1")
	}
	if len(detail.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(detail.Attempts))
	}
	if detail.Attempts[0].AttemptNumber != 1 || detail.Attempts[1].AttemptNumber != 2 {
		t.Error("attempt audit trail should preserve order")
	}
}

func TestGetEventNotFound(t *testing.T) {
	svc := NewService(&fakeReader{})

	_, err := svc.GetEvent(context.Background(), "ghost")
	if err == nil {
		t.Fatal("GetEvent() expected error for unknown id")
	}
	if !buserr.IsNotFound(err) {
		t.Errorf("GetEvent() error = %v, want NotFoundError", err)
	}
}

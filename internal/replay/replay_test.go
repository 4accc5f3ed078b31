package replay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
)

type fakeStore struct {
	events map[string]*event.Event
}

func (f *fakeStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	if ev, ok := f.events[id]; ok {
		return ev, nil
	}
	return nil, buserr.NotFound("event", id)
}

type fakeEnqueuer struct {
	published [][]byte
	err       error
}

func (f *fakeEnqueuer) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

func TestReplay(t *testing.T) {
	st := &fakeStore{events: map[string]*event.Event{
		"ev-1": {ID: "ev-1", Type: "order.created", CorrelationID: "c-1", Status: event.StatusDelivered},
		"ev-2": {ID: "ev-2", Type: "order.failed", Status: event.StatusDeadLettered},
	}}
	enq := &fakeEnqueuer{}
	svc := NewService(st, enq, "events")

	results := svc.Replay(context.Background(), []string{"ev-1", "missing", "ev-2"}, "")

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if !results[0].Queued || results[0].Error != "" {
		t.Errorf("results[0] = %+v, want queued", results[0])
	}
	if results[1].Queued || results[1].Error == "" {
		t.Errorf("results[1] = %+v, want not-found error", results[1])
	}
	if results[1].EventID != "missing" {
		t.Errorf("results[1].EventID = %q, want %q", results[1].EventID, "missing")
	}
	if !results[2].Queued {
		t.Errorf("results[2] = %+v, want queued (dead_lettered events are replayable)", results[2])
	}
	if len(enq.published) != 2 {
		t.Fatalf("published %d tasks, want 2", len(enq.published))
	}

	var task event.FanoutTask
	if err := json.Unmarshal(enq.published[0], &task); err != nil {
		t.Fatalf("task unmarshal error: %v", err)
	}
	if !task.Replay {
		t.Error("replayed task must carry the replay flag")
	}
	if task.EventID != "ev-1" {
		t.Errorf("task.EventID = %q, want %q", task.EventID, "ev-1")
	}
	if task.CorrelationID != "c-1" {
		t.Errorf("task.CorrelationID = %q, want %q", task.CorrelationID, "c-1")
	}
}

func TestReplayTargetService(t *testing.T) {
	st := &fakeStore{events: map[string]*event.Event{
		"ev-1": {ID: "ev-1", Type: "order.created", Status: event.StatusDelivered},
	}}
	enq := &fakeEnqueuer{}
	svc := NewService(st, enq, "events")

	results := svc.Replay(context.Background(), []string{"ev-1"}, "billing")
	if len(results) != 1 || !results[0].Queued {
		t.Fatalf("results = %+v, want one queued", results)
	}

	var task event.FanoutTask
	if err := json.Unmarshal(enq.published[0], &task); err != nil {
		t.Fatalf("task unmarshal error: %v", err)
	}
	if task.TargetService != "billing" {
		t.Errorf("task.TargetService = %q, want %q", task.TargetService, "billing")
	}
}

func TestReplayEnqueueFailure(t *testing.T) {
	st := &fakeStore{events: map[string]*event.Event{
		"ev-1": {ID: "ev-1", Type: "order.created", Status: event.StatusDelivered},
	}}
	enq := &fakeEnqueuer{err: errors.New("nsqd unreachable")}
	svc := NewService(st, enq, "events")

	results := svc.Replay(context.Background(), []string{"ev-1"}, "")
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Queued {
		t.Error("enqueue failure must not report queued")
	}
	if results[0].Error == "" {
		t.Error("enqueue failure should carry the error")
	}
}

func TestReplayEmpty(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEnqueuer{}, "events")
	results := svc.Replay(context.Background(), nil, "")
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

// Package history is the read-only query surface over the event store.
// Nothing here mutates state.
package history

import (
	"context"

	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/store"
)

// Reader is the slice of the store the history service needs.
type Reader interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	History(ctx context.Context, f store.HistoryFilter) ([]*event.Event, error)
	GetStats(ctx context.Context, days int) (*store.Stats, error)
	ListAttempts(ctx context.Context, eventID string) ([]event.DeliveryAttempt, error)
}

type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// GetHistory returns events matching the filter.
func (s *Service) GetHistory(ctx context.Context, f store.HistoryFilter) ([]*event.Event, error) {
	return s.reader.History(ctx, f)
}

// GetStats aggregates the trailing-days window.
func (s *Service) GetStats(ctx context.Context, days int) (*store.Stats, error) {
	return s.reader.GetStats(ctx, days)
}

// EventDetail is one event plus its attempt audit trail.
type EventDetail struct {
	Event    *event.Event            `json:"event"`
	Attempts []event.DeliveryAttempt `json:"attempts"`
}

// GetEvent returns one event with its delivery attempts.
func (s *Service) GetEvent(ctx context.Context, id string) (*EventDetail, error) {
	ev, err := s.reader.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.reader.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EventDetail{Event: ev, Attempts: attempts}, nil
}

// Package replay re-enters recorded events into the delivery pipeline.
// Replay is at-least-once by design: consumers deduplicate by event_id.
package replay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/metrics"
	"github.com/relaybus/relaybus/internal/tracing"
)

// EventStore is the slice of the store replay needs.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
}

// Enqueuer is the slice of the broker replay needs.
type Enqueuer interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	store  EventStore
	broker Enqueuer
	topic  string
	logger *logging.Logger
}

func NewService(store EventStore, broker Enqueuer, eventsTopic string) *Service {
	return &Service{
		store:  store,
		broker: broker,
		topic:  eventsTopic,
		logger: logging.New("relaybus-replay"),
	}
}

// Result is the per-event outcome of a replay request.
type Result struct {
	EventID string `json:"event_id"`
	Queued  bool   `json:"queued"`
	Error   string `json:"error,omitempty"`
}

// Replay re-enqueues each event for fanout, scoped to targetService's
// subscriptions when given. The original event rows are never mutated here;
// fresh delivery attempts accrue as the dispatcher re-processes them.
func (s *Service) Replay(ctx context.Context, eventIDs []string, targetService string) []Result {
	ctx, span := tracing.StartSpan(ctx, "replay.Replay",
		attribute.Int("event_count", len(eventIDs)),
		attribute.String("target_service", targetService),
	)
	defer span.End()

	results := make([]Result, 0, len(eventIDs))
	for _, id := range eventIDs {
		ev, err := s.store.GetEvent(ctx, id)
		if err != nil {
			if !buserr.IsNotFound(err) {
				tracing.SetSpanError(ctx, err)
			}
			results = append(results, Result{EventID: id, Error: err.Error()})
			continue
		}

		task := event.FanoutTask{
			EventID:       ev.ID,
			EventType:     ev.Type,
			CorrelationID: ev.CorrelationID,
			Replay:        true,
			TargetService: targetService,
			TraceHeaders:  tracing.PropagateToBroker(ctx),
		}
		if err := s.broker.Publish(s.topic, event.Encode(task)); err != nil {
			tracing.SetSpanError(ctx, err)
			s.logger.WithContext(ctx).WithEvent(id).WithError(err).Error("replay enqueue failed")
			results = append(results, Result{EventID: id, Error: err.Error()})
			continue
		}
		metrics.RecordReplay()
		results = append(results, Result{EventID: id, Queued: true})
	}
	return results
}

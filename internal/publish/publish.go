// Package publish accepts inbound events: validate, persist, enqueue.
// Persistence always completes before the enqueue is attempted, and a failed
// enqueue never loses the durable record; the dispatcher's recovery scan
// re-enqueues anything stuck in accepted.
package publish

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/metrics"
	"github.com/relaybus/relaybus/internal/tracing"
)

// EventStore is the slice of the store the publisher needs.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *event.Event) error
}

// Enqueuer is the slice of the broker the publisher needs.
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
		logger: logging.New("relaybus-publisher"),
	}
}

// Request carries one inbound event.
type Request struct {
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	SourceService string          `json:"source_service"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	CreatedBy     string          `json:"-"`
}

func validate(req Request) error {
	if req.EventType == "" {
		return buserr.Validationf("event_type", "required")
	}
	if req.SourceService == "" {
		return buserr.Validationf("source_service", "required")
	}
	if len(req.Data) == 0 {
		return buserr.Validationf("data", "required")
	}
	if !json.Valid(req.Data) {
		return buserr.Validationf("data", "must be valid JSON")
	}
	return nil
}

// Publish accepts one event and returns its id. The id is assigned here,
// exactly once. Broker failures are absorbed: the event stays accepted and
// redelivers through recovery.
func (s *Service) Publish(ctx context.Context, req Request) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "publish.Publish",
		attribute.String("event_type", req.EventType),
		attribute.String("source_service", req.SourceService),
	)
	defer span.End()

	if err := validate(req); err != nil {
		tracing.SetSpanError(ctx, err)
		return "", err
	}

	ev := &event.Event{
		ID:            uuid.NewString(),
		Type:          req.EventType,
		Data:          req.Data,
		SourceService: req.SourceService,
		CorrelationID: req.CorrelationID,
		Priority:      event.ClampPriority(req.Priority),
		CreatedBy:     req.CreatedBy,
		Status:        event.StatusAccepted,
	}

	tracing.AddSpanEvent(ctx, "db.insert_event")
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		tracing.SetSpanError(ctx, err)
		return "", err
	}
	span.SetAttributes(attribute.String("event_id", ev.ID))

	task := event.FanoutTask{
		EventID:       ev.ID,
		EventType:     ev.Type,
		CorrelationID: ev.CorrelationID,
		TraceHeaders:  tracing.PropagateToBroker(ctx),
	}
	tracing.AddSpanEvent(ctx, "broker.enqueue")
	if err := s.broker.Publish(s.topic, event.Encode(task)); err != nil {
		// durable record exists; recovery will re-enqueue
		tracing.SetSpanError(ctx, err)
		s.logger.WithContext(ctx).WithEvent(ev.ID).WithError(err).Warn("enqueue failed, leaving event for recovery")
	}

	metrics.RecordEventPublished(ev.SourceService, ev.Type)
	return ev.ID, nil
}

// BatchResult is the per-event outcome of a batch publish.
type BatchResult struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse summarizes a batch publish. Partial failure is expected and
// surfaced per item, never hidden.
type BatchResponse struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Results    []BatchResult `json:"results"`
}

// PublishBatch processes each event independently; one failure does not
// abort the rest.
func (s *Service) PublishBatch(ctx context.Context, reqs []Request) BatchResponse {
	resp := BatchResponse{Total: len(reqs), Results: make([]BatchResult, 0, len(reqs))}
	for i, req := range reqs {
		id, err := s.Publish(ctx, req)
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, BatchResult{Index: i, Error: err.Error()})
			continue
		}
		resp.Successful++
		resp.Results = append(resp.Results, BatchResult{Index: i, EventID: id})
	}
	return resp
}

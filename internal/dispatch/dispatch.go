// Package dispatch consumes accepted events from the broker, matches them
// against the registry, delivers to subscriber callbacks, and applies the
// retry/dead-letter policy. The dispatcher holds no state of its own between
// restarts; everything resumable lives in the store or the broker.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaybus/relaybus/internal/broker"
	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/metrics"
	"github.com/relaybus/relaybus/internal/tracing"
)

// Store is the slice of the event store the dispatcher needs.
type Store interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	SetEventStatus(ctx context.Context, id string, status event.Status) error
	CreateDeliveries(ctx context.Context, deliveries []*event.Delivery) error
	MarkDeliveryInflight(ctx context.Context, deliveryID string) error
	CompleteDelivery(ctx context.Context, deliveryID string, state event.DeliveryState, httpStatus int, lastErr string) (int, error)
	MarkDeliveryDead(ctx context.Context, deliveryID, reason string) error
	RecordAttempt(ctx context.Context, a *event.DeliveryAttempt) error
	ResolveEventStatus(ctx context.Context, eventID string) (event.Status, error)
	ChainHasEarlierPending(ctx context.Context, correlationID string, seq int64) (bool, error)
	LatestDeliveryID(ctx context.Context, eventID, subscriptionID string) (string, error)
	PendingEvents(ctx context.Context, age time.Duration, limit int) ([]*event.Event, error)
	QueuedDeliveryTasks(ctx context.Context, age time.Duration, limit int) ([]event.DeliveryTask, error)
}

// Matcher answers subscription matching queries.
type Matcher interface {
	Match(ctx context.Context, ev *event.Event, targetService string) ([]*event.Subscription, error)
}

// Config tunes dispatcher behavior.
type Config struct {
	EventsTopic     string
	DeliveriesTopic string
	DLQTopic        string
	Channel         string
	MaxAttempts     int
	Backoff         BackoffConfig
	CallbackTimeout time.Duration
	ChainRetryDelay time.Duration
	MaxInFlight     int
	RecoveryInterval time.Duration
	RecoveryAge     time.Duration
	PublishDLQ      bool
}

type Dispatcher struct {
	store   Store
	matcher Matcher
	broker  broker.Broker
	cfg     Config
	client  *http.Client
	logger  *logging.Logger
}

func New(store Store, matcher Matcher, b broker.Broker, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 15 * time.Second
	}
	if cfg.ChainRetryDelay <= 0 {
		cfg.ChainRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	return &Dispatcher{
		store:   store,
		matcher: matcher,
		broker:  b,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.CallbackTimeout},
		logger:  logging.New("relaybus-dispatcher"),
	}
}

// Start subscribes both stages. Consumption stops when the broker is stopped;
// the recovery loop stops with ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.broker.Subscribe(d.cfg.EventsTopic, d.cfg.Channel, d.cfg.MaxInFlight, func(m broker.Message) {
		d.handleFanout(ctx, m)
	}); err != nil {
		return err
	}
	if err := d.broker.Subscribe(d.cfg.DeliveriesTopic, d.cfg.Channel, d.cfg.MaxInFlight, func(m broker.Message) {
		d.handleDelivery(ctx, m)
	}); err != nil {
		return err
	}
	if d.cfg.RecoveryInterval > 0 {
		go d.recoveryLoop(ctx)
	}
	return nil
}

// handleFanout expands one accepted event into per-subscription deliveries.
// Chain ordering is enforced here: an event whose correlation chain still has
// an earlier non-terminal event is deferred, so same-chain events reach each
// subscription in publish order.
func (d *Dispatcher) handleFanout(ctx context.Context, m broker.Message) {
	var t event.FanoutTask
	if err := json.Unmarshal(m.Body(), &t); err != nil {
		d.logger.Plain().WithError(err).Error("bad fanout payload")
		m.Finish() // terminal: don't retry bad payloads
		return
	}

	ctx = tracing.ExtractFromBroker(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "dispatch.fanout",
		attribute.String("event_id", t.EventID),
		attribute.String("event_type", t.EventType),
		attribute.Bool("replay", t.Replay),
	)
	defer span.End()

	ev, err := d.store.GetEvent(ctx, t.EventID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		if buserr.IsNotFound(err) {
			d.logger.WithContext(ctx).WithEvent(t.EventID).Warn("fanout for unknown event, dropping")
			m.Finish()
			return
		}
		m.Requeue(d.cfg.ChainRetryDelay)
		return
	}

	if !t.Replay {
		pending, err := d.store.ChainHasEarlierPending(ctx, ev.CorrelationID, ev.Seq)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			m.Requeue(d.cfg.ChainRetryDelay)
			return
		}
		if pending {
			tracing.AddSpanEvent(ctx, "chain.deferred")
			m.Requeue(d.cfg.ChainRetryDelay)
			return
		}
	}

	subs, err := d.matcher.Match(ctx, ev, t.TargetService)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		m.Requeue(d.cfg.ChainRetryDelay)
		return
	}
	span.SetAttributes(attribute.Int("matched_subscriptions", len(subs)))

	if len(subs) == 0 {
		if t.Replay {
			// A scoped replay that matches nothing delivers nothing; the
			// event keeps whatever status its real attempts earned it.
			d.logger.WithContext(ctx).WithEvent(ev.ID).Info("replay matched no subscriptions, leaving status untouched")
			m.Finish()
			return
		}
		// nothing to deliver: the event is vacuously delivered
		if err := d.store.SetEventStatus(ctx, ev.ID, event.StatusDelivered); err != nil {
			tracing.SetSpanError(ctx, err)
			m.Requeue(d.cfg.ChainRetryDelay)
			return
		}
		d.logger.WithContext(ctx).WithEvent(ev.ID).Info("no matching subscriptions, marked delivered")
		m.Finish()
		return
	}

	deliveries := make([]*event.Delivery, 0, len(subs))
	tasks := make([]event.DeliveryTask, 0, len(subs))
	for _, sub := range subs {
		del := &event.Delivery{
			ID:             uuid.NewString(),
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			State:          event.DeliveryQueued,
		}
		if t.Replay {
			prior, err := d.store.LatestDeliveryID(ctx, ev.ID, sub.ID)
			if err == nil && prior != "" {
				del.ReplayOf = prior
			}
		}
		deliveries = append(deliveries, del)
		tasks = append(tasks, event.DeliveryTask{
			DeliveryID:     del.ID,
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			CallbackURL:    sub.CallbackURL,
			EventType:      ev.Type,
			CorrelationID:  ev.CorrelationID,
			TraceHeaders:   tracing.PropagateToBroker(ctx),
		})
	}

	tracing.AddSpanEvent(ctx, "db.create_deliveries", attribute.Int("delivery_count", len(deliveries)))
	if err := d.store.CreateDeliveries(ctx, deliveries); err != nil {
		tracing.SetSpanError(ctx, err)
		m.Requeue(d.cfg.ChainRetryDelay)
		return
	}
	if err := d.store.SetEventStatus(ctx, ev.ID, event.StatusDispatched); err != nil {
		tracing.SetSpanError(ctx, err)
	}

	for _, task := range tasks {
		if err := d.broker.Publish(d.cfg.DeliveriesTopic, event.Encode(task)); err != nil {
			// delivery rows exist; the recovery scan re-enqueues queued
			// deliveries, so don't fail the whole fanout
			tracing.SetSpanError(ctx, err)
			d.logger.WithContext(ctx).WithEvent(ev.ID).WithDelivery(task.DeliveryID).WithError(err).Error("delivery enqueue failed")
		}
	}
	m.Finish()
}

// handleDelivery performs one callback attempt for one subscription.
func (d *Dispatcher) handleDelivery(ctx context.Context, m broker.Message) {
	var t event.DeliveryTask
	if err := json.Unmarshal(m.Body(), &t); err != nil {
		d.logger.Plain().WithError(err).Error("bad delivery payload")
		m.Finish()
		return
	}

	ctx = tracing.ExtractFromBroker(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "dispatch.delivery",
		attribute.String("delivery_id", t.DeliveryID),
		attribute.String("event_id", t.EventID),
		attribute.String("subscription_id", t.SubscriptionID),
		attribute.String("callback_url", t.CallbackURL),
	)
	defer span.End()

	ev, err := d.store.GetEvent(ctx, t.EventID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		if buserr.IsNotFound(err) {
			m.Finish()
			return
		}
		m.Requeue(d.cfg.ChainRetryDelay)
		return
	}

	_ = d.store.MarkDeliveryInflight(ctx, t.DeliveryID)

	status, doErr, latency := d.post(ctx, t.CallbackURL, ev)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	ok := doErr == nil && status >= 200 && status < 300
	outcome := event.OutcomeFailure
	if ok {
		outcome = event.OutcomeSuccess
	}
	attemptRow := &event.DeliveryAttempt{
		EventID:        t.EventID,
		SubscriptionID: t.SubscriptionID,
		Outcome:        outcome,
		HTTPStatus:     status,
		Error:          errString(doErr),
	}
	if err := d.store.RecordAttempt(ctx, attemptRow); err != nil {
		d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("record attempt failed")
		tracing.SetSpanError(ctx, err)
	}

	if ok {
		tracing.AddSpanEvent(ctx, "delivery.success")
		if _, err := d.store.CompleteDelivery(ctx, t.DeliveryID, event.DeliveryDelivered, status, ""); err != nil {
			d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("db update success failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("delivered", latency)
		d.settleEvent(ctx, t.EventID)
		m.Finish()
		return
	}

	tracing.AddSpanEvent(ctx, "delivery.failed")
	attempt, err := d.store.CompleteDelivery(ctx, t.DeliveryID, event.DeliveryFailed, status, errString(doErr))
	if err != nil {
		d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("db update fail failed")
		tracing.SetSpanError(ctx, err)
		attempt = d.cfg.MaxAttempts // be safe -> dead letter
	}

	reason := classifyReason(doErr, status)
	span.SetAttributes(attribute.String("failure_reason", reason))
	metrics.RecordDelivery("failed", latency)

	if attempt >= d.cfg.MaxAttempts {
		d.deadLetter(ctx, t, attempt, status, doErr, reason)
		m.Finish()
		return
	}

	metrics.RecordRetry(reason)
	delay := d.cfg.Backoff.Delay(attempt)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		attribute.Int("attempt", attempt),
		attribute.String("delay", delay.String()),
	)
	d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithFields(map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
	}).Info("requeue delivery")
	m.Requeue(delay)
}

// deadLetter marks a delivery exhausted, recomputes the event status, and
// optionally mirrors the envelope onto the DLQ topic. The event stays
// queryable and replayable.
func (d *Dispatcher) deadLetter(ctx context.Context, t event.DeliveryTask, attempt, status int, doErr error, reason string) {
	tracing.AddSpanEvent(ctx, "delivery.dead_letter", attribute.Int("attempt", attempt))
	dlReason := fmt.Sprintf("max attempts reached (%d), last status=%d, err=%s", attempt, status, errString(doErr))
	if err := d.store.MarkDeliveryDead(ctx, t.DeliveryID, dlReason); err != nil {
		d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("dlq insert failed")
		tracing.SetSpanError(ctx, err)
	}
	d.settleEvent(ctx, t.EventID)

	if d.cfg.PublishDLQ && d.cfg.DLQTopic != "" {
		env := event.NewDeadLetter(t, attempt, status, errString(doErr), fmt.Sprintf("max attempts reached (%d)", attempt))
		if err := d.broker.Publish(d.cfg.DLQTopic, event.Encode(env)); err != nil {
			d.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("dlq publish failed")
			tracing.SetSpanError(ctx, err)
		}
	}
	metrics.RecordDLQ(reason)
}

// settleEvent recomputes the overall event status from its delivery rows.
// The store's monotonic guard keeps concurrent settles from racing backward.
func (d *Dispatcher) settleEvent(ctx context.Context, eventID string) {
	status, err := d.store.ResolveEventStatus(ctx, eventID)
	if err != nil {
		d.logger.WithContext(ctx).WithEvent(eventID).WithError(err).Error("resolve event status failed")
		return
	}
	if err := d.store.SetEventStatus(ctx, eventID, status); err != nil {
		d.logger.WithContext(ctx).WithEvent(eventID).WithError(err).Error("set event status failed")
	}
}

// post sends the full event to the callback URL and returns the HTTP status,
// transport error, and latency.
func (d *Dispatcher) post(ctx context.Context, callbackURL string, ev *event.Event) (int, error, time.Duration) {
	body, _ := json.Marshal(ev)
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, err, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relaybus-Event-Id", ev.ID)
	req.Header.Set("X-Relaybus-Event-Type", ev.Type)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)
	status := 0
	if doErr == nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return status, doErr, latency
}

// recoveryLoop periodically re-enqueues events stuck in accepted (highest
// priority first) and delivery rows stuck in queued. This covers broker
// outages during publish and dispatcher crashes between insert and enqueue,
// at either stage.
func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.recoverOnce(ctx)
		}
	}
}

func (d *Dispatcher) recoverOnce(ctx context.Context) {
	events, err := d.store.PendingEvents(ctx, d.cfg.RecoveryAge, 100)
	if err != nil {
		d.logger.Plain().WithError(err).Error("recovery scan failed")
		return
	}
	for _, ev := range events {
		task := event.FanoutTask{
			EventID:       ev.ID,
			EventType:     ev.Type,
			CorrelationID: ev.CorrelationID,
		}
		if err := d.broker.Publish(d.cfg.EventsTopic, event.Encode(task)); err != nil {
			d.logger.Plain().WithEvent(ev.ID).WithError(err).Error("recovery enqueue failed")
			return
		}
		d.logger.Plain().WithEvent(ev.ID).Info("recovered stuck event")
	}

	tasks, err := d.store.QueuedDeliveryTasks(ctx, d.cfg.RecoveryAge, 100)
	if err != nil {
		d.logger.Plain().WithError(err).Error("queued delivery scan failed")
		return
	}
	for _, task := range tasks {
		if err := d.broker.Publish(d.cfg.DeliveriesTopic, event.Encode(task)); err != nil {
			d.logger.Plain().WithDelivery(task.DeliveryID).WithError(err).Error("recovery enqueue failed")
			return
		}
		d.logger.Plain().WithDelivery(task.DeliveryID).Info("recovered stuck delivery")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

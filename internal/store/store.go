// Package store owns the durable record of events, per-subscription delivery
// state, and the append-only attempt audit trail.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// statusRankSQL mirrors event.Status.Rank so the monotonic-transition guard
// runs inside the UPDATE itself.
const statusRankSQL = `CASE %s
	WHEN 'accepted' THEN 0
	WHEN 'dispatched' THEN 1
	WHEN 'failed' THEN 2
	ELSE 3 END`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema applies the embedded DDL. All statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent persists a freshly accepted event and fills in its
// store-assigned sequence and creation time.
func (s *Store) InsertEvent(ctx context.Context, ev *event.Event) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO relaybus.events(id, event_type, data, source_service, correlation_id, priority, created_by, status)
		VALUES ($1, $2, $3::jsonb, $4, NULLIF($5,''), $6, NULLIF($7,''), $8)
		RETURNING seq, created_at`,
		ev.ID, ev.Type, string(ev.Data), ev.SourceService, ev.CorrelationID, ev.Priority, ev.CreatedBy, string(ev.Status),
	).Scan(&ev.Seq, &ev.CreatedAt)
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var ev event.Event
	var correlationID, createdBy sql.NullString
	var data string
	err := row.Scan(&ev.ID, &ev.Seq, &ev.Type, &data, &ev.SourceService,
		&correlationID, &ev.Priority, &createdBy, &ev.Status, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Data = []byte(data)
	ev.CorrelationID = correlationID.String
	ev.CreatedBy = createdBy.String
	return &ev, nil
}

const eventColumns = `id, seq, event_type, data::text, source_service, correlation_id, priority, created_by, status, created_at`

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM relaybus.events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, buserr.NotFound("event", id)
	}
	return ev, err
}

// SetEventStatus moves an event forward through the state machine. Updates
// that would move the status backward are silently dropped; the existing
// row is the source of truth.
func (s *Store) SetEventStatus(ctx context.Context, id string, status event.Status) error {
	guard := fmt.Sprintf(statusRankSQL, "status")
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE relaybus.events
		SET status = $2, updated_at = now()
		WHERE id = $1 AND %s <= $3`, guard),
		id, string(status), status.Rank())
	return err
}

// CreateDeliveries inserts queued delivery rows in one batch.
func (s *Store) CreateDeliveries(ctx context.Context, deliveries []*event.Delivery) error {
	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(`
			INSERT INTO relaybus.deliveries(id, event_id, subscription_id, state, replay_of)
			VALUES ($1, $2, $3, $4, NULLIF($5,'')::uuid)`,
			d.ID, d.EventID, d.SubscriptionID, string(d.State), d.ReplayOf)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range deliveries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// MarkDeliveryInflight records that a worker picked the delivery up.
func (s *Store) MarkDeliveryInflight(ctx context.Context, deliveryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE relaybus.deliveries
		SET state = 'inflight', updated_at = now()
		WHERE id = $1`, deliveryID)
	return err
}

// CompleteDelivery writes the outcome of one attempt against the delivery
// row and returns the new attempt count.
func (s *Store) CompleteDelivery(ctx context.Context, deliveryID string, state event.DeliveryState, httpStatus int, lastErr string) (int, error) {
	var attempt int
	err := s.pool.QueryRow(ctx, `
		UPDATE relaybus.deliveries
		SET state = $2, attempt = attempt + 1, http_status = NULLIF($3, 0),
		    last_error = NULLIF($4, ''), updated_at = now()
		WHERE id = $1
		RETURNING attempt`,
		deliveryID, string(state), httpStatus, lastErr).Scan(&attempt)
	return attempt, err
}

// MarkDeliveryDead moves an exhausted delivery to the dead state and files
// the DLQ row.
func (s *Store) MarkDeliveryDead(ctx context.Context, deliveryID, reason string) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE relaybus.deliveries SET state = 'dead', updated_at = now() WHERE id = $1`, deliveryID)
	batch.Queue(`INSERT INTO relaybus.dlq(delivery_id, reason) VALUES ($1, $2)`, deliveryID, reason)
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestDeliveryID returns the most recent delivery row for an
// event/subscription pair, or "" when none exists. Replay uses it to link
// fresh deliveries to the chain they supersede.
func (s *Store) LatestDeliveryID(ctx context.Context, eventID, subscriptionID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM relaybus.deliveries
		WHERE event_id = $1 AND subscription_id = $2
		ORDER BY enqueued_at DESC
		LIMIT 1`, eventID, subscriptionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// RecordAttempt appends one audit row. The attempt number is computed inside
// the insert so it is strictly increasing per (event, subscription) pair even
// under concurrent writers.
func (s *Store) RecordAttempt(ctx context.Context, a *event.DeliveryAttempt) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO relaybus.delivery_attempts(event_id, subscription_id, attempt_number, outcome, http_status, error)
		SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, $3, NULLIF($4, 0), NULLIF($5, '')
		FROM relaybus.delivery_attempts
		WHERE event_id = $1 AND subscription_id = $2
		RETURNING attempt_number, attempted_at`,
		a.EventID, a.SubscriptionID, string(a.Outcome), a.HTTPStatus, a.Error,
	).Scan(&a.AttemptNumber, &a.AttemptedAt)
}

// ListAttempts returns the attempt audit trail for an event, oldest first.
func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]event.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, subscription_id, attempt_number, outcome,
		       COALESCE(http_status, 0), COALESCE(error, ''), attempted_at
		FROM relaybus.delivery_attempts
		WHERE event_id = $1
		ORDER BY attempted_at ASC, attempt_number ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.DeliveryAttempt
	for rows.Next() {
		var a event.DeliveryAttempt
		if err := rows.Scan(&a.EventID, &a.SubscriptionID, &a.AttemptNumber,
			&a.Outcome, &a.HTTPStatus, &a.Error, &a.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveEventStatus derives the overall event status from the latest
// delivery row per subscription: any dead delivery dead-letters the event,
// all delivered delivers it, otherwise it stays failed/dispatched. Only the
// newest row per subscription counts, so a successful replay supersedes the
// dead row it was replayed from.
func (s *Store) ResolveEventStatus(ctx context.Context, eventID string) (event.Status, error) {
	var total, delivered, dead, failed int
	err := s.pool.QueryRow(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (subscription_id) state
			FROM relaybus.deliveries
			WHERE event_id = $1
			ORDER BY subscription_id, enqueued_at DESC, id)
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE state = 'delivered'),
		       COUNT(*) FILTER (WHERE state = 'dead'),
		       COUNT(*) FILTER (WHERE state = 'failed')
		FROM latest`, eventID).Scan(&total, &delivered, &dead, &failed)
	if err != nil {
		return "", err
	}
	switch {
	case dead > 0:
		return event.StatusDeadLettered, nil
	case total > 0 && delivered == total:
		return event.StatusDelivered, nil
	case failed > 0:
		return event.StatusFailed, nil
	default:
		return event.StatusDispatched, nil
	}
}

// ChainHasEarlierPending reports whether an earlier event in the same
// correlation chain has not yet reached a terminal state. The dispatcher
// defers fanout while this holds, which is what serializes chain delivery.
func (s *Store) ChainHasEarlierPending(ctx context.Context, correlationID string, seq int64) (bool, error) {
	if correlationID == "" {
		return false, nil
	}
	var pending bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM relaybus.events
			WHERE correlation_id = $1 AND seq < $2
			  AND status NOT IN ('delivered', 'dead_lettered'))`,
		correlationID, seq).Scan(&pending)
	return pending, err
}

// PendingEvents returns accepted events older than age, highest priority
// first. The dispatcher recovery scan re-enqueues them; together with
// QueuedDeliveryTasks this is what makes a failed enqueue after a successful
// insert recoverable at either stage.
func (s *Store) PendingEvents(ctx context.Context, age time.Duration, limit int) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM relaybus.events
		WHERE status = 'accepted' AND created_at < now() - $1::interval
		ORDER BY priority DESC, seq ASC
		LIMIT $2`,
		fmt.Sprintf("%d seconds", int(age.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// QueuedDeliveryTasks returns delivery rows still queued after age, ready to
// be re-published to the deliveries topic. A row stays queued only when its
// task never reached the broker, so re-publishing cannot double-deliver more
// than the at-least-once contract already allows.
func (s *Store) QueuedDeliveryTasks(ctx context.Context, age time.Duration, limit int) ([]event.DeliveryTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.event_id, d.subscription_id, sub.callback_url, e.event_type, COALESCE(e.correlation_id, '')
		FROM relaybus.deliveries d
		JOIN relaybus.subscriptions sub ON sub.id = d.subscription_id
		JOIN relaybus.events e ON e.id = d.event_id
		WHERE d.state = 'queued' AND d.enqueued_at < now() - $1::interval
		ORDER BY d.enqueued_at ASC
		LIMIT $2`,
		fmt.Sprintf("%d seconds", int(age.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.DeliveryTask
	for rows.Next() {
		var t event.DeliveryTask
		if err := rows.Scan(&t.DeliveryID, &t.EventID, &t.SubscriptionID,
			&t.CallbackURL, &t.EventType, &t.CorrelationID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

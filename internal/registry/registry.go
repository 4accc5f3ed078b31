// Package registry owns subscription records and answers the dispatcher's
// matching queries. Matching always reads the store; there is no in-memory
// cache to go stale across dispatcher instances.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
)

type Registry struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// CreateRequest carries the fields of a new subscription.
type CreateRequest struct {
	EventTypes     []string        `json:"event_types"`
	CallbackURL    string          `json:"callback_url"`
	ServiceName    string          `json:"service_name"`
	FilterCriteria json.RawMessage `json:"filter_criteria,omitempty"`
	CreatedBy      string          `json:"-"`
}

// Create validates and persists a new subscription.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*event.Subscription, error) {
	if len(req.EventTypes) == 0 {
		return nil, buserr.Validationf("event_types", "at least one event type is required")
	}
	for _, t := range req.EventTypes {
		if t == "" {
			return nil, buserr.Validationf("event_types", "event type must be non-empty")
		}
	}
	if req.ServiceName == "" {
		return nil, buserr.Validationf("service_name", "required")
	}
	u, err := url.ParseRequestURI(req.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, buserr.Validationf("callback_url", "must be a valid http(s) URL")
	}
	if len(req.FilterCriteria) > 0 {
		var m map[string]any
		if err := json.Unmarshal(req.FilterCriteria, &m); err != nil {
			return nil, buserr.Validationf("filter_criteria", "must be a JSON object")
		}
	}

	sub := &event.Subscription{
		ID:             uuid.NewString(),
		EventTypes:     req.EventTypes,
		CallbackURL:    req.CallbackURL,
		ServiceName:    req.ServiceName,
		FilterCriteria: req.FilterCriteria,
		CreatedBy:      req.CreatedBy,
		Active:         true,
	}
	var criteria any
	if len(sub.FilterCriteria) > 0 {
		criteria = string(sub.FilterCriteria)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO relaybus.subscriptions(id, event_types, callback_url, service_name, filter_criteria, created_by, active)
		VALUES ($1, $2, $3, $4, $5::jsonb, NULLIF($6,''), TRUE)
		RETURNING created_at`,
		sub.ID, sub.EventTypes, sub.CallbackURL, sub.ServiceName, criteria, sub.CreatedBy,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListFilter narrows List. Zero values mean "no filter".
type ListFilter struct {
	ServiceName string
	ActiveOnly  bool
}

// List returns subscriptions, newest first.
func (r *Registry) List(ctx context.Context, f ListFilter) ([]*event.Subscription, error) {
	q := `
		SELECT id, event_types, callback_url, service_name, filter_criteria::text, created_by, created_at, active
		FROM relaybus.subscriptions
		WHERE ($1 = '' OR service_name = $1)
		  AND (NOT $2 OR active)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, f.ServiceName, f.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// Delete soft-deletes a subscription. The row is kept so delivery history
// stays referentially intact.
func (r *Registry) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE relaybus.subscriptions SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return buserr.NotFound("subscription", id)
	}
	return nil
}

// Match returns all active subscriptions whose type patterns and filter
// criteria match the event. Order is unspecified; the dispatcher treats the
// result as an unordered fan-out set. targetService narrows the result to
// one owning consumer (replay scoping); empty matches all.
func (r *Registry) Match(ctx context.Context, ev *event.Event, targetService string) ([]*event.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_types, callback_url, service_name, filter_criteria::text, created_by, created_at, active
		FROM relaybus.subscriptions
		WHERE active AND ($1 = '' OR service_name = $1)`, targetService)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}

	var matched []*event.Subscription
	for _, sub := range subs {
		if !MatchesType(sub.EventTypes, ev.Type) {
			continue
		}
		if !MatchesFilter(sub.FilterCriteria, ev.Data) {
			continue
		}
		matched = append(matched, sub)
	}
	return matched, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*event.Subscription, error) {
	var out []*event.Subscription
	for rows.Next() {
		var sub event.Subscription
		var criteria, createdBy sql.NullString
		if err := rows.Scan(&sub.ID, &sub.EventTypes, &sub.CallbackURL, &sub.ServiceName,
			&criteria, &createdBy, &sub.CreatedAt, &sub.Active); err != nil {
			return nil, err
		}
		if criteria.Valid {
			sub.FilterCriteria = []byte(criteria.String)
		}
		sub.CreatedBy = createdBy.String
		out = append(out, &sub)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybus/relaybus/internal/event"
)

// HistoryFilter narrows a history query. Zero values mean "no filter".
type HistoryFilter struct {
	EventType     string
	SourceService string
	Status        string
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

const defaultHistoryLimit = 50

// History returns events matching the filter, newest first.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]*event.Event, error) {
	// Build dynamic WHERE clause
	args := []any{}
	where := "1=1"
	argn := 0
	if f.EventType != "" {
		argn++
		where += fmt.Sprintf(" AND event_type = $%d", argn)
		args = append(args, f.EventType)
	}
	if f.SourceService != "" {
		argn++
		where += fmt.Sprintf(" AND source_service = $%d", argn)
		args = append(args, f.SourceService)
	}
	if f.Status != "" {
		argn++
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		argn++
		where += fmt.Sprintf(" AND created_at >= $%d", argn)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		argn++
		where += fmt.Sprintf(" AND created_at <= $%d", argn)
		args = append(args, f.To)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM relaybus.events
		WHERE %s
		ORDER BY created_at DESC, seq DESC
		LIMIT $%d OFFSET $%d`, eventColumns, where, argn+1, argn+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, q, args...)
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

// Stats aggregates the trailing-days window of bus activity.
type Stats struct {
	Days            int            `json:"days"`
	TotalEvents     int64          `json:"total_events"`
	ByType          map[string]int64 `json:"by_type"`
	ByStatus        map[string]int64 `json:"by_status"`
	AttemptsTotal   int64          `json:"attempts_total"`
	AttemptsSuccess int64          `json:"attempts_success"`
	AttemptsFailure int64          `json:"attempts_failure"`
	SuccessRatio    float64        `json:"success_ratio"`
}

// GetStats aggregates event and attempt counts over the trailing N days.
func (s *Store) GetStats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := fmt.Sprintf("%d days", days)
	st := &Stats{
		Days:     days,
		ByType:   make(map[string]int64),
		ByStatus: make(map[string]int64),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM relaybus.events
		WHERE created_at >= now() - $1::interval
		GROUP BY event_type`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByType[typ] = n
		st.TotalEvents += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM relaybus.events
		WHERE created_at >= now() - $1::interval
		GROUP BY status`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = 'success'),
		       COUNT(*) FILTER (WHERE outcome = 'failure')
		FROM relaybus.delivery_attempts
		WHERE attempted_at >= now() - $1::interval`, since,
	).Scan(&st.AttemptsTotal, &st.AttemptsSuccess, &st.AttemptsFailure)
	if err != nil {
		return nil, err
	}
	if st.AttemptsTotal > 0 {
		st.SuccessRatio = float64(st.AttemptsSuccess) / float64(st.AttemptsTotal)
	}
	return st, nil
}

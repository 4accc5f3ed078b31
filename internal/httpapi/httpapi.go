// Package httpapi is the JSON surface of the bus: publish, subscriptions,
// history, stats, replay, health.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaybus/relaybus/internal/auth"
	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/event"
	"github.com/relaybus/relaybus/internal/health"
	"github.com/relaybus/relaybus/internal/history"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/publish"
	"github.com/relaybus/relaybus/internal/registry"
	"github.com/relaybus/relaybus/internal/replay"
	"github.com/relaybus/relaybus/internal/store"
)

// Publisher accepts inbound events.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (string, error)
	PublishBatch(ctx context.Context, reqs []publish.Request) publish.BatchResponse
}

// SubscriptionRegistry manages subscription records.
type SubscriptionRegistry interface {
	Create(ctx context.Context, req registry.CreateRequest) (*event.Subscription, error)
	List(ctx context.Context, f registry.ListFilter) ([]*event.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// HistoryReader answers read-only queries.
type HistoryReader interface {
	GetHistory(ctx context.Context, f store.HistoryFilter) ([]*event.Event, error)
	GetStats(ctx context.Context, days int) (*store.Stats, error)
	GetEvent(ctx context.Context, id string) (*history.EventDetail, error)
}

// Replayer re-enters recorded events.
type Replayer interface {
	Replay(ctx context.Context, eventIDs []string, targetService string) []replay.Result
}

type Server struct {
	publisher Publisher
	registry  SubscriptionRegistry
	history   HistoryReader
	replayer  Replayer
	pool      *pgxpool.Pool
	broker    health.BrokerChecker
	validator *auth.JWTValidator
	promReg   *prometheus.Registry
	logger    *logging.Logger
}

func NewServer(publisher Publisher, reg SubscriptionRegistry, hist HistoryReader, rep Replayer,
	pool *pgxpool.Pool, broker health.BrokerChecker, validator *auth.JWTValidator,
	promReg *prometheus.Registry) *Server {
	return &Server{
		publisher: publisher,
		registry:  reg,
		history:   hist,
		replayer:  rep,
		pool:      pool,
		broker:    broker,
		validator: validator,
		promReg:   promReg,
		logger:    logging.New("relaybus-api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.validator.HTTPMiddleware)

	r.Get("/healthz", health.HTTPHandler(s.pool, s.broker))
	if s.promReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Post("/events", s.handlePublish)
		r.Post("/events/batch", s.handlePublishBatch)
		r.Get("/events", s.handleHistory)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Post("/subscriptions", s.handleCreateSubscription)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Delete("/subscriptions/{id}", s.handleDeleteSubscription)
		r.Get("/stats", s.handleStats)
		r.Post("/replay", s.handleReplay)
	})
	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publish.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, buserr.Validationf("body", "invalid JSON: %v", err))
		return
	}
	req.CreatedBy = auth.Actor(r.Context())
	id, err := s.publisher.Publish(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []publish.Request `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, buserr.Validationf("body", "invalid JSON: %v", err))
		return
	}
	if len(body.Events) == 0 {
		writeError(w, buserr.Validationf("events", "at least one event is required"))
		return
	}
	actor := auth.Actor(r.Context())
	for i := range body.Events {
		body.Events[i].CreatedBy = actor
	}
	resp := s.publisher.PublishBatch(r.Context(), body.Events)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, buserr.Validationf("body", "invalid JSON: %v", err))
		return
	}
	req.CreatedBy = auth.Actor(r.Context())
	sub, err := s.registry.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	f := registry.ListFilter{
		ServiceName: r.URL.Query().Get("service_name"),
		ActiveOnly:  r.URL.Query().Get("active") == "true",
	}
	subs, err := s.registry.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if subs == nil {
		subs = []*event.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.HistoryFilter{
		EventType:     q.Get("event_type"),
		SourceService: q.Get("source_service"),
		Status:        q.Get("status"),
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, buserr.Validationf("date_from", "expected RFC3339 timestamp"))
			return
		}
		f.From = t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, buserr.Validationf("date_to", "expected RFC3339 timestamp"))
			return
		}
		f.To = t
	}
	f.Limit = queryInt(q.Get("limit"), 0)
	f.Offset = queryInt(q.Get("offset"), 0)

	events, err := s.history.GetHistory(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	detail, err := s.history.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r.URL.Query().Get("days"), 7)
	stats, err := s.history.GetStats(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventIDs      []string `json:"event_ids"`
		TargetService string   `json:"target_service,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, buserr.Validationf("body", "invalid JSON: %v", err))
		return
	}
	if len(body.EventIDs) == 0 {
		writeError(w, buserr.Validationf("event_ids", "at least one event id is required"))
		return
	}
	results := s.replayer.Replay(r.Context(), body.EventIDs, body.TargetService)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case buserr.IsValidation(err):
		status = http.StatusBadRequest
	case buserr.IsNotFound(err):
		status = http.StatusNotFound
	case buserr.IsTransport(err):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

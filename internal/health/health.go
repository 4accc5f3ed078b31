package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BrokerChecker reports broker reachability.
type BrokerChecker interface {
	CheckConnection() bool
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database"`
	Broker   bool   `json:"broker"`
}

// HTTPHandler returns an HTTP handler that reports database and broker health
func HTTPHandler(pool *pgxpool.Pool, broker BrokerChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true, Broker: true}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
			}
		}
		if broker != nil && !broker.CheckConnection() {
			st.OK = false
			st.Broker = false
			if st.Message == "ok" {
				st.Message = "broker unreachable"
			}
		}
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}

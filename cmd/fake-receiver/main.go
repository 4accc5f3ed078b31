// fake-receiver is a configurable callback target for exercising the bus:
// it can fail the first N requests and delay responses to trigger the
// dispatcher's retry and timeout paths.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/relaybus/relaybus/internal/config"
)

var reqCount atomic.Int64

func main() {
	cfg := config.FromEnv().FakeReceiver

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook(cfg))

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s (fail_first_n=%d delay_ms=%d)", cfg.Port, cfg.FailFirstN, cfg.ResponseDelayMS)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(cfg config.FakeReceiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := reqCount.Add(1)
		b, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if cfg.ResponseDelayMS > 0 {
			time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
		}

		// Simulate flakiness: first N requests -> 500
		if n <= int64(cfg.FailFirstN) {
			log.Printf("FAILING (%d/%d) event_id=%s body=%s", n, cfg.FailFirstN,
				r.Header.Get("X-Relaybus-Event-Id"), truncate(string(b), 160))
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		log.Printf("fake-receiver OK event_id=%s type=%s body=%q",
			r.Header.Get("X-Relaybus-Event-Id"), r.Header.Get("X-Relaybus-Event-Type"), truncate(string(b), 160))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

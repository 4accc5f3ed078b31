package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaybus/relaybus/internal/config"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "shorter than limit", in: "short", n: 10, want: "short"},
		{name: "exactly at limit", in: "exact", n: 5, want: "exact"},
		{name: "longer than limit", in: "this is a long string", n: 7, want: "this is..."},
		{name: "empty string", in: "", n: 5, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestHandleHookFailFirstN(t *testing.T) {
	reqCount.Store(0)
	h := handleHook(config.FakeReceiver{FailFirstN: 2})

	// First two requests fail, the rest succeed.
	wantCodes := []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK, http.StatusOK}
	for i, want := range wantCodes {
		req := httptest.NewRequest("POST", "/hook", strings.NewReader(`{"event_id":"ev-1"}`))
		req.Header.Set("X-Relaybus-Event-Id", "ev-1")
		w := httptest.NewRecorder()
		h(w, req)

		if w.Code != want {
			t.Errorf("request %d status = %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestHandleHookAlwaysSucceedsByDefault(t *testing.T) {
	reqCount.Store(0)
	h := handleHook(config.FakeReceiver{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/hook", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		h(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

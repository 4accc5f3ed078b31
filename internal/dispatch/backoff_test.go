package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayDoubling(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay: 1 * time.Second,
		MaxDelay:  5 * time.Minute,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 9, want: 256 * time.Second},
		{attempt: 10, want: 5 * time.Minute}, // capped
		{attempt: 20, want: 5 * time.Minute},
		{attempt: 0, want: 1 * time.Second}, // clamped to first attempt
		{attempt: -1, want: 1 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	// Zero config falls back to 1s base, 5m cap.
	var cfg BackoffConfig
	if got := cfg.Delay(1); got != 1*time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
	if got := cfg.Delay(30); got != 5*time.Minute {
		t.Errorf("Delay(30) = %v, want 5m cap", got)
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay: 1 * time.Second, // ignored when Schedule is set
		Schedule:  []time.Duration{2 * time.Second, 10 * time.Second, 1 * time.Minute},
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 3, want: 1 * time.Minute},
		{attempt: 4, want: 1 * time.Minute}, // last entry repeats
		{attempt: 99, want: 1 * time.Minute},
	}

	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay:     10 * time.Second,
		MaxDelay:      5 * time.Minute,
		JitterPercent: 0.25,
	}

	min := time.Duration(float64(10*time.Second) * 0.75)
	max := time.Duration(float64(10*time.Second) * 1.25)
	for i := 0; i < 100; i++ {
		got := cfg.Delay(1)
		if got < min || got > max {
			t.Fatalf("Delay(1) with 25%% jitter = %v, want within [%v, %v]", got, min, max)
		}
	}
}

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{name: "timeout error", err: errors.New("context deadline exceeded"), want: "timeout"},
		{name: "client timeout", err: errors.New("Client.Timeout exceeded while awaiting headers"), want: "timeout"},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:9999: connect: connection refused"), want: "connection_refused"},
		{name: "dns failure", err: errors.New("dial tcp: lookup nosuchhost: no such host"), want: "dns_error"},
		{name: "other network error", err: errors.New("read: connection reset by peer"), want: "network"},
		{name: "server error", status: 500, want: "http_5xx"},
		{name: "bad gateway", status: 502, want: "http_5xx"},
		{name: "rate limited", status: 429, want: "http_429"},
		{name: "client error", status: 404, want: "http_4xx"},
		{name: "no error no failure status", status: 200, want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyReason(tt.err, tt.status); got != tt.want {
				t.Errorf("classifyReason(%v, %d) = %q, want %q", tt.err, tt.status, got, tt.want)
			}
		})
	}
}

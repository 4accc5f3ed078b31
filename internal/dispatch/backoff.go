package dispatch

import (
	"math/rand"
	"strings"
	"time"
)

// BackoffConfig controls retry delays. When Schedule is set it wins;
// otherwise delays double from BaseDelay up to MaxDelay.
type BackoffConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Schedule      []time.Duration
	JitterPercent float64
}

// Delay computes the requeue delay after a failed attempt. attempt is
// 1-based (the attempt that just failed).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var base time.Duration
	if len(c.Schedule) > 0 {
		idx := attempt - 1
		if idx >= len(c.Schedule) {
			idx = len(c.Schedule) - 1
		}
		base = c.Schedule[idx]
	} else {
		bd := c.BaseDelay
		if bd <= 0 {
			bd = time.Second
		}
		max := c.MaxDelay
		if max <= 0 {
			max = 5 * time.Minute
		}
		base = bd
		for i := 1; i < attempt && base < max; i++ {
			base *= 2
		}
		if base > max {
			base = max
		}
	}
	// jitter: +/- JitterPercent
	if c.JitterPercent > 0 {
		j := 1 + (rand.Float64()*2-1)*c.JitterPercent
		if j < 0.1 {
			j = 0.1
		}
		base = time.Duration(float64(base) * j)
	}
	return base
}

// classifyReason buckets a callback failure for retry metrics.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}

// Package retry implements the HTTP error taxonomy spec.md §7 describes,
// shared by every outbound HTTP client in the repo (Ledger L, the
// authoritative asset API, DEX price sources, the alert webhook).
package retry

import (
	"math"
	"math/rand"
	"net/http"
	"time"
)

const (
	baseDelay = 200 * time.Millisecond
	capDelay  = 5 * time.Second
	jitterPct = 0.20
)

// Classify reports whether a response with the given status (0 for a
// network error, no response received at all) should be retried, and the
// backoff multiplier to apply: Http-429 retries at 3x, Http-5xx and
// network errors retry at 1x, Http-413 and any other 4xx never retry.
func Classify(status int) (shouldRetry bool, multiplier float64) {
	switch {
	case status == 0:
		return true, 1
	case status == http.StatusTooManyRequests:
		return true, 3
	case status >= 500:
		return true, 1
	case status == http.StatusRequestEntityTooLarge:
		return false, 0
	case status >= 400:
		return false, 0
	default:
		return false, 0
	}
}

// Delay returns the backoff to wait before the given (0-indexed) retry
// attempt: min(base·2^attempt·multiplier, cap), with ±20% jitter.
func Delay(attempt int, multiplier float64) time.Duration {
	raw := float64(baseDelay) * math.Pow(2, float64(attempt)) * multiplier
	if raw > float64(capDelay) {
		raw = float64(capDelay)
	}
	jitter := raw * jitterPct * (rand.Float64()*2 - 1)
	d := time.Duration(raw + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

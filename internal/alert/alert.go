// Package alert defines the notification boundary consumed by the price
// oracle's circuit breaker and by the keeper and rebalancer daemons: a
// small Sink interface plus a Telegram-backed implementation of it, per
// spec.md §1's "Telegram alerting sink" external collaborator. The
// validator and relay send no alerts.
package alert

import "context"

// Severity classifies a notification for the sink's own formatting/routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sink is the boundary every daemon depends on; only TelegramSink below
// talks to an actual external service.
type Sink interface {
	Notify(ctx context.Context, severity Severity, message string) error
}

// NoopSink discards every notification. Used when no alert channel is
// configured, so callers never need a nil check.
type NoopSink struct{}

func (NoopSink) Notify(context.Context, Severity, string) error { return nil }

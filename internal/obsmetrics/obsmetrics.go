// Package obsmetrics wraps github.com/ethereum/go-ethereum/metrics the way
// geth's own subsystems instrument themselves: a shared registry per
// process, dynamically named counters/meters/timers keyed by call-site
// dimensions (method, path, status), exported over HTTP for an external
// Prometheus scraper.
package obsmetrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// Registry is the process-wide metrics registry. Each daemon owns exactly
// one; nothing here is shared across process boundaries per spec.md §5.
var Registry = metrics.NewRegistry()

func init() {
	metrics.Enabled = true
}

// HTTPCallMetrics instruments an outbound HTTP client the way spec.md
// §4.1 requires: a duration histogram keyed by (method, path-without-
// query), an error counter keyed by (status, path), and a retry counter
// keyed by (status, path).
type HTTPCallMetrics struct {
	namespace string
}

func NewHTTPCallMetrics(namespace string) HTTPCallMetrics {
	return HTTPCallMetrics{namespace: namespace}
}

// stripQuery drops everything from the first "?" onward so a call site
// that passes a path with a query string doesn't explode the metric
// cardinality with one series per parameter value.
func stripQuery(path string) string {
	p, _, _ := strings.Cut(path, "?")
	return p
}

func (m HTTPCallMetrics) ObserveDuration(method, path string, d time.Duration) {
	name := fmt.Sprintf("%s/duration/%s/%s", m.namespace, method, stripQuery(path))
	metrics.GetOrRegisterTimer(name, Registry).Update(d)
}

func (m HTTPCallMetrics) IncError(status int, path string) {
	name := fmt.Sprintf("%s/errors/%d/%s", m.namespace, status, stripQuery(path))
	metrics.GetOrRegisterCounter(name, Registry).Inc(1)
}

func (m HTTPCallMetrics) IncRetry(status int, path string) {
	name := fmt.Sprintf("%s/retries/%d/%s", m.namespace, status, stripQuery(path))
	metrics.GetOrRegisterCounter(name, Registry).Inc(1)
}

// Counter returns (creating if necessary) a named counter in the shared
// registry — used for domain events like "validator/signed",
// "relay/skipped/nonce-gap", "oracle/circuit-breaker/trip".
func Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, Registry)
}

// Gauge returns (creating if necessary) a named gauge, used for
// point-in-time state like the oracle's last accepted price or the
// relay's processed-set size.
func Gauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(name, Registry)
}

// Timer returns (creating if necessary) a named timer, used for
// end-to-end loop-iteration latency.
func Timer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, Registry)
}

package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/alert"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
)

// sourceState is per-source bookkeeping, spec.md §3's "per-source
// consecutive-failure counter".
type sourceState struct {
	consecutiveFailures int
	lastSuccess         time.Time
	healthy             bool
}

// symbolState is per-symbol bookkeeping: the published baseline bounds
// checks compare against, and how many consecutive rejections have
// accumulated since the baseline was last accepted.
type symbolState struct {
	lastAcceptedPrice float64
	rejectionCount    int
	stableInitialized bool
}

// Config carries Pipeline's tunables, already resolved from
// config.OracleSettings by the caller.
type Config struct {
	DivergenceThresholdPct float64
	MaxChangePerUpdatePct  float64
	MaxConsecutiveFailures int
	RelaxAfterNRejections  int
	MinPriceUSD            float64
	MaxPriceUSD            float64
	StableSymbols          map[string]bool
}

// Pipeline is one oracle daemon's fetch-evaluate-publish state machine,
// spec.md §4.5. Single-threaded: every exported method assumes the
// caller's cooperative event loop serializes calls, per spec.md §5.
type Pipeline struct {
	cfg       Config
	primary   PriceSource
	fallback  PriceSource
	publisher Publisher
	sink      alert.Sink
	log       log.Logger

	sources map[string]*sourceState // keyed by PriceSource.Name()
	symbols map[string]*symbolState // keyed by symbol

	paused bool
}

func New(cfg Config, primary, fallback PriceSource, publisher Publisher, sink alert.Sink, logger log.Logger) *Pipeline {
	if sink == nil {
		sink = alert.NoopSink{}
	}
	return &Pipeline{
		cfg:       cfg,
		primary:   primary,
		fallback:  fallback,
		publisher: publisher,
		sink:      sink,
		log:       logger,
		sources: map[string]*sourceState{
			primary.Name():  {},
			fallback.Name(): {},
		},
		symbols: make(map[string]*symbolState),
	}
}

// Paused reports the circuit breaker's current state.
func (p *Pipeline) Paused() bool { return p.paused }

// ResetCircuitBreaker is the operator recovery action spec.md §4.5
// requires: it clears the paused flag and both sources' failure streaks
// so the breaker doesn't immediately re-trip on the next cycle against
// whatever stale counts caused the trip.
func (p *Pipeline) ResetCircuitBreaker() {
	p.paused = false
	for _, s := range p.sources {
		s.consecutiveFailures = 0
	}
}

func (p *Pipeline) symbolState(symbol string) *symbolState {
	st, ok := p.symbols[symbol]
	if !ok {
		st = &symbolState{}
		p.symbols[symbol] = st
	}
	return st
}

// InitStableSymbol pins symbol's baseline to 1.0 once at boot. Subsequent
// RunCycle calls for a stable symbol are no-ops until RefreshStable is
// called explicitly, per spec.md §4.5's stable-coin feed note.
func (p *Pipeline) InitStableSymbol(ctx context.Context, symbol string) error {
	st := p.symbolState(symbol)
	if st.stableInitialized {
		return nil
	}
	if err := p.publisher.PublishPrice(ctx, symbol, 1.0, "stable-pinned"); err != nil {
		return fmt.Errorf("oracle: InitStableSymbol(%s): %w", symbol, err)
	}
	st.lastAcceptedPrice = 1.0
	st.stableInitialized = true
	return nil
}

// RefreshStable re-publishes 1.0 for a pinned symbol on explicit operator
// request, bypassing the skip RunCycle otherwise applies to stable
// symbols.
func (p *Pipeline) RefreshStable(ctx context.Context, symbol string) error {
	if err := p.publisher.PublishPrice(ctx, symbol, 1.0, "stable-pinned"); err != nil {
		return fmt.Errorf("oracle: RefreshStable(%s): %w", symbol, err)
	}
	p.symbolState(symbol).lastAcceptedPrice = 1.0
	return nil
}

// RunCycle fetches both sources for symbol, applies divergence blocking,
// multi-provider averaging or single-source fallback, bounds checks, and
// publishes on acceptance. A stable symbol that has already been
// initialized is skipped entirely.
func (p *Pipeline) RunCycle(ctx context.Context, symbol string) error {
	if p.cfg.StableSymbols[symbol] {
		st := p.symbolState(symbol)
		if st.stableInitialized {
			return nil
		}
		return p.InitStableSymbol(ctx, symbol)
	}

	primaryPrice, primaryErr := p.primary.FetchPrice(ctx, symbol)
	fallbackPrice, fallbackErr := p.fallback.FetchPrice(ctx, symbol)

	price, label, ok := p.resolvePrice(symbol, primaryPrice, primaryErr, fallbackPrice, fallbackErr)

	// A divergence rejection (both fetches succeeded, nothing publishable)
	// leaves both sources' failure counters as they were.
	if ok || primaryErr != nil || fallbackErr != nil {
		p.recordFetch(p.primary.Name(), primaryErr)
		p.recordFetch(p.fallback.Name(), fallbackErr)
	}

	p.evaluateCircuitBreaker(ctx)

	if !ok {
		return nil
	}

	if p.paused {
		p.log.Warn("oracle circuit breaker open, skipping publish", "symbol", symbol, "price", price)
		return nil
	}

	st := p.symbolState(symbol)
	if !p.withinBounds(symbol, st, price) {
		st.rejectionCount++
		if st.rejectionCount >= p.cfg.RelaxAfterNRejections {
			p.log.Warn("oracle relaxing baseline after repeated rejections", "symbol", symbol, "rejections", st.rejectionCount)
			st.lastAcceptedPrice = 0
			st.rejectionCount = 0
		}
		return nil
	}

	if err := p.publisher.PublishPrice(ctx, symbol, price, label); err != nil {
		return fmt.Errorf("oracle: RunCycle(%s): %w", symbol, err)
	}
	st.lastAcceptedPrice = price
	st.rejectionCount = 0
	obsmetrics.Gauge(fmt.Sprintf("oracle/lastAcceptedPrice/%s", symbol)).Update(int64(price * 1e6))
	return nil
}

func (p *Pipeline) recordFetch(name string, err error) {
	s := p.sources[name]
	if err != nil {
		s.consecutiveFailures++
		s.healthy = false
		return
	}
	s.consecutiveFailures = 0
	s.healthy = true
	s.lastSuccess = time.Now()
}

func (p *Pipeline) evaluateCircuitBreaker(ctx context.Context) {
	if p.paused {
		return
	}
	total := 0
	for _, s := range p.sources {
		total += s.consecutiveFailures
	}
	if total > p.cfg.MaxConsecutiveFailures {
		p.paused = true
		obsmetrics.Counter("oracle/circuit-breaker/trip").Inc(1)
		if err := p.sink.Notify(ctx, alert.SeverityCritical, fmt.Sprintf("oracle circuit breaker tripped: %d total consecutive failures across sources", total)); err != nil {
			p.log.Warn("oracle circuit breaker alert failed to send", "reason", err)
		}
	}
}

// resolvePrice applies divergence blocking and multi-provider averaging.
// ok is false when the cycle yields nothing publishable.
func (p *Pipeline) resolvePrice(symbol string, primaryPrice float64, primaryErr error, fallbackPrice float64, fallbackErr error) (price float64, label string, ok bool) {
	switch {
	case primaryErr == nil && fallbackErr == nil:
		avg := (primaryPrice + fallbackPrice) / 2
		divergencePct := math.Abs(primaryPrice-fallbackPrice) / avg * 100
		if divergencePct > p.cfg.DivergenceThresholdPct {
			p.log.Warn("oracle rejected cycle: cross-source divergence", "symbol", symbol, "primary", primaryPrice, "fallback", fallbackPrice, "divergencePct", divergencePct)
			obsmetrics.Counter("oracle/rejected/divergence").Inc(1)
			return 0, "", false
		}
		return avg, "dual-source", true
	case primaryErr == nil:
		p.log.Warn("oracle fallback source failed, publishing single-source", "symbol", symbol, "reason", fallbackErr)
		return primaryPrice, "single-source", true
	case fallbackErr == nil:
		p.log.Warn("oracle primary source failed, publishing single-source", "symbol", symbol, "reason", primaryErr)
		return fallbackPrice, "single-source", true
	default:
		p.log.Warn("oracle both sources failed", "symbol", symbol, "primaryReason", primaryErr, "fallbackReason", fallbackErr)
		return 0, "", false
	}
}

// withinBounds applies spec.md §4.5's bounds checks against the last
// accepted price only — never against a rejected candidate.
func (p *Pipeline) withinBounds(symbol string, st *symbolState, price float64) bool {
	if price < p.cfg.MinPriceUSD || price > p.cfg.MaxPriceUSD {
		p.log.Warn("oracle rejected price: outside absolute bounds", "symbol", symbol, "price", price, "min", p.cfg.MinPriceUSD, "max", p.cfg.MaxPriceUSD)
		obsmetrics.Counter("oracle/rejected/bounds").Inc(1)
		return false
	}
	if st.lastAcceptedPrice > 0 {
		changePct := math.Abs(price-st.lastAcceptedPrice) / st.lastAcceptedPrice * 100
		if changePct > p.cfg.MaxChangePerUpdatePct {
			p.log.Warn("oracle rejected price: exceeds per-update change cap", "symbol", symbol, "price", price, "lastAccepted", st.lastAcceptedPrice, "changePct", changePct)
			obsmetrics.Counter("oracle/rejected/change-cap").Inc(1)
			return false
		}
	}
	return true
}

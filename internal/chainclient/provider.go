package chainclient

import "sync"

// ProviderRotator tracks the primary/fallback RPC URL set and a
// consecutive-failed-cycle counter: after threshold (default 3)
// consecutive recorded failures, rotate to the next provider, cycling back
// to primary, resetting the counter on success. It does not classify
// errors; every RecordFailure call counts.
type ProviderRotator struct {
	mu        sync.Mutex
	urls      []string
	idx       int
	failures  int
	threshold int
}

func NewProviderRotator(urls []string, threshold int) *ProviderRotator {
	if threshold <= 0 {
		threshold = 3
	}
	return &ProviderRotator{urls: urls, threshold: threshold}
}

// Current returns the presently-selected provider URL.
func (p *ProviderRotator) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.idx]
}

// RecordSuccess resets the consecutive-failure counter.
func (p *ProviderRotator) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
}

// RecordFailure counts one failed cycle and reports whether the
// threshold was just reached, in which case it also advances to the next
// provider (wrapping back to primary) and resets the counter.
func (p *ProviderRotator) RecordFailure() (rotated bool, next string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures < p.threshold {
		return false, p.urls[p.idx]
	}
	p.idx = (p.idx + 1) % len(p.urls)
	p.failures = 0
	return true, p.urls[p.idx]
}

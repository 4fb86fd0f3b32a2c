package attestation

import (
	"math/big"
	"time"
)

// SigningEnvelope is the validator-local signing envelope state, spec.md
// §3/§4.2: a sliding window of signing timestamps, the last signed
// globalAssets value, and the signed-set of attestation ids already
// handled. One instance per validator process.
type SigningEnvelope struct {
	maxSignsPerWindow int
	window            time.Duration
	maxJumpBps        int64

	timestamps      []time.Time
	lastSignedTotal *big.Int

	SignedSet   *BoundedSet
	ActiveKeyID string
}

func NewSigningEnvelope(maxSignsPerWindow int, window time.Duration, maxJumpBps int64, signedSetCapacity int) *SigningEnvelope {
	return &SigningEnvelope{
		maxSignsPerWindow: maxSignsPerWindow,
		window:            window,
		maxJumpBps:        maxJumpBps,
		SignedSet:         NewBoundedSet(signedSetCapacity),
	}
}

func (e *SigningEnvelope) pruneWindow(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for ; i < len(e.timestamps); i++ {
		if e.timestamps[i].After(cutoff) {
			break
		}
	}
	e.timestamps = e.timestamps[i:]
}

// RateLimitSaturated reports whether signing now would exceed
// maxSignsPerWindow within the trailing window.
func (e *SigningEnvelope) RateLimitSaturated(now time.Time) bool {
	e.pruneWindow(now)
	return len(e.timestamps) >= e.maxSignsPerWindow
}

// JumpExceeded reports whether newTotal differs from the last signed
// total by more than maxJumpBps. The very first signature (no prior
// total) is never rejected by the jump cap.
func (e *SigningEnvelope) JumpExceeded(newTotal *big.Int) bool {
	if e.lastSignedTotal == nil || e.lastSignedTotal.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(newTotal, e.lastSignedTotal)
	diff.Abs(diff)
	// diff/last > maxJumpBps/10000  <=>  diff*10000 > maxJumpBps*last
	lhs := new(big.Int).Mul(diff, big.NewInt(10_000))
	rhs := new(big.Int).Mul(e.lastSignedTotal, big.NewInt(e.maxJumpBps))
	return lhs.Cmp(rhs) > 0
}

// RecordSign registers a successful sign at now with the given total,
// advancing both the rate-limit window and the jump-cap baseline.
func (e *SigningEnvelope) RecordSign(now time.Time, total *big.Int) {
	e.pruneWindow(now)
	e.timestamps = append(e.timestamps, now)
	e.lastSignedTotal = new(big.Int).Set(total)
}

// LastSignedTotal exposes the jump-cap baseline for observability/tests.
func (e *SigningEnvelope) LastSignedTotal() *big.Int {
	if e.lastSignedTotal == nil {
		return nil
	}
	return new(big.Int).Set(e.lastSignedTotal)
}

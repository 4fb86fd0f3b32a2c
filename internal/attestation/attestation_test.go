package attestation

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func samplePayload() Payload {
	return Payload{
		AttestationID: "att-1",
		GlobalAssets:  big.NewInt(1_000_000_000_000_000_000),
		Nonce:         7,
		ChainID:       1,
		ExpiresAt:     time.Unix(2*3600, 0),
		Entropy:       [32]byte{1, 2, 3},
		StateHash:     [32]byte{4, 5, 6},
	}
}

func TestCanonicalIDDeterministic(t *testing.T) {
	p := samplePayload()
	target := common.HexToAddress("0x00000000000000000000000000000000000001")
	id1 := CanonicalID(p, target)
	id2 := CanonicalID(p, target)
	if id1 != id2 {
		t.Fatal("CanonicalID must be deterministic for identical inputs")
	}
	p2 := p
	p2.Nonce = 8
	if CanonicalID(p2, target) == id1 {
		t.Fatal("CanonicalID must change when nonce changes")
	}
}

func TestBoundedSetEvictsOldest10PercentOnOverflow(t *testing.T) {
	s := NewBoundedSet(10)
	for i := 0; i < 10; i++ {
		s.Add(string(rune('a' + i)))
	}
	if s.Len() != 10 {
		t.Fatalf("expected 10 entries, got %d", s.Len())
	}
	s.Add("k") // 11th insert triggers eviction of oldest max(1,1)=1
	if s.Contains("a") {
		t.Fatal("expected oldest entry to be evicted")
	}
	if !s.Contains("k") {
		t.Fatal("expected newly inserted entry to be present")
	}
}

func TestBoundedSetRemove(t *testing.T) {
	s := NewBoundedSet(10)
	s.Add("x")
	s.Remove("x")
	if s.Contains("x") {
		t.Fatal("expected x to be removed")
	}
}

func TestSigningEnvelopeRateLimit(t *testing.T) {
	e := NewSigningEnvelope(2, time.Hour, 2000, 100)
	now := time.Now()
	if e.RateLimitSaturated(now) {
		t.Fatal("should not be saturated before any signs")
	}
	e.RecordSign(now, big.NewInt(100))
	e.RecordSign(now, big.NewInt(100))
	if !e.RateLimitSaturated(now) {
		t.Fatal("expected saturation after reaching max signs per window")
	}
}

func TestSigningEnvelopeJumpCap(t *testing.T) {
	e := NewSigningEnvelope(50, time.Hour, 2000, 100) // 20% cap
	now := time.Now()
	e.RecordSign(now, big.NewInt(1000))
	if e.JumpExceeded(big.NewInt(1150)) {
		t.Fatal("15% jump should be within a 20% cap")
	}
	if !e.JumpExceeded(big.NewInt(1300)) {
		t.Fatal("30% jump should exceed a 20% cap")
	}
}

func TestSigningEnvelopeFirstSignNeverRejectedByJumpCap(t *testing.T) {
	e := NewSigningEnvelope(50, time.Hour, 2000, 100)
	if e.JumpExceeded(big.NewInt(999_999_999)) {
		t.Fatal("first sign must never be rejected by the jump cap")
	}
}

func TestParseFixed18(t *testing.T) {
	v, err := ParseFixed18("1.5")
	if err != nil {
		t.Fatal(err)
	}
	want := big.NewInt(1_500_000_000_000_000_000)
	if v.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", v, want)
	}
	if _, err := ParseFixed18("1.1234567890123456789"); err == nil {
		t.Fatal("expected error for >18 fractional digits")
	}
}

func TestDecodeRequestRejectsCollectedSignatureOutsideGroup(t *testing.T) {
	args := DecodeArgs{
		"aggregator":         "relay-party",
		"validatorGroup":     []any{"v1", "v2"},
		"collectedSignatures": []any{"v3"},
		"ecdsaSignatures":    []any{},
		"requiredSignatures": "2",
		"payload": DecodeArgs{
			"attestationId":       "att-1",
			"globalAssets":        "100.0",
			"nonce":               "1",
			"chainId":             "1",
			"expiresAt":           time.Now().Format(time.RFC3339),
			"entropy":             "0x" + repeatHex("aa", 32),
			"stateHash":           "0x" + repeatHex("bb", 32),
			"targetBridgeAddress": "0x0000000000000000000000000000000000000001",
		},
	}
	if _, err := DecodeRequest("cid-1", args, DirectionL2E); err == nil {
		t.Fatal("expected error for collectedSignatures outside validatorGroup")
	}
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

// Package attestation implements the data model shared by the validator
// node and the relay: the attestation request/payload record types, the
// canonical on-chain id and signing-digest derivations, and the bounded
// in-memory caches (processed-set, signed-set) both daemons keep.
package attestation

import (
	"math/big"
	"time"
)

// TTL is the fixed offset subtracted from expiresAt to recover the
// created-at timestamp the on-chain struct expects. Spec-fixed at 1 hour.
const TTL = time.Hour

// Direction tags which way an attestation flows.
type Direction string

const (
	DirectionL2E Direction = "L2E"
	DirectionE2L Direction = "E2L"
)

// AssetRef is one asset line item backing a payload's declared total,
// checked against the authoritative snapshot in the validator's
// off-chain re-verification step (spec.md §4.2 step 4).
type AssetRef struct {
	AssetID       string
	DeclaredValue *big.Int // fixed-point, 18 fractional digits
}

// Payload is the Attestation Payload record, spec.md §3.
type Payload struct {
	AttestationID string
	GlobalAssets  *big.Int // fixed-point, 18 fractional digits
	Nonce         uint64
	ChainID       int64
	ExpiresAt     time.Time
	Entropy       [32]byte
	StateHash     [32]byte

	TargetBridgeAddress string // chain-E contract address, as seen in the payload

	// Collateralization fields consumed only by the validator's
	// authoritative-state re-verification (spec.md §4.2 step 4); absent
	// from requests a relay decodes, where they default to zero values.
	Assets              []AssetRef
	RequestedCap        *big.Int // fixed-point, 18 fractional digits
	RatioBps            int64
	IncludedAssetsValue *big.Int // fixed-point, 18 fractional digits
}

// RequiredCollateral computes requestedCap * ratioBps / 10000.
func (p Payload) RequiredCollateral() *big.Int {
	cap := p.RequestedCap
	if cap == nil {
		cap = big.NewInt(0)
	}
	num := new(big.Int).Mul(cap, big.NewInt(p.RatioBps))
	return num.Div(num, big.NewInt(10_000))
}

// DerivedTimestamp computes floor(expiresAt_ms/1000) - TTL, the created-at
// timestamp the on-chain struct and the signing digest both use.
func (p Payload) DerivedTimestamp() int64 {
	return p.ExpiresAt.Unix() - int64(TTL.Seconds())
}

// EcdsaSignatureEntry is one (party, hex signature) pair carried on an
// AttestationRequest.
type EcdsaSignatureEntry struct {
	Party        string
	SignatureHex string
}

// Request is the Attestation Request record, spec.md §3.
type Request struct {
	ContractID          string // L contract id this request lives at
	Aggregator          string
	ValidatorGroup       []string
	Payload              Payload
	CollectedSignatures  []string
	EcdsaSignatures      []EcdsaSignatureEntry
	RequiredSignatures   int
	Direction            Direction
}

// HasCollected reports whether party already appears in CollectedSignatures.
func (r Request) HasCollected(party string) bool {
	for _, p := range r.CollectedSignatures {
		if p == party {
			return true
		}
	}
	return false
}

// InValidatorGroup reports whether party is a member of ValidatorGroup.
func (r Request) InValidatorGroup(party string) bool {
	for _, p := range r.ValidatorGroup {
		if p == party {
			return true
		}
	}
	return false
}

// ValidatorSignature is the on-L Validator Signature record, spec.md §3.
type ValidatorSignature struct {
	RequestID       string
	Validator       string
	EcdsaSignature  string
	Nonce           uint64
	StateHash       [32]byte
}

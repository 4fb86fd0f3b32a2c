package attestation

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// DecodeArgs is the loosely-typed createArgument map the L-API returns for
// a JsActiveContract entry. Implementers inherit ad-hoc assertMoney/
// assertParty checks scattered through the original; this file
// consolidates them into one boundary validator, per spec.md §9.
type DecodeArgs = map[string]any

func assertString(m DecodeArgs, field string) (string, error) {
	v, ok := m[field]
	if !ok {
		return "", fmt.Errorf("attestation: missing field %q", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attestation: field %q is not a string", field)
	}
	return s, nil
}

func assertParty(m DecodeArgs, field string) (string, error) {
	s, err := assertString(m, field)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("attestation: field %q is an empty party", field)
	}
	return s, nil
}

func assertPartyList(m DecodeArgs, field string) ([]string, error) {
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("attestation: missing field %q", field)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("attestation: field %q is not a list", field)
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("attestation: field %q contains a non-party entry", field)
		}
		if seen[s] {
			return nil, fmt.Errorf("attestation: field %q contains duplicate party %q", field, s)
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// assertMoney parses a decimal string scaled to 18 fractional digits into
// a fixed-point big.Int (the integer number of 1e-18 units), matching the
// wire format the authoritative asset API and the ledger both use.
func assertMoney(m DecodeArgs, field string) (*big.Int, error) {
	s, err := assertString(m, field)
	if err != nil {
		return nil, err
	}
	return ParseFixed18(s)
}

// ParseFixed18 parses a base-10 decimal string into its 1e-18-scaled
// integer representation, rejecting more than 18 fractional digits.
func ParseFixed18(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > 18 {
		return nil, fmt.Errorf("attestation: decimal %q exceeds 18 fractional digits", s)
	}
	for len(fracPart) < 18 {
		fracPart += "0"
	}
	digits := intPart + fracPart
	if digits == "" {
		digits = "0"
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("attestation: invalid decimal %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// assertMoneyOptional defaults to zero when field is absent, for payload
// fields the relay's decode path never populates.
func assertMoneyOptional(m DecodeArgs, field string) (*big.Int, error) {
	if _, ok := m[field]; !ok {
		return big.NewInt(0), nil
	}
	return assertMoney(m, field)
}

func assertInt64Optional(m DecodeArgs, field string) (int64, error) {
	if _, ok := m[field]; !ok {
		return 0, nil
	}
	return assertInt64(m, field)
}

// assertAssetRefsOptional parses a list of {assetId, declaredValue} maps,
// defaulting to an empty slice when the field is absent.
func assertAssetRefsOptional(m DecodeArgs, field string) ([]AssetRef, error) {
	v, ok := m[field]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("attestation: field %q is not a list", field)
	}
	out := make([]AssetRef, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(DecodeArgs)
		if !ok {
			return nil, fmt.Errorf("attestation: field %q entry is malformed", field)
		}
		assetID, err := assertString(entry, "assetId")
		if err != nil {
			return nil, err
		}
		declared, err := assertMoney(entry, "declaredValue")
		if err != nil {
			return nil, err
		}
		out = append(out, AssetRef{AssetID: assetID, DeclaredValue: declared})
	}
	return out, nil
}

func assertUint64(m DecodeArgs, field string) (uint64, error) {
	s, err := assertString(m, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attestation: field %q is not a non-negative integer: %w", field, err)
	}
	return n, nil
}

func assertInt64(m DecodeArgs, field string) (int64, error) {
	s, err := assertString(m, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attestation: field %q is not an integer: %w", field, err)
	}
	return n, nil
}

func assertHex32(m DecodeArgs, field string) ([32]byte, error) {
	var out [32]byte
	s, err := assertString(m, field)
	if err != nil {
		return out, err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("attestation: field %q is not valid hex: %w", field, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("attestation: field %q must be 32 bytes, got %d", field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func assertRFC3339(m DecodeArgs, field string) (time.Time, error) {
	s, err := assertString(m, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("attestation: field %q is not RFC3339: %w", field, err)
	}
	return t, nil
}

// DecodePayload validates and converts a loosely-typed createArgument map
// into a Payload. Every field is checked at this one boundary instead of
// scattered ad-hoc asserts downstream.
func DecodePayload(m DecodeArgs) (Payload, error) {
	var p Payload
	var err error
	if p.AttestationID, err = assertString(m, "attestationId"); err != nil {
		return Payload{}, err
	}
	if p.GlobalAssets, err = assertMoney(m, "globalAssets"); err != nil {
		return Payload{}, err
	}
	if p.Nonce, err = assertUint64(m, "nonce"); err != nil {
		return Payload{}, err
	}
	if p.ChainID, err = assertInt64(m, "chainId"); err != nil {
		return Payload{}, err
	}
	if p.ExpiresAt, err = assertRFC3339(m, "expiresAt"); err != nil {
		return Payload{}, err
	}
	if p.Entropy, err = assertHex32(m, "entropy"); err != nil {
		return Payload{}, err
	}
	if p.StateHash, err = assertHex32(m, "stateHash"); err != nil {
		return Payload{}, err
	}
	if p.TargetBridgeAddress, err = assertString(m, "targetBridgeAddress"); err != nil {
		return Payload{}, err
	}
	if p.Assets, err = assertAssetRefsOptional(m, "assets"); err != nil {
		return Payload{}, err
	}
	if p.RequestedCap, err = assertMoneyOptional(m, "requestedCap"); err != nil {
		return Payload{}, err
	}
	if p.RatioBps, err = assertInt64Optional(m, "ratioBps"); err != nil {
		return Payload{}, err
	}
	if p.IncludedAssetsValue, err = assertMoneyOptional(m, "includedAssetsValue"); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// DecodeRequest validates and converts a full active-contract
// createArgument map into a Request, enforcing the invariants listed in
// spec.md §3: collectedSignatures ⊆ validatorGroup, each ecdsaSignatures
// entry appears at most once and belongs to collectedSignatures.
func DecodeRequest(contractID string, m DecodeArgs, direction Direction) (Request, error) {
	var r Request
	var err error
	r.ContractID = contractID
	r.Direction = direction
	if r.Aggregator, err = assertParty(m, "aggregator"); err != nil {
		return Request{}, err
	}
	if r.ValidatorGroup, err = assertPartyList(m, "validatorGroup"); err != nil {
		return Request{}, err
	}
	payloadRaw, ok := m["payload"].(DecodeArgs)
	if !ok {
		return Request{}, fmt.Errorf("attestation: missing or malformed payload")
	}
	if r.Payload, err = DecodePayload(payloadRaw); err != nil {
		return Request{}, err
	}
	if r.CollectedSignatures, err = assertPartyList(m, "collectedSignatures"); err != nil {
		return Request{}, err
	}
	inGroup := make(map[string]bool, len(r.ValidatorGroup))
	for _, p := range r.ValidatorGroup {
		inGroup[p] = true
	}
	for _, p := range r.CollectedSignatures {
		if !inGroup[p] {
			return Request{}, fmt.Errorf("attestation: collectedSignatures contains %q which is not in validatorGroup", p)
		}
	}
	sigsRaw, ok := m["ecdsaSignatures"].([]any)
	if !ok {
		return Request{}, fmt.Errorf("attestation: missing or malformed ecdsaSignatures")
	}
	collected := make(map[string]bool, len(r.CollectedSignatures))
	for _, p := range r.CollectedSignatures {
		collected[p] = true
	}
	seenSigners := make(map[string]bool, len(sigsRaw))
	for _, item := range sigsRaw {
		pair, ok := item.(DecodeArgs)
		if !ok {
			return Request{}, fmt.Errorf("attestation: ecdsaSignatures entry is malformed")
		}
		party, err := assertParty(pair, "party")
		if err != nil {
			return Request{}, err
		}
		sigHex, err := assertString(pair, "signature")
		if err != nil {
			return Request{}, err
		}
		if seenSigners[party] {
			return Request{}, fmt.Errorf("attestation: duplicate ecdsaSignatures entry for party %q", party)
		}
		if !collected[party] {
			return Request{}, fmt.Errorf("attestation: ecdsaSignatures entry for %q not in collectedSignatures", party)
		}
		seenSigners[party] = true
		r.EcdsaSignatures = append(r.EcdsaSignatures, EcdsaSignatureEntry{Party: party, SignatureHex: sigHex})
	}
	reqSigs, err := assertUint64(m, "requiredSignatures")
	if err != nil {
		return Request{}, err
	}
	if reqSigs == 0 {
		return Request{}, fmt.Errorf("attestation: requiredSignatures must be positive")
	}
	r.RequiredSignatures = int(reqSigs)
	return r, nil
}

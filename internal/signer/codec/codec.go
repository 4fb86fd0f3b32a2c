// Package codec implements the signature codec spec.md §4.4 describes:
// converting an HSM-produced DER ECDSA signature into the 65-byte
// recoverable (r, s, v) form Chain E verifies, including low-S
// canonicalisation and recovery-id search against a known signer.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRecoveryIDFailed is returned when neither v=27 nor v=28 recovers the
// expected signer address.
var ErrRecoveryIDFailed = errors.New("codec: RECOVERY_ID_FAILED")

var secp256k1N = crypto.S256().Params().N
var secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)

const maxScalarLen = 33 // secp256k1 scalar (32 bytes) + optional leading sign byte

// ParseDERToRSV converts a DER-encoded ECDSA signature over digest into a
// 65-byte r‖s‖v signature (v ∈ {27, 28}) whose recovered address equals
// expected, applying low-S canonicalisation along the way.
func ParseDERToRSV(der []byte, digest []byte, expected common.Address) ([]byte, error) {
	r, s, err := decodeDER(der)
	if err != nil {
		return nil, err
	}
	return rsvFromRS(r, s, digest, expected)
}

// rsvFromRS canonicalises s and searches v ∈ {27, 28} for the recovery id
// that yields expected, per spec.md §4.4 steps 3-4.
func rsvFromRS(r, s *big.Int, digest []byte, expected common.Address) ([]byte, error) {
	s = canonicalizeS(s)
	rb := common.LeftPadBytes(r.Bytes(), 32)
	sb := common.LeftPadBytes(s.Bytes(), 32)
	for _, v := range []byte{27, 28} {
		sig := make([]byte, 65)
		copy(sig[0:32], rb)
		copy(sig[32:64], sb)
		sig[64] = v - 27 // crypto.SigToPub wants recovery id 0/1
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			continue
		}
		addr := crypto.PubkeyToAddress(*pub)
		if addr == expected {
			out := make([]byte, 65)
			copy(out[0:32], rb)
			copy(out[32:64], sb)
			out[64] = v
			return out, nil
		}
	}
	return nil, ErrRecoveryIDFailed
}

// canonicalizeS returns the low-S form of s: if s > n/2, replaces it with
// n - s.
func canonicalizeS(s *big.Int) *big.Int {
	if s.Cmp(secp256k1HalfN) > 0 {
		return new(big.Int).Sub(secp256k1N, s)
	}
	return new(big.Int).Set(s)
}

// decodeDER parses `30 LEN 02 rLEN r 02 sLEN s`, per spec.md §4.4 step 1-2.
func decodeDER(der []byte) (r, s *big.Int, err error) {
	if len(der) < 8 {
		return nil, nil, fmt.Errorf("codec: DER signature too short (%d bytes)", len(der))
	}
	if der[0] != 0x30 {
		return nil, nil, fmt.Errorf("codec: expected sequence tag 0x30, got 0x%02x", der[0])
	}
	seqLen, headerLen, err := decodeLength(der[1:])
	if err != nil {
		return nil, nil, err
	}
	total := 1 + headerLen + seqLen
	if total != len(der) {
		return nil, nil, fmt.Errorf("codec: trailing bytes after declared sequence length (declared %d, got %d)", total, len(der))
	}
	body := der[1+headerLen:]

	r, rConsumed, err := decodeInteger(body)
	if err != nil {
		return nil, nil, err
	}
	s, _, err = decodeInteger(body[rConsumed:])
	if err != nil {
		return nil, nil, err
	}
	return r, s, nil
}

// decodeLength reads a DER length field starting at b[0]. Returns the
// decoded length and the number of bytes the length field itself occupied.
func decodeLength(b []byte) (length, headerLen int, err error) {
	if len(b) == 0 {
		return 0, 0, errors.New("codec: truncated length field")
	}
	first := b[0]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}
	nBytes := int(first &^ 0x80)
	if nBytes == 0 || nBytes > 2 {
		return 0, 0, fmt.Errorf("codec: unsupported DER length encoding (%d bytes)", nBytes)
	}
	if len(b) < 1+nBytes {
		return 0, 0, errors.New("codec: truncated long-form length field")
	}
	length = 0
	for i := 0; i < nBytes; i++ {
		length = (length << 8) | int(b[1+i])
	}
	return length, 1 + nBytes, nil
}

// decodeInteger decodes one `02 LEN value` TLV, bounds-checks its length,
// strips a single leading 0x00 sign byte, and left-pads to 32 bytes.
// Returns the integer and the number of bytes consumed from b.
func decodeInteger(b []byte) (*big.Int, int, error) {
	if len(b) < 2 {
		return nil, 0, errors.New("codec: truncated integer TLV")
	}
	if b[0] != 0x02 {
		return nil, 0, fmt.Errorf("codec: expected integer tag 0x02, got 0x%02x", b[0])
	}
	length, headerLen, err := decodeLength(b[1:])
	if err != nil {
		return nil, 0, err
	}
	if length > maxScalarLen {
		return nil, 0, fmt.Errorf("codec: integer component exceeds %d bytes (got %d)", maxScalarLen, length)
	}
	start := 1 + headerLen
	end := start + length
	if end > len(b) {
		return nil, 0, errors.New("codec: truncated integer value")
	}
	value := b[start:end]
	if len(value) > 0 && value[0] == 0x00 {
		value = value[1:]
	}
	return new(big.Int).SetBytes(value), end, nil
}

// EncodeDER renders (r, s) as a minimal DER sequence. Used by tests and by
// the raw-key test signer to exercise the same decode path production
// traffic from the HSM takes.
func EncodeDER(r, s *big.Int) []byte {
	encInt := func(x *big.Int) []byte {
		b := x.Bytes()
		if len(b) == 0 {
			b = []byte{0x00}
		}
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return append([]byte{0x02, byte(len(b))}, b...)
	}
	body := append(encInt(r), encInt(s)...)
	return append([]byte{0x30, byte(len(body))}, body...)
}

// ValidateSignature reports whether sig (65-byte RSV) recovers to signer
// for digest.
func ValidateSignature(sig, digest []byte, signer common.Address) bool {
	if len(sig) != 65 {
		return false
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return false
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	normalized[64] = v - 27
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}

// RecoverSigner returns the address that sig (65-byte RSV, v ∈ {27,28})
// recovers to for digest.
func RecoverSigner(sig, digest []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("codec: signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("codec: invalid recovery byte 0x%02x, want 0x1b or 0x1c", v)
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	normalized[64] = v - 27
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SortSignaturesBySignerAddress returns sigs reordered so recovered
// addresses are ascending, as spec.md §4.4/§4.3 step 7 requires (the
// on-chain verifier deduplicates signers by monotonic comparison).
func SortSignaturesBySignerAddress(sigs [][]byte, digest []byte) ([][]byte, error) {
	type entry struct {
		sig  []byte
		addr common.Address
	}
	entries := make([]entry, 0, len(sigs))
	for _, sig := range sigs {
		addr, err := RecoverSigner(sig, digest)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{sig: sig, addr: addr})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].addr.Bytes(), entries[j].addr.Bytes()) < 0
	})
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.sig
	}
	return out, nil
}

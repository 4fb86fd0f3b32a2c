// Package signer implements the HSM-backed signer interface spec.md §6
// describes (GetPublicKey / Sign against a remote key, never a private
// key resident in process memory) plus the DER→RSV signature codec
// (sub-package codec) that converts its output into the 65-byte
// recoverable form Chain E expects.
package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Signer is the HSM interface spec.md §6 names. Implementations never
// hold a private key in process memory; every signature is produced by a
// remote service given a digest.
type Signer interface {
	// Sign asks the HSM to sign digest under keyID using ECDSA_SHA_256
	// over the raw digest bytes (MessageType=DIGEST), returning a DER
	// ECDSA signature sequence.
	Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error)

	// Address returns the derived on-chain address for keyID: the last 20
	// bytes of keccak256 of the uncompressed secp256k1 public point
	// (without the 0x04 prefix).
	Address(ctx context.Context, keyID string) (common.Address, error)
}

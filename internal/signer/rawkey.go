package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ligun0805/ctn-bridge/internal/signer/codec"
)

// RawKeySigner signs with an in-process ECDSA private key. It exists for
// local development and tests; config.HSMConfig.validate refuses
// SignerKindRawKey whenever the process is running in production.
type RawKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewRawKeySigner(hexKey string) (*RawKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: parse raw key: %w", err)
	}
	return &RawKeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Sign produces a DER signature over digest so callers exercise the same
// codec path a real HSM response would take.
func (s *RawKeySigner) Sign(_ context.Context, _ string, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("signer: raw key sign: %w", err)
	}
	r := new(big.Int).SetBytes(sig[0:32])
	s2 := new(big.Int).SetBytes(sig[32:64])
	return codec.EncodeDER(r, s2), nil
}

func (s *RawKeySigner) Address(_ context.Context, _ string) (common.Address, error) {
	return s.addr, nil
}

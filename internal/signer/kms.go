package signer

import (
	"context"
	"encoding/asn1"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KMSClient is the subset of the AWS KMS SDK client Signer needs, narrowed
// for testability against a fake.
type KMSClient interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner implements Signer against AWS KMS asymmetric ECC_SECG_P256K1
// keys, per spec.md §6's HSM interface.
type KMSSigner struct {
	client KMSClient

	mu        sync.RWMutex
	addrCache map[string]common.Address
}

func NewKMSSigner(client KMSClient) *KMSSigner {
	return &KMSSigner{client: client, addrCache: make(map[string]common.Address)}
}

// Sign asks KMS to sign digest under keyID with ECDSA_SHA_256 over a raw
// digest (MessageType=DIGEST). The returned bytes are the DER ECDSA
// signature sequence KMS produces.
func (s *KMSSigner) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: kms Sign: %w", err)
	}
	return out.Signature, nil
}

// Address derives keyID's on-chain address from KMS's SPKI-encoded public
// key, caching the result since a KMS key's public point never changes.
func (s *KMSSigner) Address(ctx context.Context, keyID string) (common.Address, error) {
	s.mu.RLock()
	addr, ok := s.addrCache[keyID]
	s.mu.RUnlock()
	if ok {
		return addr, nil
	}

	out, err := s.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: kms GetPublicKey: %w", err)
	}
	addr, err = addressFromSPKI(out.PublicKey)
	if err != nil {
		return common.Address{}, err
	}

	s.mu.Lock()
	s.addrCache[keyID] = addr
	s.mu.Unlock()
	return addr, nil
}

// pkixPublicKey mirrors the ASN.1 SubjectPublicKeyInfo shape without
// pinning the curve OID, since crypto/x509 doesn't recognise secp256k1.
type pkixPublicKey struct {
	Algorithm asn1.RawValue
	PublicKey asn1.BitString
}

func addressFromSPKI(der []byte) (common.Address, error) {
	var pub pkixPublicKey
	if _, err := asn1.Unmarshal(der, &pub); err != nil {
		return common.Address{}, fmt.Errorf("signer: parse SPKI public key: %w", err)
	}
	point := pub.PublicKey.Bytes
	if len(point) != 65 || point[0] != 0x04 {
		return common.Address{}, fmt.Errorf("signer: unexpected public key point (len=%d)", len(point))
	}
	return common.BytesToAddress(crypto.Keccak256(point[1:])[12:]), nil
}

package validatornode

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ligun0805/ctn-bridge/internal/signer"
	"github.com/ligun0805/ctn-bridge/internal/signer/codec"
)

// KeyRotation tracks the two configured HSM key identifiers (primary and
// rotation) for one validator process and which is currently active,
// per spec.md §4.2's "Key rotation" subsection. Rotation is in-process
// only; a restart resumes with whatever key id configuration supplies.
type KeyRotation struct {
	signer        signer.Signer
	primaryKeyID  string
	rotationKeyID string
	activeKeyID   string
}

func NewKeyRotation(s signer.Signer, primaryKeyID, rotationKeyID string) *KeyRotation {
	return &KeyRotation{
		signer:        s,
		primaryKeyID:  primaryKeyID,
		rotationKeyID: rotationKeyID,
		activeKeyID:   primaryKeyID,
	}
}

// ActiveKeyID returns the key id signing requests should currently use.
func (r *KeyRotation) ActiveKeyID() string {
	return r.activeKeyID
}

// ActivateRotation exercises a self-test signature with the rotation key
// and only then switches the active key id, per spec.md §4.2: a bad
// rotation key must never silently become the active signer.
func (r *KeyRotation) ActivateRotation(ctx context.Context) error {
	if r.rotationKeyID == "" {
		return fmt.Errorf("validatornode: no rotation key configured")
	}
	addr, err := r.signer.Address(ctx, r.rotationKeyID)
	if err != nil {
		return fmt.Errorf("validatornode: rotation key address lookup failed: %w", err)
	}
	digest := crypto.Keccak256([]byte("ctn-bridge validator key rotation self-test"))
	der, err := r.signer.Sign(ctx, r.rotationKeyID, digest)
	if err != nil {
		return fmt.Errorf("validatornode: rotation self-test sign failed: %w", err)
	}
	if _, err := codec.ParseDERToRSV(der, digest, addr); err != nil {
		return fmt.Errorf("validatornode: rotation self-test signature did not recover to %s: %w", addr, err)
	}
	r.activeKeyID = r.rotationKeyID
	return nil
}

// RevertToPrimary switches back to the primary key id without any
// self-test — the primary key id is assumed sound since it's what the
// process would have used on start-up.
func (r *KeyRotation) RevertToPrimary() {
	r.activeKeyID = r.primaryKeyID
}

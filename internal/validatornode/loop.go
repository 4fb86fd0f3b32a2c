package validatornode

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/signer/codec"
)

const provideSignatureChoice = "ProvideSignature"

// RunCycle runs one full pass over the active attestation requests
// visible to this validator, per spec.md §4.2 steps 1-7. It never returns
// an error for a single rejected candidate — those are logged and
// skipped — only for a failure that makes the whole cycle untrustworthy
// (e.g. the ledger query itself failing).
func (n *Node) RunCycle(ctx context.Context) error {
	if !n.allowlist.Contains(string(n.template)) {
		return fmt.Errorf("validatornode: attestation template %s is not in the allowlist", n.template)
	}

	candidates, err := n.ledger.QueryActive(ctx, n.template, nil)
	if err != nil {
		return fmt.Errorf("validatornode: QueryActive: %w", err)
	}

	now := time.Now()
	for _, c := range candidates {
		if err := n.evaluateOne(ctx, c, now); err != nil {
			n.log.Warn("validator skipped candidate", "contractId", c.ContractID, "reason", err)
			obsmetrics.Counter("validator/skipped").Inc(1)
		}
	}
	return nil
}

func (n *Node) evaluateOne(ctx context.Context, c ledger.ActiveContract, now time.Time) error {
	req, err := attestation.DecodeRequest(c.ContractID, c.CreateArgument, attestation.DirectionL2E)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	// Step 1: membership.
	if !req.InValidatorGroup(n.party) {
		return nil
	}
	// Step 2: already handled, locally or on-ledger.
	if req.HasCollected(n.party) {
		return nil
	}
	id := n.canonicalID(req.Payload)
	idHex := common.Bytes2Hex(id[:])
	if n.envelope.SignedSet.Contains(idHex) {
		return nil
	}
	// Step 3: expiry.
	if !req.Payload.ExpiresAt.After(now) {
		return nil
	}

	// Timestamp derivation sanity, spec.md §4.3 (shared with the relay):
	// protects against a stale or clock-skewed candidate before any
	// network calls are spent verifying it.
	derived := req.Payload.DerivedTimestamp()
	if derived <= 0 {
		return fmt.Errorf("non-positive derived timestamp %d", derived)
	}
	if abs64(derived-now.Unix()) > int64(24*time.Hour/time.Second) {
		return fmt.Errorf("derived timestamp %d outside 24h of now", derived)
	}

	if req.Payload.ChainID != n.chainID {
		return fmt.Errorf("payload chainId %d does not match configured chain %d", req.Payload.ChainID, n.chainID)
	}

	// Step 4: authoritative re-verification.
	if err := VerifyAuthoritative(ctx, n.assets, req.Payload, n.contractAddress, n.toleranceAbsoluteCap); err != nil {
		return fmt.Errorf("authoritative verification: %w", err)
	}

	// Step 5: envelope checks.
	if n.envelope.RateLimitSaturated(now) {
		return fmt.Errorf("signing rate limit saturated")
	}
	if n.envelope.JumpExceeded(req.Payload.GlobalAssets) {
		return fmt.Errorf("value jump exceeds cap")
	}

	// Step 6: sign.
	digest := attestation.SigningDigest(id, req.Payload, n.contractAddress)
	keyID := n.rot.ActiveKeyID()
	addr, err := n.addressForKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("resolve signer address: %w", err)
	}

	// Step 7: persistence of intent wraps the HSM call and the ledger
	// submit so a crash between the two cannot cause a double sign.
	err = n.guard.Commit(idHex, func() error {
		der, err := n.signDigest(ctx, keyID, digest)
		if err != nil {
			return fmt.Errorf("HSM sign: %w", err)
		}
		rsv, err := codec.ParseDERToRSV(der, digest, addr)
		if err != nil {
			return fmt.Errorf("DER to RSV: %w", err)
		}
		args := map[string]any{
			"party":          n.party,
			"ecdsaSignature": "0x" + common.Bytes2Hex(rsv),
			"nonce":          req.Payload.Nonce,
			"stateHash":      "0x" + common.Bytes2Hex(req.Payload.StateHash[:]),
		}
		_, module, entity := n.template.Identifier()
		_, err = n.ledger.ExerciseChoice(ctx, module+":"+entity, req.ContractID, provideSignatureChoice, args, nil)
		return err
	})
	if err != nil {
		if err == ErrAlreadySigned {
			return nil
		}
		return fmt.Errorf("provide signature: %w", err)
	}

	n.envelope.RecordSign(now, req.Payload.GlobalAssets)
	obsmetrics.Counter("validator/signed").Inc(1)
	return nil
}

func (n *Node) canonicalID(p attestation.Payload) [32]byte {
	return attestation.CanonicalID(p, n.contractAddress)
}

func (n *Node) addressForKey(ctx context.Context, keyID string) (common.Address, error) {
	return n.rot.signer.Address(ctx, keyID)
}

func (n *Node) signDigest(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	return n.rot.signer.Sign(ctx, keyID, digest)
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

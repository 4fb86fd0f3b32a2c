// Package validatornode implements the validator daemon's event loop:
// independent re-verification of candidate attestations against an
// authoritative off-chain state source, safety-envelope enforcement, and
// HSM-backed threshold signing, per spec.md §4.2.
package validatornode

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/assetapi"
	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/signer"
)

// Config carries everything one validator process needs, already resolved
// from config.ValidatorSettings by the caller.
type Config struct {
	Party                string
	AttestationTemplate  ledger.TemplateID
	TemplateAllowlist    []string
	ContractAddress      common.Address
	ChainID              int64
	ToleranceAbsoluteCap *big.Int

	MaxSignsPerWindow int
	SigningWindow     time.Duration
	MaxJumpBps        int64
	SignedSetCapacity int

	PrimaryKeyID  string
	RotationKeyID string
}

// Node is one validator process's loop state.
type Node struct {
	ledger *ledger.Client
	assets *assetapi.Client
	rot    *KeyRotation
	guard  *SignedSetGuard

	envelope  *attestation.SigningEnvelope
	allowlist Allowlist

	party                string
	template             ledger.TemplateID
	contractAddress      common.Address
	chainID              int64
	toleranceAbsoluteCap *big.Int

	log log.Logger
}

func New(cfg Config, ledgerClient *ledger.Client, assetsClient *assetapi.Client, hsm signer.Signer, logger log.Logger) *Node {
	envelope := attestation.NewSigningEnvelope(cfg.MaxSignsPerWindow, cfg.SigningWindow, cfg.MaxJumpBps, cfg.SignedSetCapacity)
	return &Node{
		ledger:               ledgerClient,
		assets:               assetsClient,
		rot:                  NewKeyRotation(hsm, cfg.PrimaryKeyID, cfg.RotationKeyID),
		guard:                NewSignedSetGuard(envelope.SignedSet),
		envelope:             envelope,
		allowlist:            NewAllowlist(cfg.TemplateAllowlist),
		party:                cfg.Party,
		template:             cfg.AttestationTemplate,
		contractAddress:      cfg.ContractAddress,
		chainID:              cfg.ChainID,
		toleranceAbsoluteCap: cfg.ToleranceAbsoluteCap,
		log:                  logger,
	}
}

// Rotation exposes the key-rotation controller for a CLI-driven
// activateRotation() call, per spec.md §4.2.
func (n *Node) Rotation() *KeyRotation {
	return n.rot
}

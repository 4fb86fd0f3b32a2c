// Package relaynode implements the relay daemon's event loop: ferrying
// fully-signed attestation requests from Ledger L onto Chain E (or vice
// versa, Direction just selects which template is polled), per spec.md
// §4.3. One process runs per direction.
package relaynode

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/chainclient"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
)

// Config carries everything one relay process needs, already resolved
// from config.RelaySettings by the caller.
type Config struct {
	Party               string
	AttestationTemplate ledger.TemplateID
	ContractAddress     common.Address
	ValidatorAddresses  map[string]common.Address

	BatchLimit           int
	ProcessedSetCapacity int

	SubmitterKeyHex string
}

const attestationCompleteChoice = "Attestation_Complete"

// Node is one relay process's loop state.
type Node struct {
	ledger *ledger.Client
	chain  *chainclient.Client

	party               string
	template            ledger.TemplateID
	contractAddress     common.Address
	validatorAddresses  map[string]common.Address
	batchLimit          int

	processed *attestation.BoundedSet

	submitterKey  *ecdsa.PrivateKey
	submitterAddr common.Address

	log log.Logger
}

func New(cfg Config, ledgerClient *ledger.Client, chainClient *chainclient.Client, logger log.Logger) (*Node, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SubmitterKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("relaynode: parse submitter key: %w", err)
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 || batchLimit > 100 {
		batchLimit = 100
	}
	return &Node{
		ledger:              ledgerClient,
		chain:               chainClient,
		party:               cfg.Party,
		template:            cfg.AttestationTemplate,
		contractAddress:     cfg.ContractAddress,
		validatorAddresses:  cfg.ValidatorAddresses,
		batchLimit:          batchLimit,
		processed:           attestation.NewBoundedSet(cfg.ProcessedSetCapacity),
		submitterKey:        key,
		submitterAddr:       crypto.PubkeyToAddress(key.PublicKey),
		log:                 logger,
	}, nil
}

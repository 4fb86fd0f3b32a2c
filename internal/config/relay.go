package config

import (
	"fmt"
	"time"
)

// RelaySettings is the full config surface for cmd/relay. One relay
// process runs per direction (L→E or E→L); Direction only affects which
// attestations are polled, the mechanics are identical.
type RelaySettings struct {
	Ledger   LedgerConfig
	Chain    ChainConfig
	Shutdown ShutdownConfig

	PollInterval time.Duration

	Direction            string
	AttestationTemplate  string
	ValidatorAddresses   ValidatorAddressMap
	BatchLimit           int
	ProcessedSetCapacity int

	// SubmitterKeyHex signs the relay's own processAttestation transactions
	// on chain E. Unlike the validator's threshold signatures this is a
	// single operational key, not HSM-backed, matching the teacher's own
	// direct-private-key transaction signing.
	SubmitterKeyHex string

	BootRecoveryBlockWindow uint64
	BootRecoveryChunkSize   uint64

	FailoverThreshold int

	Production bool
}

func LoadRelaySettings() (RelaySettings, error) {
	secretsDir := get("SECRETS_DIR", "")
	addrs, err := loadValidatorAddressMap(secretsDir)
	if err != nil {
		return RelaySettings{}, err
	}
	s := RelaySettings{
		Ledger:                  loadLedgerConfig(secretsDir, "RELAY"),
		Chain:                   loadChainConfig("RELAY"),
		Shutdown:                loadShutdownConfig(),
		PollInterval:            time.Duration(getInt64("RELAY_POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		Direction:               get("RELAY_DIRECTION", "L2E"),
		AttestationTemplate:     get("ATTESTATION_TEMPLATE_ID", ""),
		ValidatorAddresses:      addrs,
		BatchLimit:              getInt("RELAY_BATCH_LIMIT", 100),
		ProcessedSetCapacity:    getInt("RELAY_PROCESSED_SET_CAPACITY", 10_000),
		SubmitterKeyHex:         secretOrEnv(secretsDir, "RELAY_SUBMITTER_KEY", ""),
		BootRecoveryBlockWindow: uint64(getInt64("RELAY_BOOT_RECOVERY_BLOCKS", 50_000)),
		BootRecoveryChunkSize:   uint64(getInt64("RELAY_BOOT_RECOVERY_CHUNK", 10_000)),
		FailoverThreshold:       getInt("RELAY_FAILOVER_THRESHOLD", 3),
		Production:              IsProduction(),
	}
	return s, s.Validate()
}

func (s RelaySettings) Validate() error {
	if err := s.Ledger.validate(s.Production); err != nil {
		return err
	}
	if err := s.Chain.validate(s.Production); err != nil {
		return err
	}
	if s.Direction != "L2E" && s.Direction != "E2L" {
		return fmt.Errorf("config: RELAY_DIRECTION must be L2E or E2L, got %q", s.Direction)
	}
	if s.AttestationTemplate == "" {
		return fmt.Errorf("config: missing ATTESTATION_TEMPLATE_ID")
	}
	if len(s.ValidatorAddresses) == 0 {
		return fmt.Errorf("config: empty VALIDATOR_ADDRESSES map")
	}
	if s.BatchLimit <= 0 || s.BatchLimit > 100 {
		return fmt.Errorf("config: RELAY_BATCH_LIMIT must be in (0, 100]")
	}
	if s.ProcessedSetCapacity <= 0 {
		return fmt.Errorf("config: RELAY_PROCESSED_SET_CAPACITY must be positive")
	}
	if s.FailoverThreshold <= 0 {
		return fmt.Errorf("config: RELAY_FAILOVER_THRESHOLD must be positive")
	}
	if s.SubmitterKeyHex == "" {
		return fmt.Errorf("config: missing RELAY_SUBMITTER_KEY")
	}
	return nil
}

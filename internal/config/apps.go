package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// KeeperSettings configures the lending-keeper application daemon.
// Per spec.md §9, its detailed liquidation-slippage envelope belongs to a
// separate spec — this surface only covers what spec.md §6 names.
type KeeperSettings struct {
	Chain    ChainConfig
	Shutdown ShutdownConfig

	PollInterval time.Duration

	LendingPoolAddress common.Address
	MonitoredVaults    []common.Address

	CriticalHF      float64
	WarnHF          float64
	SafetyBufferBps int64

	// OperatorKeyHex signs the keeper's own liquidate() transactions, a
	// single operational key, not HSM-backed, matching the relay's and
	// rebalancer's own submitter keys.
	OperatorKeyHex string

	TelegramBotToken string
	TelegramChatID   string

	// PrivateRelayURL, when set, routes liquidate() submissions through a
	// Flashbots-compatible relay instead of the public mempool.
	PrivateRelayURL        string
	PrivateRelayAuthKeyHex string

	Production bool
}

func LoadKeeperSettings() (KeeperSettings, error) {
	secretsDir := get("SECRETS_DIR", "")
	vaults, err := parseAddressList(get("KEEPER_MONITORED_VAULTS", ""))
	if err != nil {
		return KeeperSettings{}, err
	}
	s := KeeperSettings{
		Chain:                  loadChainConfig("KEEPER"),
		Shutdown:               loadShutdownConfig(),
		PollInterval:           time.Duration(getInt64("KEEPER_POLL_INTERVAL_MS", 10_000)) * time.Millisecond,
		LendingPoolAddress:     common.HexToAddress(get("KEEPER_LENDING_POOL_ADDRESS", "")),
		MonitoredVaults:        vaults,
		CriticalHF:             getFloat("CRITICAL_HF", 1.03),
		WarnHF:                 getFloat("WARN_HF", 1.15),
		SafetyBufferBps:        getInt64("SAFETY_BUFFER_BPS", 200),
		OperatorKeyHex:         secretOrEnv(secretsDir, "KEEPER_OPERATOR_KEY", ""),
		TelegramBotToken:       secretOrEnv(secretsDir, "ALERT_TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:         get("ALERT_TELEGRAM_CHAT_ID", ""),
		PrivateRelayURL:        get("KEEPER_PRIVATE_RELAY_URL", ""),
		PrivateRelayAuthKeyHex: secretOrEnv(secretsDir, "KEEPER_PRIVATE_RELAY_AUTH_KEY", ""),
		Production:             IsProduction(),
	}
	return s, s.Validate()
}

func (s KeeperSettings) Validate() error {
	if err := s.Chain.validate(s.Production); err != nil {
		return err
	}
	if s.LendingPoolAddress == (common.Address{}) {
		return fmt.Errorf("config: missing or zero KEEPER_LENDING_POOL_ADDRESS")
	}
	if len(s.MonitoredVaults) == 0 {
		return fmt.Errorf("config: empty KEEPER_MONITORED_VAULTS")
	}
	if s.CriticalHF <= 1.0 {
		return fmt.Errorf("config: CRITICAL_HF must be > 1.0")
	}
	if s.WarnHF <= s.CriticalHF {
		return fmt.Errorf("config: WARN_HF must be greater than CRITICAL_HF")
	}
	if s.OperatorKeyHex == "" {
		return fmt.Errorf("config: missing KEEPER_OPERATOR_KEY")
	}
	if (s.PrivateRelayURL == "") != (s.PrivateRelayAuthKeyHex == "") {
		return fmt.Errorf("config: KEEPER_PRIVATE_RELAY_URL and KEEPER_PRIVATE_RELAY_AUTH_KEY must be set together")
	}
	return nil
}

// WarnHFBps and CriticalHFBps convert the ratio-based thresholds into the
// basis-points-of-1.0 form internal/keeper.Node compares against.
func (s KeeperSettings) WarnHFBps() int64     { return int64(s.WarnHF * 10_000) }
func (s KeeperSettings) CriticalHFBps() int64 { return int64(s.CriticalHF * 10_000) }

// RebalancerSettings configures the vault-rebalancer application daemon.
type RebalancerSettings struct {
	Chain    ChainConfig
	Shutdown ShutdownConfig

	PollInterval time.Duration

	VaultManagerAddress common.Address
	MonitoredVaults     []common.Address

	TargetLtvBps    int64
	SafetyBufferBps int64

	OperatorKeyHex string

	TelegramBotToken string
	TelegramChatID   string

	Production bool
}

func LoadRebalancerSettings() (RebalancerSettings, error) {
	secretsDir := get("SECRETS_DIR", "")
	vaults, err := parseAddressList(get("REBALANCER_MONITORED_VAULTS", ""))
	if err != nil {
		return RebalancerSettings{}, err
	}
	s := RebalancerSettings{
		Chain:                loadChainConfig("REBALANCER"),
		Shutdown:             loadShutdownConfig(),
		PollInterval:         time.Duration(getInt64("REBALANCER_POLL_INTERVAL_MS", 30_000)) * time.Millisecond,
		VaultManagerAddress:  common.HexToAddress(get("REBALANCER_VAULT_MANAGER_ADDRESS", "")),
		MonitoredVaults:      vaults,
		TargetLtvBps:         getInt64("TARGET_LTV_BPS", 6500),
		SafetyBufferBps:      getInt64("SAFETY_BUFFER_BPS", 200),
		OperatorKeyHex:       secretOrEnv(secretsDir, "REBALANCER_OPERATOR_KEY", ""),
		TelegramBotToken:     secretOrEnv(secretsDir, "ALERT_TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       get("ALERT_TELEGRAM_CHAT_ID", ""),
		Production:           IsProduction(),
	}
	return s, s.Validate()
}

func (s RebalancerSettings) Validate() error {
	if err := s.Chain.validate(s.Production); err != nil {
		return err
	}
	if s.VaultManagerAddress == (common.Address{}) {
		return fmt.Errorf("config: missing or zero REBALANCER_VAULT_MANAGER_ADDRESS")
	}
	if len(s.MonitoredVaults) == 0 {
		return fmt.Errorf("config: empty REBALANCER_MONITORED_VAULTS")
	}
	if s.TargetLtvBps <= 0 || s.TargetLtvBps >= 10_000 {
		return fmt.Errorf("config: TARGET_LTV_BPS out of range")
	}
	if s.SafetyBufferBps <= 0 || s.SafetyBufferBps >= s.TargetLtvBps {
		return fmt.Errorf("config: SAFETY_BUFFER_BPS out of range")
	}
	if s.OperatorKeyHex == "" {
		return fmt.Errorf("config: missing REBALANCER_OPERATOR_KEY")
	}
	return nil
}

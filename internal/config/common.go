package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ligun0805/ctn-bridge/internal/secrets"
)

// maxValidatorMapBytes bounds the size of the validatorAddresses JSON
// input, per spec.md §6 ("caps the size of JSON map inputs").
const maxValidatorMapBytes = 10 * 1024

// LedgerConfig describes how to reach the L-API.
type LedgerConfig struct {
	Host      string
	Port      int
	TokenEnv  string // resolved bearer token, never logged
	Party     string
	PackageID string
	UseTLS    bool
}

func (c LedgerConfig) BaseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func loadLedgerConfig(secretsDir, prefix string) LedgerConfig {
	return LedgerConfig{
		Host:      get(prefix+"_L_HOST", "localhost"),
		Port:      getInt(prefix+"_L_PORT", 7575),
		TokenEnv:  secretOrEnv(secretsDir, prefix+"_L_TOKEN", ""),
		Party:     get(prefix+"_L_PARTY", ""),
		PackageID: get(prefix+"_L_PACKAGE_ID", ""),
		UseTLS:    getBool(prefix+"_L_TLS", true),
	}
}

func (c LedgerConfig) validate(production bool) error {
	if c.Party == "" {
		return fmt.Errorf("%s: missing ledger party", "config")
	}
	if c.PackageID == "" {
		return fmt.Errorf("config: missing ledger packageId")
	}
	if c.TokenEnv == "" {
		return fmt.Errorf("config: missing ledger bearer token")
	}
	if production && !c.UseTLS {
		return fmt.Errorf("config: cleartext ledger transport forbidden in production")
	}
	return nil
}

// ChainConfig describes how to reach Chain E.
type ChainConfig struct {
	RPCURL          string
	FallbackRPCURLs []string
	ContractAddress common.Address
	ChainID         *big.Int
	Confirmations   int
}

func loadChainConfig(prefix string) ChainConfig {
	chainID := getInt64(prefix+"_E_CHAIN_ID", 1)
	addrHex := get(prefix+"_E_CONTRACT_ADDRESS", "")
	return ChainConfig{
		RPCURL:          get(prefix+"_E_RPC_URL", ""),
		FallbackRPCURLs: splitCSV(get(prefix+"_E_FALLBACK_RPC_URLS", "")),
		ContractAddress: common.HexToAddress(addrHex),
		ChainID:         big.NewInt(chainID),
		Confirmations:   getInt(prefix+"_E_CONFIRMATIONS", 2),
	}
}

func (c ChainConfig) validate(production bool) error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: missing chain-E RPC URL")
	}
	if production && !strings.HasPrefix(c.RPCURL, "https://") {
		return fmt.Errorf("config: non-HTTPS RPC forbidden in production: %s", secrets.ScrubURL(c.RPCURL))
	}
	for _, u := range c.FallbackRPCURLs {
		if production && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("config: non-HTTPS fallback RPC forbidden in production: %s", secrets.ScrubURL(u))
		}
	}
	if c.ContractAddress == (common.Address{}) {
		return fmt.Errorf("config: missing or zero chain-E contract address")
	}
	if c.Confirmations <= 0 {
		return fmt.Errorf("config: confirmations must be positive")
	}
	return nil
}

// ShutdownConfig controls graceful drain behaviour, shared by every daemon.
type ShutdownConfig struct {
	DrainTimeoutMs int
	PreStopPort    int
}

func loadShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		DrainTimeoutMs: getInt("DRAIN_TIMEOUT_MS", 15_000),
		PreStopPort:    getInt("PRE_STOP_PORT", 8090),
	}
}

// ObservabilityConfig controls the logging and HTTP observability surface
// shared by every daemon's main().
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	HealthAddr  string
	MetricsAddr string
}

// LoadObservabilityConfig reads the ambient logging/health/metrics
// settings every cmd/ daemon wires up the same way.
func LoadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:    get("LOG_LEVEL", "info"),
		LogFormat:   get("LOG_FORMAT", "json"),
		HealthAddr:  get("HEALTH_ADDR", ":8081"),
		MetricsAddr: get("METRICS_ADDR", ":9100"),
	}
}

// parseAddressList parses a comma-separated list of hex addresses, used by
// the keeper/rebalancer daemons' monitored-vault config.
func parseAddressList(csv string) ([]common.Address, error) {
	parts := splitCSV(csv)
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("config: invalid address %q", p)
		}
		out = append(out, common.HexToAddress(p))
	}
	return out, nil
}

// ValidatorAddressMap resolves a validator party identifier to its derived
// on-chain address, loaded from a capped JSON object.
type ValidatorAddressMap map[string]common.Address

func loadValidatorAddressMap(secretsDir string) (ValidatorAddressMap, error) {
	raw := secretOrEnv(secretsDir, "VALIDATOR_ADDRESSES", "")
	if raw == "" {
		return ValidatorAddressMap{}, nil
	}
	if len(raw) > maxValidatorMapBytes {
		return nil, fmt.Errorf("config: validatorAddresses exceeds %d bytes", maxValidatorMapBytes)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("config: validatorAddresses: %w", err)
	}
	out := make(ValidatorAddressMap, len(m))
	for party, addrHex := range m {
		if !common.IsHexAddress(addrHex) {
			return nil, fmt.Errorf("config: validatorAddresses[%s]: invalid address %q", party, addrHex)
		}
		out[party] = common.HexToAddress(addrHex)
	}
	return out, nil
}

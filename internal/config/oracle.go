package config

import (
	"fmt"
	"time"
)

// OracleSettings is the full config surface for cmd/oracle.
type OracleSettings struct {
	Ledger   LedgerConfig
	Shutdown ShutdownConfig

	PollInterval time.Duration

	PrimarySourceURL  string
	FallbackSourceURL string
	FallbackJWTSecret string

	Symbols       []string
	StableSymbols []string

	// PriceFeedTemplate is the qualified PriceFeed template id
	// LedgerPublisher exercises Oracle_UpdatePrice against.
	PriceFeedTemplate string

	MinPriceUSD            float64
	MaxPriceUSD            float64
	DivergenceThresholdPct float64
	MaxChangePerUpdatePct  float64
	MaxConsecutiveFailures int
	RelaxAfterNRejections  int

	Production bool
}

func LoadOracleSettings() (OracleSettings, error) {
	secretsDir := get("SECRETS_DIR", "")
	s := OracleSettings{
		Ledger:                 loadLedgerConfig(secretsDir, "ORACLE"),
		Shutdown:               loadShutdownConfig(),
		PollInterval:           time.Duration(getInt64("ORACLE_POLL_INTERVAL_MS", 15_000)) * time.Millisecond,
		PrimarySourceURL:       get("ORACLE_PRIMARY_URL", ""),
		FallbackSourceURL:      get("ORACLE_FALLBACK_URL", ""),
		FallbackJWTSecret:      secretOrEnv(secretsDir, "ORACLE_FALLBACK_JWT_SECRET", ""),
		Symbols:                splitCSV(get("ORACLE_SYMBOLS", "CTN")),
		StableSymbols:          splitCSV(get("ORACLE_STABLE_SYMBOLS", "")),
		PriceFeedTemplate:      get("PRICE_FEED_TEMPLATE_ID", ""),
		MinPriceUSD:            getFloat("MIN_PRICE_USD", 0.0001),
		MaxPriceUSD:            getFloat("MAX_PRICE_USD", 1_000_000),
		DivergenceThresholdPct: getFloat("DIVERGENCE_THRESHOLD_PCT", 5.0),
		MaxChangePerUpdatePct:  getFloat("MAX_CHANGE_PER_UPDATE_PCT", 25.0),
		MaxConsecutiveFailures: getInt("MAX_CONSECUTIVE_FAILURES", 10),
		RelaxAfterNRejections:  getInt("RELAX_AFTER_N_REJECTIONS", 5),
		Production:             IsProduction(),
	}
	return s, s.Validate()
}

func (s OracleSettings) Validate() error {
	if err := s.Ledger.validate(s.Production); err != nil {
		return err
	}
	if s.PrimarySourceURL == "" {
		return fmt.Errorf("config: missing ORACLE_PRIMARY_URL")
	}
	if s.FallbackSourceURL == "" {
		return fmt.Errorf("config: missing ORACLE_FALLBACK_URL")
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("config: empty ORACLE_SYMBOLS")
	}
	if s.PriceFeedTemplate == "" {
		return fmt.Errorf("config: missing PRICE_FEED_TEMPLATE_ID")
	}
	if s.MinPriceUSD <= 0 || s.MaxPriceUSD <= s.MinPriceUSD {
		return fmt.Errorf("config: invalid price bounds [%v, %v]", s.MinPriceUSD, s.MaxPriceUSD)
	}
	if s.DivergenceThresholdPct <= 0 {
		return fmt.Errorf("config: DIVERGENCE_THRESHOLD_PCT must be positive")
	}
	if s.MaxChangePerUpdatePct <= 0 {
		return fmt.Errorf("config: MAX_CHANGE_PER_UPDATE_PCT must be positive")
	}
	if s.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("config: MAX_CONSECUTIVE_FAILURES must be positive")
	}
	return nil
}

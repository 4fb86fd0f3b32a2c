package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
)

// ValidatorSettings is the full config surface for cmd/validator.
type ValidatorSettings struct {
	Ledger   LedgerConfig
	Chain    ChainConfig
	HSM      HSMConfig
	Shutdown ShutdownConfig

	PollInterval time.Duration

	// Envelope limits, spec.md §6.
	MaxSignsPerWindow int
	SigningWindow     time.Duration
	MaxJumpBps        int64

	// AttestationTemplate is the qualified template id this validator
	// polls and signs. TemplateAllowlist additionally bounds which
	// qualified ids may ever be signed, independent of what is polled.
	AttestationTemplate string
	TemplateAllowlist    []string

	AssetAPIBaseURL string
	AssetAPIToken   string

	// AssetToleranceAbsoluteCap bounds the per-asset reconciliation
	// tolerance, spec.md §4.2 step 4: min(0.1% of snapshot value,
	// absolute-cap). Fixed-point, 18 fractional digits.
	AssetToleranceAbsoluteCap *big.Int

	Production bool
}

// LoadValidatorSettings reads settings from the environment and an
// optional secrets directory.
func LoadValidatorSettings() (ValidatorSettings, error) {
	secretsDir := get("SECRETS_DIR", "")
	toleranceCap, err := attestation.ParseFixed18(get("ASSET_TOLERANCE_ABSOLUTE_CAP", "1000"))
	if err != nil {
		return ValidatorSettings{}, fmt.Errorf("config: ASSET_TOLERANCE_ABSOLUTE_CAP: %w", err)
	}
	s := ValidatorSettings{
		Ledger:               loadLedgerConfig(secretsDir, "VALIDATOR"),
		Chain:                loadChainConfig("VALIDATOR"),
		HSM:                  loadHSMConfig(secretsDir),
		Shutdown:             loadShutdownConfig(),
		PollInterval:         time.Duration(getInt64("VALIDATOR_POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		MaxSignsPerWindow:    getInt("MAX_SIGNS_PER_WINDOW", 50),
		SigningWindow:        time.Duration(getInt64("SIGNING_WINDOW_MS", 3_600_000)) * time.Millisecond,
		MaxJumpBps:           getInt64("MAX_VALUE_JUMP_BPS", 2000),
		AttestationTemplate:  get("ATTESTATION_TEMPLATE_ID", ""),
		TemplateAllowlist:    splitCSV(get("TEMPLATE_ALLOWLIST", "")),
		AssetAPIBaseURL:      get("ASSET_API_BASE_URL", ""),
		AssetAPIToken:        secretOrEnv(secretsDir, "ASSET_API_TOKEN", ""),
		AssetToleranceAbsoluteCap: toleranceCap,
		Production:           IsProduction(),
	}
	return s, s.Validate()
}

// Validate fails fast on anything that would make the validator loop
// unsafe to run, per spec.md §6/§7 (configuration errors are fatal at
// startup).
func (s ValidatorSettings) Validate() error {
	if err := s.Ledger.validate(s.Production); err != nil {
		return err
	}
	if err := s.Chain.validate(s.Production); err != nil {
		return err
	}
	if err := s.HSM.validate(s.Production); err != nil {
		return err
	}
	if s.AttestationTemplate == "" {
		return fmt.Errorf("config: missing ATTESTATION_TEMPLATE_ID")
	}
	if len(s.TemplateAllowlist) == 0 {
		return fmt.Errorf("config: empty TEMPLATE_ALLOWLIST")
	}
	found := false
	for _, t := range s.TemplateAllowlist {
		if t == s.AttestationTemplate {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config: ATTESTATION_TEMPLATE_ID %q is not present in TEMPLATE_ALLOWLIST", s.AttestationTemplate)
	}
	if s.AssetAPIBaseURL == "" {
		return fmt.Errorf("config: missing ASSET_API_BASE_URL")
	}
	if s.Production && len(s.AssetAPIBaseURL) > 8 && s.AssetAPIBaseURL[:8] != "https://" {
		return fmt.Errorf("config: non-HTTPS asset API forbidden in production")
	}
	if s.MaxSignsPerWindow <= 0 {
		return fmt.Errorf("config: MAX_SIGNS_PER_WINDOW must be positive")
	}
	if s.MaxJumpBps <= 0 || s.MaxJumpBps > 10_000 {
		return fmt.Errorf("config: MAX_VALUE_JUMP_BPS out of range")
	}
	return nil
}

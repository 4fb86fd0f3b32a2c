package config

import "fmt"

// SignerKind selects which internal/signer.Signer implementation a daemon
// wires up. RawKey exists only for local tests; Validate rejects it in
// production.
type SignerKind string

const (
	SignerKindKMS    SignerKind = "kms"
	SignerKindRawKey SignerKind = "rawkey"
)

// HSMConfig names the active and rotation-candidate KMS keys.
type HSMConfig struct {
	Kind           SignerKind
	KeyID          string
	Region         string
	RotationKeyID  string
	RawKeyHex      string // only honoured when Kind == SignerKindRawKey
}

func loadHSMConfig(secretsDir string) HSMConfig {
	return HSMConfig{
		Kind:          SignerKind(get("SIGNER_KIND", string(SignerKindKMS))),
		KeyID:         get("HSM_KEY_ID", ""),
		Region:        get("HSM_REGION", "us-east-1"),
		RotationKeyID: get("HSM_ROTATION_KEY_ID", ""),
		RawKeyHex:     secretOrEnv(secretsDir, "RAW_SIGNING_KEY", ""),
	}
}

func (c HSMConfig) validate(production bool) error {
	if production && c.Kind != SignerKindKMS {
		return fmt.Errorf("config: raw-key signers are forbidden in production")
	}
	if c.Kind == SignerKindKMS && c.KeyID == "" {
		return fmt.Errorf("config: missing HSM_KEY_ID")
	}
	if c.Kind == SignerKindRawKey && c.RawKeyHex == "" {
		return fmt.Errorf("config: missing RAW_SIGNING_KEY for rawkey signer")
	}
	return nil
}

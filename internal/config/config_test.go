package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidatorAddressMapLoadsValidEntry(t *testing.T) {
	t.Setenv("VALIDATOR_ADDRESSES", `{"party-1":"0x00000000000000000000000000000000000000AA"}`)
	m, err := loadValidatorAddressMap("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m))
	}
}

func TestValidatorAddressMapRejectsInvalidAddress(t *testing.T) {
	t.Setenv("VALIDATOR_ADDRESSES", `{"party-1":"not-an-address"}`)
	if _, err := loadValidatorAddressMap(""); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestChainConfigValidateRequiresHTTPSInProduction(t *testing.T) {
	c := ChainConfig{RPCURL: "http://example.com", ContractAddress: [20]byte{1}, Confirmations: 2}
	if err := c.validate(true); err == nil {
		t.Fatal("expected non-HTTPS RPC to be rejected in production")
	}
	if err := c.validate(false); err != nil {
		t.Fatalf("non-HTTPS RPC should be allowed outside production: %v", err)
	}
}

func TestHSMConfigValidateRejectsRawKeyInProduction(t *testing.T) {
	c := HSMConfig{Kind: SignerKindRawKey, RawKeyHex: "aa"}
	if err := c.validate(true); err == nil {
		t.Fatal("expected raw-key signer to be rejected in production")
	}
	if err := c.validate(false); err != nil {
		t.Fatalf("raw-key signer should be allowed outside production: %v", err)
	}
}

func TestGetBoolDefaultsOnGarbage(t *testing.T) {
	t.Setenv("SOME_FLAG", "not-a-bool")
	if got := getBool("SOME_FLAG", true); got != true {
		t.Fatalf("expected default true, got %v", got)
	}
}

func TestParseAddressListRejectsInvalidEntry(t *testing.T) {
	if _, err := parseAddressList("0x00000000000000000000000000000000000000AA,not-an-address"); err == nil {
		t.Fatal("expected error for invalid address in list")
	}
}

func TestParseAddressListParsesMultiple(t *testing.T) {
	addrs, err := parseAddressList("0x00000000000000000000000000000000000000AA, 0x00000000000000000000000000000000000000BB")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(addrs))
	}
}

func validKeeperSettings() KeeperSettings {
	return KeeperSettings{
		Chain:              ChainConfig{RPCURL: "http://example.com", ContractAddress: common.Address{1}, Confirmations: 2},
		LendingPoolAddress: common.Address{2},
		MonitoredVaults:    []common.Address{{3}},
		CriticalHF:         1.03,
		WarnHF:             1.15,
		OperatorKeyHex:     "aa",
	}
}

func TestKeeperSettingsValidateAllowsPrivateRelayUnset(t *testing.T) {
	if err := validKeeperSettings().Validate(); err != nil {
		t.Fatalf("expected no error with private relay unset, got %v", err)
	}
}

func TestKeeperSettingsValidateAllowsPrivateRelayFullySet(t *testing.T) {
	s := validKeeperSettings()
	s.PrivateRelayURL = "https://relay.example.com"
	s.PrivateRelayAuthKeyHex = "aa"
	if err := s.Validate(); err != nil {
		t.Fatalf("expected no error with both private relay fields set, got %v", err)
	}
}

func TestKeeperSettingsValidateRejectsPartialPrivateRelay(t *testing.T) {
	s := validKeeperSettings()
	s.PrivateRelayURL = "https://relay.example.com"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error when only PrivateRelayURL is set")
	}

	s = validKeeperSettings()
	s.PrivateRelayAuthKeyHex = "aa"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error when only PrivateRelayAuthKeyHex is set")
	}
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	got := splitCSV(" a, b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

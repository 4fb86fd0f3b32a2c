package validatornode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/assetapi"
	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/signer"
)

func testLogger() log.Logger {
	return log.NewLogger(log.NewTerminalHandler(io.Discard, false))
}

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testHSM(t *testing.T) signer.Signer {
	t.Helper()
	s, err := signer.NewRawKeySigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAllowlistContains(t *testing.T) {
	a := NewAllowlist([]string{"pkg1:Bridge:AttestationRequest"})
	if !a.Contains("pkg1:Bridge:AttestationRequest") {
		t.Fatal("expected configured template to be present")
	}
	if a.Contains("pkg1:Bridge:Other") {
		t.Fatal("expected unconfigured template to be absent")
	}
}

func TestSignedSetGuardRollsBackOnNonAlreadySignedFailure(t *testing.T) {
	set := attestation.NewBoundedSet(10)
	guard := NewSignedSetGuard(set)

	err := guard.Commit("att-1", func() error { return fmt.Errorf("ledger timeout") })
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if set.Contains("att-1") {
		t.Fatal("expected id to be rolled back after a non-already-signed failure")
	}
}

func TestSignedSetGuardKeepsCommitOnAlreadySignedFailure(t *testing.T) {
	set := attestation.NewBoundedSet(10)
	guard := NewSignedSetGuard(set)

	err := guard.Commit("att-1", func() error { return fmt.Errorf("choice rejected: already signed by this validator") })
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if !set.Contains("att-1") {
		t.Fatal("expected id to remain committed on an already-signed failure")
	}
}

func TestSignedSetGuardRejectsDuplicateCommitWithoutCallingSubmit(t *testing.T) {
	set := attestation.NewBoundedSet(10)
	guard := NewSignedSetGuard(set)
	set.Add("att-1")

	called := false
	err := guard.Commit("att-1", func() error { called = true; return nil })
	if err != ErrAlreadySigned {
		t.Fatalf("expected ErrAlreadySigned, got %v", err)
	}
	if called {
		t.Fatal("submit must not be called for an id already in the signed-set")
	}
}

func TestKeyRotationActivateRotationSwitchesActiveKey(t *testing.T) {
	hsm := testHSM(t)
	rot := NewKeyRotation(hsm, "primary-key", "rotation-key")
	if rot.ActiveKeyID() != "primary-key" {
		t.Fatalf("expected primary key active initially, got %s", rot.ActiveKeyID())
	}
	if err := rot.ActivateRotation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rot.ActiveKeyID() != "rotation-key" {
		t.Fatalf("expected rotation key active after ActivateRotation, got %s", rot.ActiveKeyID())
	}
}

func TestKeyRotationActivateRotationFailsWithoutConfiguredKey(t *testing.T) {
	rot := NewKeyRotation(testHSM(t), "primary-key", "")
	if err := rot.ActivateRotation(context.Background()); err == nil {
		t.Fatal("expected error when no rotation key is configured")
	}
}

func newAssetAPIServer(t *testing.T, declaredValue, stateHashHex string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/assets/snapshot":
			json.NewEncoder(w).Encode(assetapi.Snapshot{
				SnapshotID: "snap-1",
				StateHash:  stateHashHex,
				Assets: []assetapi.Asset{
					{AssetID: "a1", CurrentValue: declaredValue},
				},
			})
		case "/v1/state/verify":
			var req struct {
				StateHash string `json:"stateHash"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]bool{"valid": req.StateHash == stateHashHex})
		default:
			t.Fatalf("unexpected asset API path %s", r.URL.Path)
		}
	}))
}

func TestVerifyAuthoritativeAcceptsMatchingSnapshot(t *testing.T) {
	stateHashHex := "0x" + repeatHex("bb", 32)
	srv := newAssetAPIServer(t, "1000.000000000000000000", stateHashHex)
	defer srv.Close()
	assetsClient := assetapi.New(srv.URL, "tok", time.Second, testLogger())

	contract := common.HexToAddress("0x1234")
	declared, _ := attestation.ParseFixed18("1000.0")
	payload := attestation.Payload{
		GlobalAssets:         declared,
		TargetBridgeAddress:  contract.Hex(),
		StateHash:            hex32(t, stateHashHex),
		Assets:               []attestation.AssetRef{{AssetID: "a1", DeclaredValue: declared}},
		RequestedCap:         bigFixed18(t, "500.0"),
		RatioBps:             1000,
		IncludedAssetsValue:  declared,
	}
	if err := VerifyAuthoritative(context.Background(), assetsClient, payload, contract, bigFixed18(t, "5")); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyAuthoritativeRejectsInsufficientCollateral(t *testing.T) {
	stateHashHex := "0x" + repeatHex("bb", 32)
	srv := newAssetAPIServer(t, "1000.000000000000000000", stateHashHex)
	defer srv.Close()
	assetsClient := assetapi.New(srv.URL, "tok", time.Second, testLogger())

	contract := common.HexToAddress("0x1234")
	declared, _ := attestation.ParseFixed18("1000.0")
	payload := attestation.Payload{
		GlobalAssets:        declared,
		TargetBridgeAddress: contract.Hex(),
		StateHash:           hex32(t, stateHashHex),
		Assets:              []attestation.AssetRef{{AssetID: "a1", DeclaredValue: declared}},
		RequestedCap:        bigFixed18(t, "500.0"),
		RatioBps:            9000, // requires 450, include only 10
		IncludedAssetsValue: bigFixed18(t, "10"),
	}
	if err := VerifyAuthoritative(context.Background(), assetsClient, payload, contract, bigFixed18(t, "5")); err == nil {
		t.Fatal("expected rejection for insufficient collateral")
	}
}

func hex32(t *testing.T, s string) [32]byte {
	t.Helper()
	var out [32]byte
	b := common.FromHex(s)
	if len(b) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out
}

func bigFixed18(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := attestation.ParseFixed18(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

// --- full-cycle integration test ---

func TestRunCycleSignsEligibleCandidateAndExercisesChoice(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000001234")
	stateHashHex := "0x" + repeatHex("cc", 32)
	entropyHex := "0x" + repeatHex("aa", 32)
	expiresAt := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)

	createArg := map[string]any{
		"aggregator":          "relay-party",
		"validatorGroup":      []any{"validator-1"},
		"collectedSignatures": []any{},
		"ecdsaSignatures":     []any{},
		"requiredSignatures":  "2",
		"payload": map[string]any{
			"attestationId":       "att-1",
			"globalAssets":        "1000.000000000000000000",
			"nonce":               "7",
			"chainId":             "1",
			"expiresAt":           expiresAt,
			"entropy":             entropyHex,
			"stateHash":           stateHashHex,
			"targetBridgeAddress": contract.Hex(),
			"assets": []any{
				map[string]any{"assetId": "a1", "declaredValue": "1000.000000000000000000"},
			},
			"requestedCap":        "500.000000000000000000",
			"ratioBps":            "1000",
			"includedAssetsValue": "1000.000000000000000000",
		},
	}
	createArgJSON, err := json.Marshal(createArg)
	if err != nil {
		t.Fatal(err)
	}

	var submitCalls int32
	var lastSubmitBody []byte
	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/state/ledger-end":
			json.NewEncoder(w).Encode(map[string]int64{"offset": 1})
		case r.URL.Path == "/v2/state/active-contracts":
			fmt.Fprintf(w, `{"activeContracts":[{"contractEntry":{"JsActiveContract":{"createdEvent":{
				"contractId":"c1",
				"templateId":"pkg1:Bridge:AttestationRequest",
				"createArgument":%s,
				"createdAt":"2026-01-01T00:00:00Z",
				"offset":1,
				"signatories":["relay-party"],
				"observers":["validator-1"]
			}}}}]}`, createArgJSON)
		case r.URL.Path == "/v2/commands/submit-and-wait":
			atomic.AddInt32(&submitCalls, 1)
			body, _ := io.ReadAll(r.Body)
			lastSubmitBody = body
			json.NewEncoder(w).Encode(map[string]any{"updateId": "u1", "completionOffset": 2})
		default:
			t.Fatalf("unexpected ledger path %s", r.URL.Path)
		}
	}))
	defer ledgerSrv.Close()

	assetSrv := newAssetAPIServer(t, "1000.000000000000000000", stateHashHex)
	defer assetSrv.Close()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:   ledgerSrv.URL,
		Token:     "tok",
		UserID:    "validator-1-user",
		Party:     "validator-1",
		PackageID: "pkg1",
		Timeout:   2 * time.Second,
	}, testLogger())
	assetsClient := assetapi.New(assetSrv.URL, "tok", 2*time.Second, testLogger())

	node := New(Config{
		Party:                "validator-1",
		AttestationTemplate:  ledger.TemplateID("pkg1:Bridge:AttestationRequest"),
		TemplateAllowlist:    []string{"pkg1:Bridge:AttestationRequest"},
		ContractAddress:      contract,
		ChainID:              1,
		ToleranceAbsoluteCap: bigFixed18(t, "5"),
		MaxSignsPerWindow:    50,
		SigningWindow:        time.Hour,
		MaxJumpBps:           2000,
		SignedSetCapacity:    1000,
		PrimaryKeyID:         "primary-key",
	}, ledgerClient, assetsClient, testHSM(t), testLogger())

	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&submitCalls) != 1 {
		t.Fatalf("expected exactly 1 submit-and-wait call, got %d", submitCalls)
	}

	var submitted struct {
		Commands []struct {
			ExerciseCommand struct {
				TemplateID     string         `json:"templateId"`
				ContractID     string         `json:"contractId"`
				Choice         string         `json:"choice"`
				ChoiceArgument map[string]any `json:"choiceArgument"`
			} `json:"ExerciseCommand"`
		} `json:"commands"`
	}
	if err := json.Unmarshal(lastSubmitBody, &submitted); err != nil {
		t.Fatal(err)
	}
	if len(submitted.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(submitted.Commands))
	}
	ex := submitted.Commands[0].ExerciseCommand
	if ex.Choice != provideSignatureChoice {
		t.Fatalf("expected choice %s, got %s", provideSignatureChoice, ex.Choice)
	}
	if ex.TemplateID != "pkg1:Bridge:AttestationRequest" {
		t.Fatalf("expected qualified template id, got %s", ex.TemplateID)
	}
	if ex.ContractID != "c1" {
		t.Fatalf("expected contract id c1, got %s", ex.ContractID)
	}
	sigHex, _ := ex.ChoiceArgument["ecdsaSignature"].(string)
	if sigHex == "" {
		t.Fatal("expected a non-empty ecdsaSignature in the choice argument")
	}

	// A second cycle over the same (now locally signed-set) candidate
	// must not submit again.
	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&submitCalls) != 1 {
		t.Fatalf("expected no additional submit-and-wait call on second cycle, got %d total", submitCalls)
	}
}

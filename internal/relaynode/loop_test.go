package relaynode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/chainclient"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/signer"
)

func testLogger() log.Logger {
	return log.NewLogger(log.NewTerminalHandler(io.Discard, false))
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

var (
	currentNonceSel = selector("currentNonce()")
	usedSel         = selector("usedAttestationIds(bytes32)")
	hasRoleSel      = selector("hasRole(bytes32,address)")
	processSel      = selector("processAttestation((bytes32,uint256,uint256,uint256,bytes32,bytes32),bytes[])")
)

func padBool(b bool) string {
	v := make([]byte, 32)
	if b {
		v[31] = 1
	}
	return hexutil.Encode(v)
}

func padUint(n int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(n).Bytes(), 32))
}

// rpcServer serves bare JSON-RPC 2.0 requests for the subset of chain-E
// methods a relay cycle exercises, dispatching eth_call by 4-byte
// selector since the server has no access to chainclient's unexported
// ABI binding. usedAttestationIds reports false until processAttestation
// has been simulated once, and used from then on.
func rpcServer(t *testing.T, currentNonce int64, used bool, simulateErr error, receiptHash string) *httptest.Server {
	t.Helper()
	var simulated int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     json.RawMessage   `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		respond := func(result any, errMsg string) {
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if errMsg != "" {
				resp["error"] = map[string]any{"code": -32000, "message": errMsg}
			} else {
				resp["result"] = result
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}

		switch req.Method {
		case "eth_call":
			var callObj struct {
				Data string `json:"data"`
			}
			json.Unmarshal(req.Params[0], &callObj)
			data := common.FromHex(callObj.Data)
			switch {
			case bytes.HasPrefix(data, currentNonceSel):
				respond(padUint(currentNonce), "")
			case bytes.HasPrefix(data, usedSel):
				respond(padBool(used && atomic.LoadInt32(&simulated) == 1), "")
			case bytes.HasPrefix(data, hasRoleSel):
				respond(padBool(true), "")
			case bytes.HasPrefix(data, processSel):
				atomic.StoreInt32(&simulated, 1)
				if simulateErr != nil {
					respond(nil, simulateErr.Error())
					return
				}
				respond("0x", "")
			default:
				t.Fatalf("unexpected eth_call selector %x", data)
			}
		case "net_version":
			respond("1", "")
		case "eth_getBlockByNumber":
			respond(map[string]any{
				"parentHash":       common.Hash{}.Hex(),
				"sha3Uncles":       common.Hash{}.Hex(),
				"miner":            common.Address{}.Hex(),
				"stateRoot":        common.Hash{}.Hex(),
				"transactionsRoot": common.Hash{}.Hex(),
				"receiptsRoot":     common.Hash{}.Hex(),
				"logsBloom":        "0x" + strings.Repeat("00", 256),
				"difficulty":       "0x0",
				"number":           "0x64",
				"gasLimit":         "0x1c9c380",
				"gasUsed":          "0x5208",
				"timestamp":        "0x64000000",
				"extraData":        "0x",
				"mixHash":          common.Hash{}.Hex(),
				"nonce":            "0x0000000000000000",
				"baseFeePerGas":    "0x3b9aca00",
				"hash":             common.Hash{}.Hex(),
			}, "")
		case "eth_maxPriorityFeePerGas":
			respond("0x3b9aca00", "")
		case "eth_estimateGas":
			respond("0x5208", "")
		case "eth_getTransactionCount":
			respond("0x0", "")
		case "eth_sendRawTransaction":
			respond(receiptHash, "")
		case "eth_getTransactionReceipt":
			respond(map[string]any{
				"transactionHash":   receiptHash,
				"transactionIndex":  "0x0",
				"blockHash":         common.HexToHash("0xbeef").Hex(),
				"blockNumber":       "0x65",
				"from":              common.Address{}.Hex(),
				"to":                common.Address{}.Hex(),
				"cumulativeGasUsed": "0x5208",
				"gasUsed":           "0x5208",
				"contractAddress":   nil,
				"logs":              []any{},
				"logsBloom":         "0x" + strings.Repeat("00", 256),
				"status":            "0x1",
			}, "")
		case "eth_chainId":
			respond("0x1", "")
		case "eth_blockNumber":
			respond("0x65", "")
		default:
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
	}))
}

func ledgerServer(t *testing.T, createArgJSON []byte) (*httptest.Server, *int32, *int32) {
	t.Helper()
	var submitCalls, completeCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/state/ledger-end":
			json.NewEncoder(w).Encode(map[string]int64{"offset": 1})
		case "/v2/state/active-contracts":
			fmt.Fprintf(w, `{"activeContracts":[{"contractEntry":{"JsActiveContract":{"createdEvent":{
				"contractId":"c1",
				"templateId":"pkg1:Bridge:AttestationRequest",
				"createArgument":%s,
				"createdAt":"2026-01-01T00:00:00Z",
				"offset":1,
				"signatories":["relay-party"],
				"observers":["validator-1"]
			}}}}]}`, createArgJSON)
		case "/v2/commands/submit-and-wait":
			body, _ := io.ReadAll(r.Body)
			if strings.Contains(string(body), attestationCompleteChoice) {
				atomic.AddInt32(&completeCalls, 1)
			} else {
				atomic.AddInt32(&submitCalls, 1)
			}
			json.NewEncoder(w).Encode(map[string]any{"updateId": "u1", "completionOffset": 2})
		default:
			t.Fatalf("unexpected ledger path %s", r.URL.Path)
		}
	}))
	return srv, &submitCalls, &completeCalls
}

func testValidatorKey(t *testing.T) (string, common.Address) {
	t.Helper()
	s, err := signer.NewRawKeySigner("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	if err != nil {
		t.Fatal(err)
	}
	addr, err := s.Address(context.Background(), "unused")
	if err != nil {
		t.Fatal(err)
	}
	return "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291", addr
}

const relaySubmitterKeyHex = "a1c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f2aaa"

func TestRunCycleSubmitsEligibleCandidateAndCompletesOnLedger(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000001234")
	validatorKeyHex, validatorAddr := testValidatorKey(t)

	s, err := signer.NewRawKeySigner(validatorKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	expiresAt := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	createArg := map[string]any{
		"aggregator":          "relay-party",
		"validatorGroup":      []any{"validator-1"},
		"collectedSignatures": []any{"validator-1"},
		"requiredSignatures":  "1",
		"payload": map[string]any{
			"attestationId":       "att-1",
			"globalAssets":        "1000.000000000000000000",
			"nonce":               "1",
			"chainId":             "1",
			"expiresAt":           expiresAt,
			"entropy":             "0x" + strings.Repeat("aa", 32),
			"stateHash":           "0x" + strings.Repeat("cc", 32),
			"targetBridgeAddress": contract.Hex(),
		},
	}

	// Sign the canonical digest with the configured validator key so the
	// relay's ecrecover-based signature validation passes.
	payloadForDigest, err := attestation.DecodePayload(createArg["payload"].(map[string]any))
	if err != nil {
		t.Fatal(err)
	}
	id := attestation.CanonicalID(payloadForDigest, contract)
	digest := attestation.SigningDigest(id, payloadForDigest, contract)
	der, err := s.Sign(context.Background(), "unused", digest)
	if err != nil {
		t.Fatal(err)
	}
	createArg["ecdsaSignatures"] = []any{
		map[string]any{"party": "validator-1", "signature": hexutil.Encode(der)},
	}

	createArgJSON, err := json.Marshal(createArg)
	if err != nil {
		t.Fatal(err)
	}

	ledgerSrv, submitCalls, completeCalls := ledgerServer(t, createArgJSON)
	defer ledgerSrv.Close()

	chainSrv := rpcServer(t, 0 /* currentNonce */, false /* used */, nil, common.HexToHash("0xdead").Hex())
	defer chainSrv.Close()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:   ledgerSrv.URL,
		Token:     "tok",
		UserID:    "relay-user",
		Party:     "relay-party",
		PackageID: "pkg1",
		Timeout:   2 * time.Second,
	}, testLogger())

	chainClient, err := chainclient.Dial(context.Background(), []string{chainSrv.URL}, contract, 0, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer chainClient.Close()

	node, err := New(Config{
		Party:                "relay-party",
		AttestationTemplate:  ledger.TemplateID("pkg1:Bridge:AttestationRequest"),
		ContractAddress:      contract,
		ValidatorAddresses:   map[string]common.Address{"validator-1": validatorAddr},
		BatchLimit:           100,
		ProcessedSetCapacity: 1000,
		SubmitterKeyHex:      relaySubmitterKeyHex,
	}, ledgerClient, chainClient, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(submitCalls) != 0 {
		t.Fatalf("expected no ledger submit-and-wait call besides Attestation_Complete, got %d", *submitCalls)
	}
	if atomic.LoadInt32(completeCalls) != 1 {
		t.Fatalf("expected 1 Attestation_Complete call, got %d", *completeCalls)
	}
}

// signedCandidate builds one eligible, fully-signed candidate create
// argument for nonce 1 against contract, reusing the same shape
// TestRunCycleSubmitsEligibleCandidateAndCompletesOnLedger constructs.
func signedCandidate(t *testing.T, contract common.Address, validatorAddr common.Address, validatorKeyHex string) []byte {
	t.Helper()
	s, err := signer.NewRawKeySigner(validatorKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	expiresAt := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	createArg := map[string]any{
		"aggregator":          "relay-party",
		"validatorGroup":      []any{"validator-1"},
		"collectedSignatures": []any{"validator-1"},
		"requiredSignatures":  "1",
		"payload": map[string]any{
			"attestationId":       "att-1",
			"globalAssets":        "1000.000000000000000000",
			"nonce":               "1",
			"chainId":             "1",
			"expiresAt":           expiresAt,
			"entropy":             "0x" + strings.Repeat("aa", 32),
			"stateHash":           "0x" + strings.Repeat("cc", 32),
			"targetBridgeAddress": contract.Hex(),
		},
	}
	payloadForDigest, err := attestation.DecodePayload(createArg["payload"].(map[string]any))
	if err != nil {
		t.Fatal(err)
	}
	id := attestation.CanonicalID(payloadForDigest, contract)
	digest := attestation.SigningDigest(id, payloadForDigest, contract)
	der, err := s.Sign(context.Background(), "unused", digest)
	if err != nil {
		t.Fatal(err)
	}
	createArg["ecdsaSignatures"] = []any{
		map[string]any{"party": "validator-1", "signature": hexutil.Encode(der)},
	}
	createArgJSON, err := json.Marshal(createArg)
	if err != nil {
		t.Fatal(err)
	}
	return createArgJSON
}

// TestRunCycleSimulateFailureWithIDAlreadyUsedIsTreatedAsFrontRun covers
// step 8's re-check: when the pre-flight simulate fails and a re-read of
// usedAttestationIds[id] comes back true, a peer relay already landed this
// attestation first. The cycle must mark it processed and return nil, not
// error out and retry forever.
func TestRunCycleSimulateFailureWithIDAlreadyUsedIsTreatedAsFrontRun(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000001234")
	validatorKeyHex, validatorAddr := testValidatorKey(t)
	createArgJSON := signedCandidate(t, contract, validatorAddr, validatorKeyHex)

	ledgerSrv, submitCalls, completeCalls := ledgerServer(t, createArgJSON)
	defer ledgerSrv.Close()

	chainSrv := rpcServer(t, 0, true /* used */, fmt.Errorf("execution reverted"), common.HexToHash("0xdead").Hex())
	defer chainSrv.Close()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL: ledgerSrv.URL, Token: "tok", UserID: "relay-user", Party: "relay-party",
		PackageID: "pkg1", Timeout: 2 * time.Second,
	}, testLogger())
	chainClient, err := chainclient.Dial(context.Background(), []string{chainSrv.URL}, contract, 0, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer chainClient.Close()

	node, err := New(Config{
		Party:                "relay-party",
		AttestationTemplate:  ledger.TemplateID("pkg1:Bridge:AttestationRequest"),
		ContractAddress:      contract,
		ValidatorAddresses:   map[string]common.Address{"validator-1": validatorAddr},
		BatchLimit:           100,
		ProcessedSetCapacity: 1000,
		SubmitterKeyHex:      relaySubmitterKeyHex,
	}, ledgerClient, chainClient, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected front-run-by-peer to be treated as success, got %v", err)
	}
	if atomic.LoadInt32(submitCalls) != 0 {
		t.Fatalf("expected no ledger submit-and-wait call besides Attestation_Complete after simulate failure, got %d", *submitCalls)
	}
	if atomic.LoadInt32(completeCalls) != 0 {
		t.Fatalf("expected no Attestation_Complete call, got %d", *completeCalls)
	}
}

// TestRunCycleSimulateFailureWithIDStillUnusedIsRetried covers the other
// half of step 8: if the id is still unused on-chain after a simulate
// failure, the candidate is logged and skipped without failing the cycle,
// and left unprocessed for a later retry, not abandoned (which would wedge
// every later nonce on this direction).
func TestRunCycleSimulateFailureWithIDStillUnusedIsRetried(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000001234")
	validatorKeyHex, validatorAddr := testValidatorKey(t)
	createArgJSON := signedCandidate(t, contract, validatorAddr, validatorKeyHex)

	ledgerSrv, submitCalls, completeCalls := ledgerServer(t, createArgJSON)
	defer ledgerSrv.Close()

	chainSrv := rpcServer(t, 0, false /* used */, fmt.Errorf("execution reverted"), common.HexToHash("0xdead").Hex())
	defer chainSrv.Close()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL: ledgerSrv.URL, Token: "tok", UserID: "relay-user", Party: "relay-party",
		PackageID: "pkg1", Timeout: 2 * time.Second,
	}, testLogger())
	chainClient, err := chainclient.Dial(context.Background(), []string{chainSrv.URL}, contract, 0, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer chainClient.Close()

	node, err := New(Config{
		Party:                "relay-party",
		AttestationTemplate:  ledger.TemplateID("pkg1:Bridge:AttestationRequest"),
		ContractAddress:      contract,
		ValidatorAddresses:   map[string]common.Address{"validator-1": validatorAddr},
		BatchLimit:           100,
		ProcessedSetCapacity: 1000,
		SubmitterKeyHex:      relaySubmitterKeyHex,
	}, ledgerClient, chainClient, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected a simulate failure to skip the candidate, not fail the cycle, got %v", err)
	}
	if node.processed.Len() != 0 {
		t.Fatal("expected a still-unused id after simulate failure to stay out of the processed-set for retry")
	}
	if atomic.LoadInt32(submitCalls) != 0 {
		t.Fatalf("expected no ledger submit-and-wait call besides Attestation_Complete after simulate failure, got %d", *submitCalls)
	}
	if atomic.LoadInt32(completeCalls) != 0 {
		t.Fatalf("expected no Attestation_Complete call, got %d", *completeCalls)
	}
}

func TestRunCycleSkipsCandidateAheadOfChainNonce(t *testing.T) {
	contract := common.HexToAddress("0x1234")
	expiresAt := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	createArg := map[string]any{
		"aggregator":          "relay-party",
		"validatorGroup":      []any{"validator-1"},
		"collectedSignatures": []any{},
		"ecdsaSignatures":     []any{},
		"requiredSignatures":  "1",
		"payload": map[string]any{
			"attestationId":       "att-1",
			"globalAssets":        "1000.000000000000000000",
			"nonce":               "5",
			"chainId":             "1",
			"expiresAt":           expiresAt,
			"entropy":             "0x" + strings.Repeat("aa", 32),
			"stateHash":           "0x" + strings.Repeat("cc", 32),
			"targetBridgeAddress": contract.Hex(),
		},
	}
	createArgJSON, _ := json.Marshal(createArg)
	ledgerSrv, submitCalls, _ := ledgerServer(t, createArgJSON)
	defer ledgerSrv.Close()

	// currentNonce=0 means only nonce=1 is eligible; nonce=5 must be skipped.
	chainSrv := rpcServer(t, 0, false, nil, common.HexToHash("0xdead").Hex())
	defer chainSrv.Close()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL: ledgerSrv.URL, Token: "tok", UserID: "relay-user", Party: "relay-party",
		PackageID: "pkg1", Timeout: 2 * time.Second,
	}, testLogger())
	chainClient, err := chainclient.Dial(context.Background(), []string{chainSrv.URL}, contract, 0, 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer chainClient.Close()

	node, err := New(Config{
		Party:                "relay-party",
		AttestationTemplate:  ledger.TemplateID("pkg1:Bridge:AttestationRequest"),
		ContractAddress:      contract,
		ValidatorAddresses:   map[string]common.Address{},
		BatchLimit:           100,
		ProcessedSetCapacity: 1000,
		SubmitterKeyHex:      relaySubmitterKeyHex,
	}, ledgerClient, chainClient, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := node.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(submitCalls) != 0 {
		t.Fatalf("expected no submit for an out-of-sequence nonce, got %d", *submitCalls)
	}
}

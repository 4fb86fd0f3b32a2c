package rebalancer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/alert"
)

func testLogger() log.Logger {
	return log.NewLogger(log.NewTerminalHandler(io.Discard, false))
}

func selector(sig string) []byte { return crypto.Keccak256([]byte(sig))[:4] }

var currentLtvSel = selector("currentLtvBps(address)")

// rpcServer serves the subset of chain-E JSON-RPC the rebalancer's
// CurrentLtvBps/Rebalance calls exercise.
func rpcServer(t *testing.T, ltvBps int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     json.RawMessage   `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		respond := func(result any) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}
		switch req.Method {
		case "eth_call":
			var callObj struct {
				Data string `json:"data"`
			}
			json.Unmarshal(req.Params[0], &callObj)
			data := common.FromHex(callObj.Data)
			switch {
			case bytes.HasPrefix(data, currentLtvSel):
				respond(hexutil.Encode(common.LeftPadBytes(big.NewInt(ltvBps).Bytes(), 32)))
			default:
				t.Fatalf("unexpected eth_call selector %x", data)
			}
		case "net_version", "eth_chainId":
			respond("0x1")
		case "eth_getBlockByNumber":
			respond(map[string]any{
				"parentHash": common.Hash{}.Hex(), "sha3Uncles": common.Hash{}.Hex(),
				"miner": common.Address{}.Hex(), "stateRoot": common.Hash{}.Hex(),
				"transactionsRoot": common.Hash{}.Hex(), "receiptsRoot": common.Hash{}.Hex(),
				"logsBloom": "0x" + strings.Repeat("00", 256), "difficulty": "0x0",
				"number": "0x64", "gasLimit": "0x1c9c380", "gasUsed": "0x5208",
				"timestamp": "0x64000000", "extraData": "0x", "mixHash": common.Hash{}.Hex(),
				"nonce": "0x0000000000000000", "baseFeePerGas": "0x3b9aca00", "hash": common.Hash{}.Hex(),
			})
		case "eth_maxPriorityFeePerGas":
			respond("0x3b9aca00")
		case "eth_estimateGas":
			respond("0x5208")
		case "eth_getTransactionCount":
			respond("0x0")
		case "eth_sendRawTransaction":
			respond(common.HexToHash("0xbeef").Hex())
		case "eth_getTransactionReceipt":
			respond(map[string]any{
				"transactionHash": common.HexToHash("0xbeef").Hex(), "transactionIndex": "0x0",
				"blockHash": common.HexToHash("0xbeef").Hex(), "blockNumber": "0x65",
				"from": common.Address{}.Hex(), "to": common.Address{}.Hex(),
				"cumulativeGasUsed": "0x5208", "gasUsed": "0x5208",
				"contractAddress": nil, "logs": []any{}, "logsBloom": "0x" + strings.Repeat("00", 256),
				"status": "0x1",
			})
		case "eth_blockNumber":
			respond("0x65")
		default:
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
	}))
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	if err != nil {
		t.Fatal(err)
	}
	return key
}

type fakeSink struct {
	notifications []string
}

func (f *fakeSink) Notify(_ context.Context, severity alert.Severity, message string) error {
	f.notifications = append(f.notifications, string(severity)+": "+message)
	return nil
}

func TestRunCycleRebalancesVaultOutsideBand(t *testing.T) {
	// target 6500 bps +/- 500: band is [6000, 7000]. 7800 is outside it.
	srv := rpcServer(t, 7800)
	defer srv.Close()

	manager, err := Dial(context.Background(), srv.URL, common.HexToAddress("0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	vault := common.HexToAddress("0x2222222222222222222222222222222222222222")
	n := New(manager, big.NewInt(1), testKey(t), sink, testLogger(), []common.Address{vault}, 6_500, 500)

	if err := n.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.notifications) != 1 {
		t.Fatalf("expected exactly 1 rebalance alert, got %+v", sink.notifications)
	}
}

func TestRunCycleWithinBandIsNoop(t *testing.T) {
	srv := rpcServer(t, 6_600)
	defer srv.Close()

	manager, err := Dial(context.Background(), srv.URL, common.HexToAddress("0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	vault := common.HexToAddress("0x3333333333333333333333333333333333333333")
	n := New(manager, big.NewInt(1), testKey(t), sink, testLogger(), []common.Address{vault}, 6_500, 500)

	if err := n.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.notifications) != 0 {
		t.Fatalf("expected no rebalance for a vault within band, got %+v", sink.notifications)
	}
}

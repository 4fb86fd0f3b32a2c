// Package mevrelay submits a single already-signed transaction as a
// private bundle to a Flashbots-compatible relay, instead of broadcasting
// it to the public mempool. Liquidation and rebalance transactions are
// exactly the kind of visibly profitable transaction a public mempool
// exposes to frontrunning and sandwiching; routing them privately is an
// optional hardening the keeper daemon can opt into
// (keeper.PoolClient.SetPrivateRelay). The rebalancer always broadcasts
// to the public mempool.
package mevrelay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Client submits bundles to one Flashbots-compatible relay, authenticated
// via the X-Flashbots-Signature header every such relay requires.
type Client struct {
	relayURL string
	authKey  *ecdsa.PrivateKey
	http     *http.Client
}

func NewClient(relayURL, authKeyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(authKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("mevrelay: parse auth key: %w", err)
	}
	return &Client{relayURL: relayURL, authKey: key, http: &http.Client{Timeout: 12 * time.Second}}, nil
}

func (c *Client) signBody(body []byte) string {
	addr := crypto.PubkeyToAddress(c.authKey.PublicKey)
	sig, _ := crypto.Sign(crypto.Keccak256(body), c.authKey)
	return fmt.Sprintf("%s:%s", addr.Hex(), hex.EncodeToString(sig))
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
}

// SubmitPrivateTx wraps one signed, RLP-encoded transaction in a
// single-transaction bundle targeted at targetBlock and sends it via
// eth_sendBundle. A relay-level error (included in the JSON-RPC response,
// not a transport failure) is returned as an error.
func (c *Client) SubmitPrivateTx(ctx context.Context, rawTxHex string, targetBlock uint64) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_sendBundle",
		"params": []any{map[string]any{
			"txs":         []string{rawTxHex},
			"blockNumber": hexutil.EncodeUint64(targetBlock),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mevrelay: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mevrelay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", c.signBody(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mevrelay: relay request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mevrelay: read relay response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("mevrelay: decode relay response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("mevrelay: relay rejected bundle: %d %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return nil
}

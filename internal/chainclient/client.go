// Package chainclient wraps JSON-RPC access to Chain E: contract reads
// against the attestation contract's ABI, fee-aware submission, and
// provider failover, per spec.md §4.3/§6.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// Client talks to one Chain E attestation contract deployment, with
// provider failover and fee-aware submission.
type Client struct {
	ec       *ethclient.Client
	rotator  *ProviderRotator
	contract common.Address
	confirmations uint64
	log      log.Logger
}

func Dial(ctx context.Context, urls []string, contract common.Address, confirmations uint64, failoverThreshold int, logger log.Logger) (*Client, error) {
	rotator := NewProviderRotator(urls, failoverThreshold)
	ec, err := ethclient.DialContext(ctx, rotator.Current())
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", rotator.Current(), err)
	}
	return &Client{ec: ec, rotator: rotator, contract: contract, confirmations: confirmations, log: logger}, nil
}

// NoteCycleResult records the outcome of one relay event-loop cycle for
// provider-failover purposes. Any non-nil cycleErr counts as a failure;
// network errors are not told apart from other errors. On a threshold of
// consecutive failures it redials the next provider and returns true.
func (c *Client) NoteCycleResult(ctx context.Context, cycleErr error) (rotated bool, err error) {
	if cycleErr == nil {
		c.rotator.RecordSuccess()
		return false, nil
	}
	didRotate, next := c.rotator.RecordFailure()
	if !didRotate {
		return false, nil
	}
	ec, err := ethclient.DialContext(ctx, next)
	if err != nil {
		return false, fmt.Errorf("chainclient: redial %s: %w", next, err)
	}
	c.ec.Close()
	c.ec = ec
	c.log.Warn("chain provider rotated after consecutive failed cycles", "provider", next)
	return true, nil
}

// NetworkID returns the chain id the current provider reports, used to
// reject cross-chain replay.
func (c *Client) NetworkID(ctx context.Context) (*big.Int, error) {
	return c.ec.NetworkID(ctx)
}

// CurrentNonce reads the contract's currentNonce().
func (c *Client) CurrentNonce(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	if err := c.callView(ctx, "currentNonce", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MinSignatures reads the contract's minSignatures().
func (c *Client) MinSignatures(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	if err := c.callView(ctx, "minSignatures", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UsedAttestationID reads usedAttestationIds(id).
func (c *Client) UsedAttestationID(ctx context.Context, id [32]byte) (bool, error) {
	var out bool
	if err := c.callView(ctx, "usedAttestationIds", &out, id); err != nil {
		return false, err
	}
	return out, nil
}

// HasRole reads hasRole(role, account), used at start-up to pin each
// configured validator address against VALIDATOR_ROLE.
func (c *Client) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	var out bool
	if err := c.callView(ctx, "hasRole", &out, role, account); err != nil {
		return false, err
	}
	return out, nil
}

func (c *Client) callView(ctx context.Context, method string, out any, args ...any) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("chainclient: pack %s: %w", method, err)
	}
	ret, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("chainclient: call %s: %w", method, err)
	}
	results, err := contractABI.Unpack(method, ret)
	if err != nil {
		return fmt.Errorf("chainclient: unpack %s: %w", method, err)
	}
	if len(results) != 1 {
		return fmt.Errorf("chainclient: %s returned %d values, want 1", method, len(results))
	}
	switch dst := out.(type) {
	case **big.Int:
		v, ok := results[0].(*big.Int)
		if !ok {
			return fmt.Errorf("chainclient: %s: unexpected return type %T", method, results[0])
		}
		*dst = v
	case *bool:
		v, ok := results[0].(bool)
		if !ok {
			return fmt.Errorf("chainclient: %s: unexpected return type %T", method, results[0])
		}
		*dst = v
	default:
		return fmt.Errorf("chainclient: %s: unsupported output type %T", method, out)
	}
	return nil
}

// SimulateProcessAttestation pre-flight simulates processAttestation via
// eth_call, per spec.md §4.3 step 8. Any revert is surfaced as an error;
// the caller treats it as "skip this cycle", not a fatal condition.
func (c *Client) SimulateProcessAttestation(ctx context.Context, from common.Address, att AttestationTuple, sigs [][]byte) error {
	data, err := contractABI.Pack("processAttestation", att, sigs)
	if err != nil {
		return fmt.Errorf("chainclient: pack processAttestation: %w", err)
	}
	_, err = c.ec.CallContract(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data}, nil)
	return err
}

// SubmitProcessAttestation estimates gas, applies the 1.2x safety margin
// spec.md §4.3 step 9 requires, builds and signs an EIP-1559 transaction
// from key, and broadcasts it.
func (c *Client) SubmitProcessAttestation(ctx context.Context, chainID *big.Int, key *ecdsa.PrivateKey, att AttestationTuple, sigs [][]byte) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	data, err := contractABI.Pack("processAttestation", att, sigs)
	if err != nil {
		return nil, fmt.Errorf("chainclient: pack processAttestation: %w", err)
	}

	estimate, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("chainclient: EstimateGas: %w", err)
	}
	gasLimit := uint64(float64(estimate) * 1.2)

	tip, feeCap, err := c.suggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainclient: fee estimation: %w", err)
	}
	nonce, err := c.ec.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chainclient: PendingNonceAt: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		To:        &c.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("chainclient: sign transaction: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chainclient: SendTransaction: %w", err)
	}
	return signed, nil
}

// suggestFees mirrors the teacher's baseFee*2+tip heuristic.
func (c *Client) suggestFees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	if head.BaseFee == nil {
		return nil, nil, fmt.Errorf("chainclient: chain head has no baseFee (pre-EIP-1559)")
	}
	suggestedTip, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil || suggestedTip == nil || suggestedTip.Sign() == 0 {
		suggestedTip = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	cap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), suggestedTip)
	if doubled := new(big.Int).Mul(suggestedTip, big.NewInt(2)); doubled.Cmp(cap) > 0 {
		cap = doubled
	}
	return suggestedTip, cap, nil
}

// WaitForConfirmations waits for tx to be mined and then for the
// configured number of confirmations to accrue on top of it.
func (c *Client) WaitForConfirmations(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.ec, tx)
	if err != nil {
		return nil, fmt.Errorf("chainclient: WaitMined: %w", err)
	}
	if c.confirmations == 0 {
		return receipt, nil
	}
	target := receipt.BlockNumber.Uint64() + c.confirmations
	for {
		head, err := c.ec.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("chainclient: BlockNumber: %w", err)
		}
		if head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// BlockNumber returns the current head block number, used to size the
// boot-time recovery scan window.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

// ScanAttestationReceived returns the id of every AttestationReceived
// event emitted by the configured contract within [fromBlock, toBlock],
// per spec.md §4.3's boot-time recovery scan.
func (c *Client) ScanAttestationReceived(ctx context.Context, fromBlock, toBlock uint64) ([][32]byte, error) {
	topic := contractABI.Events["AttestationReceived"].ID
	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("chainclient: FilterLogs: %w", err)
	}
	ids := make([][32]byte, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		ids = append(ids, [32]byte(lg.Topics[1]))
	}
	return ids, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// Package keeper implements the lending-keeper daemon: it polls a
// configured lending pool's per-vault health factor and liquidates any
// vault that falls below a critical threshold, alerting at a higher,
// non-terminal warning threshold. spec.md §9 names this as a thin
// application of the core chain/alert plumbing, not a source of new
// safety-envelope design.
package keeper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/ctn-bridge/internal/mevrelay"
)

// PoolClient reads health factors and submits liquidations against one
// lending pool deployment. Structurally this is internal/chainclient's
// Dial/callView/suggestFees/sign-and-send pattern narrowed to the pool
// ABI instead of the attestation contract's.
type PoolClient struct {
	ec   *ethclient.Client
	pool common.Address
	relay *mevrelay.Client
}

func Dial(ctx context.Context, rpcURL string, pool common.Address) (*PoolClient, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("keeper: dial %s: %w", rpcURL, err)
	}
	return &PoolClient{ec: ec, pool: pool}, nil
}

// SetPrivateRelay routes every subsequent Liquidate submission through
// relay instead of the public mempool, avoiding the frontrunning a
// visibly profitable liquidation invites.
func (c *PoolClient) SetPrivateRelay(relay *mevrelay.Client) {
	c.relay = relay
}

// HealthFactor returns vault's current health factor, 1e18-scaled.
func (c *PoolClient) HealthFactor(ctx context.Context, vault common.Address) (*big.Int, error) {
	data, err := poolABI.Pack("healthFactor", vault)
	if err != nil {
		return nil, fmt.Errorf("keeper: pack healthFactor: %w", err)
	}
	ret, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("keeper: call healthFactor(%s): %w", vault, err)
	}
	results, err := poolABI.Unpack("healthFactor", ret)
	if err != nil {
		return nil, fmt.Errorf("keeper: unpack healthFactor(%s): %w", vault, err)
	}
	hf, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("keeper: healthFactor(%s): unexpected return type %T", vault, results[0])
	}
	return hf, nil
}

// Liquidate estimates gas, applies the same 1.2x safety margin
// chainclient.SubmitProcessAttestation uses, and submits liquidate(vault)
// signed by key.
func (c *PoolClient) Liquidate(ctx context.Context, chainID *big.Int, key *ecdsa.PrivateKey, vault common.Address) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	data, err := poolABI.Pack("liquidate", vault)
	if err != nil {
		return nil, fmt.Errorf("keeper: pack liquidate: %w", err)
	}

	estimate, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.pool, Data: data})
	if err != nil {
		return nil, fmt.Errorf("keeper: EstimateGas: %w", err)
	}
	gasLimit := uint64(float64(estimate) * 1.2)

	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("keeper: HeaderByNumber: %w", err)
	}
	if head.BaseFee == nil {
		return nil, fmt.Errorf("keeper: chain head has no baseFee (pre-EIP-1559)")
	}
	tip, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil || tip.Sign() == 0 {
		tip = big.NewInt(2_000_000_000)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	nonce, err := c.ec.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("keeper: PendingNonceAt: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		To:        &c.pool,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("keeper: sign liquidate(%s): %w", vault, err)
	}

	if c.relay != nil {
		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("keeper: encode liquidate(%s): %w", vault, err)
		}
		if err := c.relay.SubmitPrivateTx(ctx, hexutil.Encode(raw), head.Number.Uint64()+1); err != nil {
			return nil, fmt.Errorf("keeper: private relay submit liquidate(%s): %w", vault, err)
		}
		return signed, nil
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("keeper: SendTransaction liquidate(%s): %w", vault, err)
	}
	return signed, nil
}

// WaitMined blocks until tx is included.
func (c *PoolClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.ec, tx)
}

func (c *PoolClient) Close() { c.ec.Close() }

package keeper

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/alert"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
)

const bpsScale = 10_000

// Node is the lending-keeper daemon's per-cycle monitor.
type Node struct {
	pool    *PoolClient
	chainID *big.Int
	key     *ecdsa.PrivateKey
	sink    alert.Sink
	log     log.Logger

	vaults     []common.Address
	warnHFBps  int64
	critHFBps  int64
	liquidated map[common.Address]bool
}

func New(pool *PoolClient, chainID *big.Int, key *ecdsa.PrivateKey, sink alert.Sink, logger log.Logger, vaults []common.Address, warnHFBps, critHFBps int64) *Node {
	if sink == nil {
		sink = alert.NoopSink{}
	}
	return &Node{
		pool:       pool,
		chainID:    chainID,
		key:        key,
		sink:       sink,
		log:        logger,
		vaults:     vaults,
		warnHFBps:  warnHFBps,
		critHFBps:  critHFBps,
		liquidated: make(map[common.Address]bool),
	}
}

// RunCycle reads every monitored vault's health factor and liquidates any
// that have fallen below the critical threshold, alerting at the warning
// threshold short of liquidation. A read or liquidation failure for one
// vault is logged and the cycle continues with the rest.
func (n *Node) RunCycle(ctx context.Context) error {
	for _, vault := range n.vaults {
		if err := n.evaluateOne(ctx, vault); err != nil {
			n.log.Warn("keeper skipped vault", "vault", vault, "reason", err)
			obsmetrics.Counter("keeper/skipped").Inc(1)
		}
	}
	return nil
}

func (n *Node) evaluateOne(ctx context.Context, vault common.Address) error {
	hf, err := n.pool.HealthFactor(ctx, vault)
	if err != nil {
		return fmt.Errorf("HealthFactor: %w", err)
	}
	hfBps := new(big.Int).Div(new(big.Int).Mul(hf, big.NewInt(bpsScale)), big.NewInt(1e18)).Int64()

	switch {
	case hfBps >= n.warnHFBps:
		n.liquidated[vault] = false
		return nil
	case hfBps >= n.critHFBps:
		if err := n.sink.Notify(ctx, alert.SeverityWarning, fmt.Sprintf("vault %s health factor %.4f below warning threshold", vault, float64(hfBps)/bpsScale)); err != nil {
			n.log.Warn("keeper warning alert failed to send", "vault", vault, "reason", err)
		}
		return nil
	}

	if n.liquidated[vault] {
		return nil
	}

	tx, err := n.pool.Liquidate(ctx, n.chainID, n.key, vault)
	if err != nil {
		return fmt.Errorf("Liquidate: %w", err)
	}
	if _, err := n.pool.WaitMined(ctx, tx); err != nil {
		return fmt.Errorf("WaitMined liquidate(%s): %w", vault, err)
	}
	n.liquidated[vault] = true
	obsmetrics.Counter("keeper/liquidated").Inc(1)
	if err := n.sink.Notify(ctx, alert.SeverityCritical, fmt.Sprintf("vault %s liquidated at health factor %.4f", vault, float64(hfBps)/bpsScale)); err != nil {
		n.log.Warn("keeper liquidation alert failed to send", "vault", vault, "reason", err)
	}
	return nil
}

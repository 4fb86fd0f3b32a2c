package rebalancer

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

// Node is the vault-rebalancer daemon's per-cycle monitor.
type Node struct {
	manager *ManagerClient
	chainID *big.Int
	key     *ecdsa.PrivateKey
	sink    alert.Sink
	log     log.Logger

	vaults          []common.Address
	targetLtvBps    int64
	safetyBufferBps int64
}

func New(manager *ManagerClient, chainID *big.Int, key *ecdsa.PrivateKey, sink alert.Sink, logger log.Logger, vaults []common.Address, targetLtvBps, safetyBufferBps int64) *Node {
	if sink == nil {
		sink = alert.NoopSink{}
	}
	return &Node{
		manager:         manager,
		chainID:         chainID,
		key:             key,
		sink:            sink,
		log:             logger,
		vaults:          vaults,
		targetLtvBps:    targetLtvBps,
		safetyBufferBps: safetyBufferBps,
	}
}

// RunCycle reads every monitored vault's current LTV and rebalances any
// that have drifted outside [target-buffer, target+buffer]. A read or
// rebalance failure for one vault is logged and the cycle continues with
// the rest.
func (n *Node) RunCycle(ctx context.Context) error {
	for _, vault := range n.vaults {
		if err := n.evaluateOne(ctx, vault); err != nil {
			n.log.Warn("rebalancer skipped vault", "vault", vault, "reason", err)
			obsmetrics.Counter("rebalancer/skipped").Inc(1)
		}
	}
	return nil
}

func (n *Node) evaluateOne(ctx context.Context, vault common.Address) error {
	ltv, err := n.manager.CurrentLtvBps(ctx, vault)
	if err != nil {
		return fmt.Errorf("CurrentLtvBps: %w", err)
	}
	ltvBps := ltv.Int64()

	lowerBound := n.targetLtvBps - n.safetyBufferBps
	upperBound := n.targetLtvBps + n.safetyBufferBps
	if ltvBps >= lowerBound && ltvBps <= upperBound {
		return nil
	}

	tx, err := n.manager.Rebalance(ctx, n.chainID, n.key, vault)
	if err != nil {
		return fmt.Errorf("Rebalance: %w", err)
	}
	if _, err := n.manager.WaitMined(ctx, tx); err != nil {
		return fmt.Errorf("WaitMined rebalance(%s): %w", vault, err)
	}
	obsmetrics.Counter("rebalancer/rebalanced").Inc(1)
	if err := n.sink.Notify(ctx, alert.SeverityWarning, fmt.Sprintf("vault %s rebalanced: ltv %d bps outside [%d, %d]", vault, ltvBps, lowerBound, upperBound)); err != nil {
		n.log.Warn("rebalancer alert failed to send", "vault", vault, "reason", err)
	}
	return nil
}

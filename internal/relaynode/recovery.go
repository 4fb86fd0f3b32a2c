package relaynode

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BootRecovery scans the last blockWindow blocks in chunkSize-block chunks
// for AttestationReceived events and pre-populates the processed-set, per
// spec.md §4.3's boot-time recovery. Called once at start-up, before the
// loop begins polling.
func (n *Node) BootRecovery(ctx context.Context, blockWindow, chunkSize uint64) error {
	if chunkSize == 0 {
		chunkSize = 10_000
	}
	head, err := n.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("relaynode: BlockNumber: %w", err)
	}
	var from uint64
	if head > blockWindow {
		from = head - blockWindow
	}

	scanned := 0
	for start := from; start <= head; start += chunkSize {
		end := start + chunkSize - 1
		if end > head {
			end = head
		}
		ids, err := n.chain.ScanAttestationReceived(ctx, start, end)
		if err != nil {
			return fmt.Errorf("relaynode: ScanAttestationReceived[%d,%d]: %w", start, end, err)
		}
		for _, id := range ids {
			n.processed.Add(common.Bytes2Hex(id[:]))
		}
		scanned += len(ids)
		if end == head {
			break
		}
	}
	n.log.Info("relay boot recovery complete", "fromBlock", from, "toBlock", head, "eventsFound", scanned)
	return nil
}

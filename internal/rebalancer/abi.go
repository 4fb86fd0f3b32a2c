package rebalancer

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// managerABIJSON is the subset of a vault manager's ABI the rebalancer
// needs: a current-LTV view and a rebalance entrypoint. spec.md §9 names
// the rebalancer's config surface (targetLtvBps/safetyBufferBps) without
// naming a concrete manager ABI, so these are named directly from what
// they do.
const managerABIJSON = `[
  {"type":"function","stateMutability":"view","name":"currentLtvBps","inputs":[{"name":"vault","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"nonpayable","name":"rebalance","inputs":[{"name":"vault","type":"address"}],"outputs":[]}
]`

var managerABI = mustParseABI(managerABIJSON)

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return parsed
}

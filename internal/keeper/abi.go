package keeper

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// poolABIJSON is the subset of a lending pool's ABI the keeper needs:
// a health-factor view and a liquidation entrypoint. spec.md §9 names
// the keeper's config surface (criticalHF/warnHF) without naming a
// concrete pool ABI, so these two functions are named directly from
// what they do.
const poolABIJSON = `[
  {"type":"function","stateMutability":"view","name":"healthFactor","inputs":[{"name":"vault","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"nonpayable","name":"liquidate","inputs":[{"name":"vault","type":"address"}],"outputs":[]}
]`

var poolABI = mustParseABI(poolABIJSON)

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return parsed
}

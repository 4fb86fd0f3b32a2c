package relaynode

import (
	"context"
	"fmt"

	"github.com/ligun0805/ctn-bridge/internal/chainclient"
)

// PinValidatorRoles confirms every configured validator address actually
// carries VALIDATOR_ROLE on chain, per spec.md §4.3 step 10. Called once
// at start-up; a missing role fails the process rather than silently
// trusting a forged address mapping in configuration.
func (n *Node) PinValidatorRoles(ctx context.Context) error {
	for party, addr := range n.validatorAddresses {
		ok, err := n.chain.HasRole(ctx, chainclient.ValidatorRole, addr)
		if err != nil {
			return fmt.Errorf("relaynode: HasRole(%s, %s): %w", party, addr, err)
		}
		if !ok {
			return fmt.Errorf("relaynode: configured validator %q (%s) lacks VALIDATOR_ROLE on chain", party, addr)
		}
	}
	return nil
}

package oracle

import (
	"context"
	"fmt"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
)

// Publisher writes an accepted price to wherever downstream consumers
// read it from. Pipeline depends on the interface, not on
// internal/ledger directly, mirroring the alert.Sink boundary so the
// divergence/bounds logic in pipeline.go stays testable without an HTTP
// server.
type Publisher interface {
	PublishPrice(ctx context.Context, symbol string, price float64, label string) error
}

// LedgerPublisher exercises Oracle_UpdatePrice on the configured
// PriceFeed contract, per spec.md §3's "price oracle state" data model
// (no on-chain template name is specified, so this one is named directly
// from what it does; see DESIGN.md Open Questions).
type LedgerPublisher struct {
	ledger   *ledger.Client
	template ledger.TemplateID
}

func NewLedgerPublisher(ledgerClient *ledger.Client, template ledger.TemplateID) *LedgerPublisher {
	return &LedgerPublisher{ledger: ledgerClient, template: template}
}

func (p *LedgerPublisher) PublishPrice(ctx context.Context, symbol string, price float64, label string) error {
	contracts, err := p.ledger.QueryActive(ctx, p.template, func(args map[string]any) bool {
		s, _ := args["symbol"].(string)
		return s == symbol
	})
	if err != nil {
		return fmt.Errorf("oracle: PublishPrice(%s): QueryActive: %w", symbol, err)
	}
	if len(contracts) != 1 {
		return fmt.Errorf("oracle: PublishPrice(%s): found %d PriceFeed contracts, want 1", symbol, len(contracts))
	}

	scaled, err := attestation.ParseFixed18(fmt.Sprintf("%.18f", price))
	if err != nil {
		return fmt.Errorf("oracle: scale price %v for %s: %w", price, symbol, err)
	}
	args := map[string]any{
		"price": scaled.String(),
		"label": label,
	}
	_, module, entity := p.template.Identifier()
	if _, err := p.ledger.ExerciseChoice(ctx, module+":"+entity, contracts[0].ContractID, "Oracle_UpdatePrice", args, nil); err != nil {
		return fmt.Errorf("oracle: PublishPrice(%s): %w", symbol, err)
	}
	return nil
}

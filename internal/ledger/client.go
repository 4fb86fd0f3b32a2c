// Package ledger implements the Ledger L JSON/HTTP client spec.md §4.1/§6
// describes: template-id resolution, defensively-filtered active-contract
// queries, command submission, and a classified retry taxonomy.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

const (
	defaultTimeout    = 30 * time.Second
	maxActiveContracts = 200
)

// Client talks to one Ledger L participant as one party/user.
type Client struct {
	c *client

	userID    string
	party     string
	packageID string
}

// Config carries the connection details Client needs. Host/Port/TokenEnv/
// Party/PackageID/UseTLS are resolved from config.LedgerConfig by the
// caller; Client itself has no env-reading logic.
type Config struct {
	BaseURL   string
	Token     string
	UserID    string
	Party     string
	PackageID string
	Timeout   time.Duration
}

func New(cfg Config, logger log.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		c:         newClient(cfg.BaseURL, cfg.Token, timeout, logger),
		userID:    cfg.UserID,
		party:     cfg.Party,
		packageID: cfg.PackageID,
	}
}

// qualify prepends the configured package id to a bare "Module:Entity"
// template id, per spec.md §4.1's createContract formatting rule.
func (cl *Client) qualify(templateID string) TemplateID {
	return TemplateID(cl.packageID + ":" + templateID)
}

// GetLatestOffset returns the ledger end, used to serialise active-contract
// queries at a coherent snapshot.
func (cl *Client) GetLatestOffset(ctx context.Context) (int64, error) {
	raw, err := cl.c.do(ctx, opRead, "GET", "/v2/state/ledger-end", nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: GetLatestOffset: %w", err)
	}
	var resp ledgerEndResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("ledger: GetLatestOffset: decode response: %w", err)
	}
	return resp.Offset, nil
}

// PayloadPredicate filters a decoded createArgument after the defensive
// template-id re-check has already run.
type PayloadPredicate func(createArgument map[string]any) bool

// QueryActive requests the active set for templateID at the current ledger
// end. It re-parses each returned contract's qualified template id and
// drops any that don't match (the server is known to return all visible
// templates when the requested template is absent from the package), then
// applies an optional payload predicate. If the raw response hits the
// per-request cap, it fails with *QueryLimitError rather than returning a
// silently partial list.
func (cl *Client) QueryActive(ctx context.Context, templateID TemplateID, predicate PayloadPredicate) ([]ActiveContract, error) {
	offset, err := cl.GetLatestOffset(ctx)
	if err != nil {
		return nil, err
	}

	req := activeContractsRequest{
		ActiveAtOffset: offset,
		EventFormat: eventFormat{
			FiltersByParty: map[string]partyFilter{
				cl.party: {
					Cumulative: []struct {
						IdentifierFilter identifierFilter `json:"identifierFilter"`
					}{
						{
							IdentifierFilter: identifierFilter{
								TemplateFilter: &templateFilter{
									Value: struct {
										TemplateID              TemplateID `json:"templateId"`
										IncludeCreatedEventBlob bool       `json:"includeCreatedEventBlob"`
									}{TemplateID: templateID, IncludeCreatedEventBlob: false},
								},
							},
						},
					},
				},
			},
		},
	}

	raw, err := cl.c.do(ctx, opRead, "POST", fmt.Sprintf("/v2/state/active-contracts?limit=%d", maxActiveContracts), req)
	if err != nil {
		return nil, fmt.Errorf("ledger: QueryActive(%s): %w", templateID, err)
	}
	var resp activeContractsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("ledger: QueryActive(%s): decode response: %w", templateID, err)
	}
	if len(resp.ActiveContracts) >= maxActiveContracts {
		return nil, &QueryLimitError{TemplateID: templateID, Limit: maxActiveContracts}
	}

	wantPkg, wantModule, wantEntity := templateID.Identifier()
	out := make([]ActiveContract, 0, len(resp.ActiveContracts))
	for _, entry := range resp.ActiveContracts {
		jsac := entry.ContractEntry.JsActiveContract
		if jsac == nil {
			continue
		}
		ev := jsac.CreatedEvent
		pkg, module, entityName := ev.TemplateID.Identifier()
		if pkg != wantPkg || module != wantModule || entityName != wantEntity {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(ev.CreateArgument, &args); err != nil {
			return nil, fmt.Errorf("ledger: QueryActive(%s): decode createArgument for %s: %w", templateID, ev.ContractID, err)
		}
		if predicate != nil && !predicate(args) {
			continue
		}
		out = append(out, ActiveContract{
			ContractID:     ev.ContractID,
			TemplateID:     ev.TemplateID,
			CreateArgument: args,
			CreatedAt:      ev.CreatedAt,
			Offset:         ev.Offset,
			Signatories:    ev.Signatories,
			Observers:      ev.Observers,
		})
	}
	return out, nil
}

// CreateContract submits a create command for templateID (a bare
// "Module:Entity" id, qualified with the configured package id) carrying
// payload as its create arguments.
func (cl *Client) CreateContract(ctx context.Context, templateID string, payload any) (*submitAndWaitResponse, error) {
	var cmd createCommand
	cmd.CreateCommand.TemplateID = cl.qualify(templateID)
	cmd.CreateCommand.CreateArguments = payload
	return cl.submitAndWait(ctx, cmd)
}

// ExerciseChoice submits an exercise command. extraActAs covers
// multi-controller choices that require more than the configured party to
// authorize.
func (cl *Client) ExerciseChoice(ctx context.Context, templateID string, contractID, choice string, args any, extraActAs []string) (*submitAndWaitResponse, error) {
	var cmd exerciseCommand
	cmd.ExerciseCommand.TemplateID = cl.qualify(templateID)
	cmd.ExerciseCommand.ContractID = contractID
	cmd.ExerciseCommand.Choice = choice
	cmd.ExerciseCommand.ChoiceArgument = args
	return cl.submitAndWait(ctx, cmd, extraActAs...)
}

func (cl *Client) submitAndWait(ctx context.Context, command any, extraActAs ...string) (*submitAndWaitResponse, error) {
	req := submitAndWaitRequest{
		UserID:    cl.userID,
		ActAs:     append([]string{cl.party}, extraActAs...),
		ReadAs:    []string{cl.party},
		CommandID: uuid.NewString(),
		Commands:  []interface{}{command},
	}
	raw, err := cl.c.do(ctx, opWrite, "POST", "/v2/commands/submit-and-wait", req)
	if err != nil {
		return nil, fmt.Errorf("ledger: submit-and-wait: %w", err)
	}
	var resp submitAndWaitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("ledger: submit-and-wait: decode response: %w", err)
	}
	return &resp, nil
}

// GetUsers returns the participant's configured users. No daemon in this
// repository calls it.
func (cl *Client) GetUsers(ctx context.Context) ([]User, error) {
	raw, err := cl.c.do(ctx, opRead, "GET", "/v2/users", nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: GetUsers: %w", err)
	}
	var resp usersResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("ledger: GetUsers: decode response: %w", err)
	}
	return resp.Users, nil
}

// GetPackages returns the package ids the participant currently has
// uploaded. No daemon in this repository calls it, so the configured
// package id is not checked against this list at startup.
func (cl *Client) GetPackages(ctx context.Context) ([]string, error) {
	raw, err := cl.c.do(ctx, opRead, "GET", "/v2/packages", nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: GetPackages: %w", err)
	}
	var resp packagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("ledger: GetPackages: decode response: %w", err)
	}
	return resp.PackageIDs, nil
}

package ledger

import "encoding/json"

// TemplateID is the wire form Ledger L uses for a qualified template
// identifier: "pkg:Module:Entity".
type TemplateID string

// Identifier splits a TemplateID into its package, module, and entity
// components, used by the defensive client-side template filter.
func (t TemplateID) Identifier() (pkg, module, entity string) {
	parts := splitN(string(t), ':', 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func splitN(s string, sep byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ledgerEndResponse is the body GET /v2/state/ledger-end returns.
type ledgerEndResponse struct {
	Offset int64 `json:"offset"`
}

// identifierFilter is the oneof-encoded template filter Ledger L expects:
// either a wildcard (all visible templates for the party) or a concrete
// template filter, both suppressing the created-event blob.
type identifierFilter struct {
	WildcardFilter *wildcardFilter `json:"WildcardFilter,omitempty"`
	TemplateFilter *templateFilter `json:"TemplateFilter,omitempty"`
}

type wildcardFilter struct {
	IncludeCreatedEventBlob bool `json:"includeCreatedEventBlob"`
}

type templateFilter struct {
	Value struct {
		TemplateID              TemplateID `json:"templateId"`
		IncludeCreatedEventBlob bool       `json:"includeCreatedEventBlob"`
	} `json:"value"`
}

type partyFilter struct {
	Cumulative []struct {
		IdentifierFilter identifierFilter `json:"identifierFilter"`
	} `json:"cumulative"`
}

type eventFormat struct {
	FiltersByParty map[string]partyFilter `json:"filtersByParty"`
	Verbose        bool                   `json:"verbose"`
}

type activeContractsRequest struct {
	EventFormat    eventFormat `json:"eventFormat"`
	ActiveAtOffset int64       `json:"activeAtOffset"`
}

// CreatedEvent is the flattened view of a JsActiveContract entry's
// createdEvent node.
type CreatedEvent struct {
	ContractID      string          `json:"contractId"`
	TemplateID      TemplateID      `json:"templateId"`
	CreateArgument  json.RawMessage `json:"createArgument"`
	CreatedAt       string          `json:"createdAt"`
	Offset          int64           `json:"offset"`
	Signatories     []string        `json:"signatories"`
	Observers       []string        `json:"observers"`
}

type jsActiveContract struct {
	CreatedEvent CreatedEvent `json:"createdEvent"`
}

type contractEntry struct {
	JsActiveContract *jsActiveContract `json:"JsActiveContract,omitempty"`
}

type activeContractsEntry struct {
	ContractEntry contractEntry `json:"contractEntry"`
}

type activeContractsResponse struct {
	ActiveContracts []activeContractsEntry `json:"activeContracts"`
}

// ActiveContract is the caller-facing shape QueryActive returns, after
// unwrapping the contractEntry/JsActiveContract envelope.
type ActiveContract struct {
	ContractID     string
	TemplateID     TemplateID
	CreateArgument map[string]any
	CreatedAt      string
	Offset         int64
	Signatories    []string
	Observers      []string
}

type createCommand struct {
	CreateCommand struct {
		TemplateID     TemplateID  `json:"templateId"`
		CreateArguments interface{} `json:"createArguments"`
	} `json:"CreateCommand"`
}

type exerciseCommand struct {
	ExerciseCommand struct {
		TemplateID     TemplateID  `json:"templateId"`
		ContractID     string      `json:"contractId"`
		Choice         string      `json:"choice"`
		ChoiceArgument interface{} `json:"choiceArgument"`
	} `json:"ExerciseCommand"`
}

type submitAndWaitRequest struct {
	UserID    string        `json:"userId"`
	ActAs     []string      `json:"actAs"`
	ReadAs    []string      `json:"readAs"`
	CommandID string        `json:"commandId"`
	Commands  []interface{} `json:"commands"`
}

type submitAndWaitResponse struct {
	UpdateID      string `json:"updateId"`
	CompletionOffset int64 `json:"completionOffset"`
}

// User mirrors one entry of GET /v2/users.
type User struct {
	ID        string `json:"id"`
	PrimaryParty string `json:"primaryParty"`
}

// Package mirrors one entry of GET /v2/packages.
type Package struct {
	PackageID string `json:"packageId"`
}

type usersResponse struct {
	Users []User `json:"users"`
}

type packagesResponse struct {
	PackageIDs []string `json:"packageIds"`
}

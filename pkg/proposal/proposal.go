// Package proposal defines the order-proposal schema every strategy emits
// and the fail-closed validation applied before a proposal may enter the
// audit log. Proposals are observe-only artifacts: they describe an order
// the strategy would place, never an order that was placed.
package proposal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssetType is the instrument class of a proposal.
type AssetType string

const (
	AssetOption AssetType = "OPTION"
	AssetEquity AssetType = "EQUITY"
	AssetFuture AssetType = "FUTURE"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Right is an option right.
type Right string

const (
	RightCall Right = "CALL"
	RightPut  Right = "PUT"
)

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusProposed   Status = "PROPOSED"
	StatusRejected   Status = "REJECTED"
	StatusSuperseded Status = "SUPERSEDED"
	StatusExpired    Status = "EXPIRED"
)

// OptionLeg carries the contract details an OPTION proposal must name.
type OptionLeg struct {
	Expiration     string   `json:"expiration"`
	Right          Right    `json:"right"`
	Strike         float64  `json:"strike"`
	ContractSymbol string   `json:"contract_symbol,omitempty"`
}

// Rationale explains why the strategy wants the order.
type Rationale struct {
	ShortReason string         `json:"short_reason"`
	Indicators  map[string]any `json:"indicators,omitempty"`
}

// Risk carries optional risk bounds on the intended position.
type Risk struct {
	MaxLossUSD *float64 `json:"max_loss_usd,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// Constraints bound when and how the proposal may be acted upon.
// RequiresHumanApproval defaults to true when absent on the wire; the
// safe direction must be the zero-config direction.
type Constraints struct {
	ValidUntilUTC         time.Time `json:"valid_until_utc"`
	RequiresHumanApproval bool      `json:"requires_human_approval"`
}

// UnmarshalJSON applies the requires_human_approval=true default for
// payloads that omit the field.
func (c *Constraints) UnmarshalJSON(data []byte) error {
	type wire struct {
		ValidUntilUTC         time.Time `json:"valid_until_utc"`
		RequiresHumanApproval *bool     `json:"requires_human_approval"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.ValidUntilUTC = w.ValidUntilUTC
	if w.RequiresHumanApproval == nil {
		c.RequiresHumanApproval = true
	} else {
		c.RequiresHumanApproval = *w.RequiresHumanApproval
	}
	return nil
}

// Proposal is an immutable order proposal. Once appended to the audit log
// it is never edited; lifecycle transitions live in the emitter's
// process-local cache only.
type Proposal struct {
	ProposalID      string      `json:"proposal_id"`
	CreatedAtUTC    time.Time   `json:"created_at_utc"`
	RepoID          string      `json:"repo_id"`
	AgentName       string      `json:"agent_name"`
	StrategyName    string      `json:"strategy_name"`
	StrategyVersion string      `json:"strategy_version,omitempty"`
	CorrelationID   string      `json:"correlation_id,omitempty"`
	Symbol          string      `json:"symbol"`
	AssetType       AssetType   `json:"asset_type"`
	Option          *OptionLeg  `json:"option,omitempty"`
	Side            Side        `json:"side"`
	Quantity        float64     `json:"quantity"`
	LimitPrice      *float64    `json:"limit_price,omitempty"`
	TimeInForce     TimeInForce `json:"time_in_force"`
	Rationale       Rationale   `json:"rationale"`
	Risk            Risk        `json:"risk"`
	Constraints     Constraints `json:"constraints"`
	Status          Status      `json:"status"`
}

// New fills the generated identity fields and safe defaults for a proposal
// built in-process.
func New(now time.Time) Proposal {
	return Proposal{
		ProposalID:   uuid.New().String(),
		CreatedAtUTC: now.UTC(),
		TimeInForce:  TIFDay,
		Status:       StatusProposed,
		Constraints:  Constraints{RequiresHumanApproval: true},
	}
}

// Parse decodes a proposal from its NDJSON line form. Unknown fields are
// rejected: a proposal carrying fields this build does not understand must
// not be silently half-understood.
func Parse(raw []byte) (*Proposal, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p Proposal
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse proposal: %w", err)
	}
	if p.TimeInForce == "" {
		p.TimeInForce = TIFDay
	}
	return &p, nil
}

// ContractKey identifies the option contract the proposal targets, or ""
// for non-option proposals. Used by the supersede window to group
// proposals for the same contract.
func (p *Proposal) ContractKey() string {
	if p.Option == nil {
		return ""
	}
	if p.Option.ContractSymbol != "" {
		return p.Option.ContractSymbol
	}
	return fmt.Sprintf("%s|%s|%.4f", p.Option.Expiration, p.Option.Right, p.Option.Strike)
}

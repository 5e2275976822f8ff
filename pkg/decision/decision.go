// Package decision holds the execution decision record and the pure
// decider that produces it. The decider's default posture is REJECT: a
// proposal is approved only when every safety condition holds.
package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/proposal"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

// Outcome is the decider's verdict.
type Outcome string

const (
	Approve Outcome = "APPROVE"
	Reject  Outcome = "REJECT"
)

// Reason codes attached to rejections. A decision carries every failing
// reason, not just the first.
const (
	ReasonKillSwitchEnabled        = "kill_switch_enabled"
	ReasonMarketdataStaleOrMissing = "marketdata_stale_or_missing"
	ReasonRequiresHumanApproval    = "requires_human_approval"
	ReasonProposalExpired          = "proposal_expired"
)

// RecommendedOrder is the compact order summary embedded in a decision so
// audit readers never need to re-join against the proposals file.
type RecommendedOrder struct {
	Symbol                string               `json:"symbol"`
	Side                  proposal.Side        `json:"side"`
	Quantity              float64              `json:"quantity"`
	LimitPrice            *float64             `json:"limit_price,omitempty"`
	TimeInForce           proposal.TimeInForce `json:"time_in_force"`
	ValidUntilUTC         time.Time            `json:"valid_until_utc"`
	RequiresHumanApproval bool                 `json:"requires_human_approval"`
	AssetType             proposal.AssetType   `json:"asset_type"`
}

// ExecutionDecision is one appended line of the decisions NDJSON file.
type ExecutionDecision struct {
	DecisionID        string           `json:"decision_id"`
	DecidedAtUTC      time.Time        `json:"decided_at_utc"`
	ProposalID        string           `json:"proposal_id"`
	CorrelationID     string           `json:"correlation_id,omitempty"`
	AgentName         string           `json:"agent_name"`
	AgentRole         string           `json:"agent_role"`
	Decision          Outcome          `json:"decision"`
	RejectReasonCodes []string         `json:"reject_reason_codes"`
	Notes             string           `json:"notes,omitempty"`
	RecommendedOrder  RecommendedOrder `json:"recommended_order"`
	SafetySnapshot    safety.Snapshot  `json:"safety_snapshot"`
}

// Decide evaluates a proposal against a safety snapshot. Pure apart from
// the generated decision id: same inputs always yield the same outcome
// and the same reason set, in a fixed order.
func Decide(p *proposal.Proposal, snap safety.Snapshot, agentName, agentRole string, now time.Time) ExecutionDecision {
	nowUTC := now.UTC()

	var reasons []string
	if snap.KillSwitch {
		reasons = append(reasons, ReasonKillSwitchEnabled)
	}
	if !snap.MarketdataFresh {
		reasons = append(reasons, ReasonMarketdataStaleOrMissing)
	}
	if p.Constraints.RequiresHumanApproval {
		reasons = append(reasons, ReasonRequiresHumanApproval)
	}
	if !p.Constraints.ValidUntilUTC.After(nowUTC) {
		reasons = append(reasons, ReasonProposalExpired)
	}

	outcome := Reject
	if len(reasons) == 0 {
		outcome = Approve
	}
	if reasons == nil {
		reasons = []string{}
	}

	return ExecutionDecision{
		DecisionID:        uuid.New().String(),
		DecidedAtUTC:      nowUTC,
		ProposalID:        p.ProposalID,
		CorrelationID:     p.CorrelationID,
		AgentName:         agentName,
		AgentRole:         agentRole,
		Decision:          outcome,
		RejectReasonCodes: reasons,
		RecommendedOrder: RecommendedOrder{
			Symbol:                p.Symbol,
			Side:                  p.Side,
			Quantity:              p.Quantity,
			LimitPrice:            p.LimitPrice,
			TimeInForce:           p.TimeInForce,
			ValidUntilUTC:         p.Constraints.ValidUntilUTC.UTC(),
			RequiresHumanApproval: p.Constraints.RequiresHumanApproval,
			AssetType:             p.AssetType,
		},
		SafetySnapshot: snap,
	}
}

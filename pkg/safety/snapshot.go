package safety

import (
	"context"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/freshness"
)

// Snapshot is the safety state captured at the moment a decision is made.
// It travels with the decision record so the audit trail shows exactly
// what the decider saw.
type Snapshot struct {
	KillSwitch       bool       `json:"kill_switch"`
	MarketdataFresh  bool       `json:"marketdata_fresh"`
	MarketdataLastTS *time.Time `json:"marketdata_last_ts,omitempty"`
	AgentMode        string     `json:"agent_mode"`
}

// SnapshotInputs are the external signals a snapshot is built from.
type SnapshotInputs struct {
	Tenant           string
	MarketdataLastTS *time.Time
	StaleAfter       time.Duration
	AgentMode        string
	Now              func() time.Time
}

// BuildSnapshot reads the kill-switch store and evaluates market-data
// freshness. A kill-switch read failure fails closed: the switch reports
// engaged.
func BuildSnapshot(ctx context.Context, store KillSwitchStore, in SnapshotInputs) Snapshot {
	now := in.Now
	if now == nil {
		now = time.Now
	}
	nowUTC := now().UTC()

	engaged := true
	if store == nil {
		engaged = false
	} else if state, err := store.State(ctx, in.Tenant); err == nil {
		engaged = state.Engaged
	}

	check := freshness.CheckFreshness(in.MarketdataLastTS, in.StaleAfter, &nowUTC, "marketdata")

	return Snapshot{
		KillSwitch:       engaged,
		MarketdataFresh:  check.OK,
		MarketdataLastTS: check.LatestTS,
		AgentMode:        in.AgentMode,
	}
}

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/decision"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/proposal"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

// DecisionsFileName is the per-day decisions audit file.
const DecisionsFileName = "decisions.ndjson"

// Agent is the execution agent loop. Single-threaded and cooperative:
// the only suspension points are the follower's poll wait and context
// cancellation, observed between reads.
type Agent struct {
	cfg        Config
	killSwitch safety.KillSwitchStore
	intents    *audit.IntentLog
	logger     *slog.Logger
	clock      func() time.Time

	// seen tracks proposal ids observed in this process run. Duplicates
	// are skipped and reported; restarts intentionally reset this set so
	// re-tailing re-emits decisions (consumers dedupe by proposal_id).
	seen map[string]bool
	// seededToday holds proposal ids found in today's decisions file at
	// boot. Observability only: it never gates processing.
	seededToday map[string]bool
}

// New creates an execution agent from resolved configuration.
func New(cfg Config, killSwitch safety.KillSwitchStore, intents *audit.IntentLog, logger *slog.Logger) *Agent {
	if intents == nil {
		intents = audit.NewIntentLog(nil)
	}
	if logger == nil {
		logger = slog.Default().With("component", "execution-agent")
	}
	return &Agent{
		cfg:         cfg,
		killSwitch:  killSwitch,
		intents:     intents,
		logger:      logger,
		clock:       time.Now,
		seen:        map[string]bool{},
		seededToday: map[string]bool{},
	}
}

// WithClock overrides the clock for deterministic tests.
func (a *Agent) WithClock(clock func() time.Time) *Agent {
	a.clock = clock
	return a
}

// Run tails the proposals file until ctx is cancelled. The boot gate is
// the caller's responsibility (it decides the process exit code before
// any loop exists).
func (a *Agent) Run(ctx context.Context) error {
	a.seedDuplicateVisibility()

	follower := NewFollower(a.cfg.ProposalsPath, a.cfg.StartAt, a.cfg.PollInterval)
	a.logger.Info("following proposals",
		"path", a.cfg.ProposalsPath,
		"start_at", string(a.cfg.StartAt),
		"poll_interval", a.cfg.PollInterval.String(),
		"seeded_decisions_today", len(a.seededToday),
	)

	return follower.Follow(ctx, func(line []byte) error {
		a.handleLine(ctx, line)
		return nil
	})
}

// handleLine processes one NDJSON proposal line end to end. Errors are
// absorbed into intent lines: a malformed proposal must never stop the
// follower.
func (a *Agent) handleLine(ctx context.Context, line []byte) {
	p, err := proposal.Parse(line)
	if err != nil {
		a.intents.Emit(audit.IntentProposalParseError, map[string]any{
			"error":    err.Error(),
			"severity": "WARNING",
		})
		return
	}

	if a.seen[p.ProposalID] {
		a.intents.Emit(audit.IntentProposalDuplicate, map[string]any{
			"proposal_id": p.ProposalID,
			"severity":    "INFO",
		})
		return
	}
	a.seen[p.ProposalID] = true

	now := a.clock().UTC()
	snap := safety.BuildSnapshot(ctx, a.killSwitch, safety.SnapshotInputs{
		Tenant:           a.cfg.Tenant,
		MarketdataLastTS: a.cfg.MarketdataLastTS,
		StaleAfter:       a.cfg.StaleThreshold,
		AgentMode:        a.cfg.AgentMode,
		Now:              func() time.Time { return now },
	})

	d := decision.Decide(p, snap, a.cfg.AgentName, a.cfg.AgentRole, now)

	a.intents.Emit(audit.IntentExecutionDecision, map[string]any{
		"proposal_id":         p.ProposalID,
		"decision_id":         d.DecisionID,
		"decision":            string(d.Decision),
		"reject_reason_codes": d.RejectReasonCodes,
		"symbol":              p.Symbol,
		"seen_in_today_file":  a.seededToday[p.ProposalID],
	})

	a.persistDecision(d, now)
}

// persistDecision appends the decision as one NDJSON line; on filesystem
// failure it falls back to a full-decision intent line on stdout.
func (a *Agent) persistDecision(d decision.ExecutionDecision, now time.Time) {
	raw, err := json.Marshal(d)
	if err != nil {
		a.logger.Error("decision marshal failed", "decision_id", d.DecisionID, "error", err)
		return
	}

	path := filepath.Join(a.cfg.DecisionsBaseDir, now.Format("2006-01-02"), DecisionsFileName)
	if err := audit.AppendLine(path, raw); err != nil {
		a.intents.Emit(audit.IntentDecisionFallback, map[string]any{
			"decision_id": d.DecisionID,
			"path":        path,
			"error":       err.Error(),
			"decision":    json.RawMessage(raw),
			"severity":    "ERROR",
		})
		return
	}
	a.logger.Debug("decision persisted", "decision_id", d.DecisionID, "path", path)
}

// seedDuplicateVisibility loads proposal ids from today's decisions file.
// This only feeds the seen_in_today_file log field; re-observed proposals
// are still re-decided by design.
func (a *Agent) seedDuplicateVisibility() {
	path := filepath.Join(a.cfg.DecisionsBaseDir, a.clock().UTC().Format("2006-01-02"), DecisionsFileName)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var row struct {
			ProposalID string `json:"proposal_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil || row.ProposalID == "" {
			continue
		}
		a.seededToday[row.ProposalID] = true
	}
}

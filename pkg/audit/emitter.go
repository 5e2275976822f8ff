package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/proposal"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/redact"
)

// ProposalsFileName is the per-day proposals audit file.
const ProposalsFileName = "proposals.ndjson"

// DefaultSupersedeWindow bounds how long a prior proposal for the same
// (strategy, symbol, contract) stays supersedable.
const DefaultSupersedeWindow = 5 * time.Minute

// EmitResult reports what happened to one emit attempt.
type EmitResult struct {
	Accepted   bool
	ProposalID string
	Errors     []string
	Superseded []string
	Fallback   bool
	Path       string
}

// lifecycleEntry is the process-local view of an emitted proposal. The
// audit row itself is immutable; supersede/expire transitions live only
// here, best-effort.
type lifecycleEntry struct {
	ProposalID string
	Status     proposal.Status
	EmittedAt  time.Time
	ValidUntil time.Time
	Key        string
}

// Emitter validates, redacts, and appends proposals to the day-partitioned
// audit log. One emitter per agent process; the write path is a single
// append per proposal so concurrent tailing readers never see torn lines.
type Emitter struct {
	baseDir         string
	intents         *IntentLog
	validatorOpts   proposal.ValidatorOptions
	supersedeWindow time.Duration
	clock           func() time.Time

	mu      sync.Mutex
	entries map[string]*lifecycleEntry // proposal_id -> entry
	byKey   map[string]string          // (strategy|symbol|contract) -> latest proposal_id
}

// NewEmitter creates an emitter rooted at baseDir (the audit/ directory).
func NewEmitter(baseDir string, intents *IntentLog, vopts proposal.ValidatorOptions, supersedeWindow time.Duration) *Emitter {
	if supersedeWindow <= 0 {
		supersedeWindow = DefaultSupersedeWindow
	}
	if intents == nil {
		intents = NewIntentLog(nil)
	}
	return &Emitter{
		baseDir:         baseDir,
		intents:         intents,
		validatorOpts:   vopts,
		supersedeWindow: supersedeWindow,
		clock:           time.Now,
		entries:         map[string]*lifecycleEntry{},
		byKey:           map[string]string{},
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Emit validates p and appends it to today's proposals file. On validation
// failure only a structured rejected-intent line is emitted; no audit row
// is written. A filesystem failure is recoverable: the proposal goes to
// the intent log as a fallback line and the emitter keeps running.
func (e *Emitter) Emit(p proposal.Proposal) EmitResult {
	now := e.clock().UTC()

	opts := e.validatorOpts
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	res := proposal.Validate(p, opts)
	if !res.Valid {
		e.intents.Emit(IntentProposalRejected, map[string]any{
			"proposal_id":  p.ProposalID,
			"symbol":       p.Symbol,
			"strategy":     p.StrategyName,
			"reason_codes": res.Errors,
			"severity":     "WARNING",
		})
		return EmitResult{Accepted: false, ProposalID: p.ProposalID, Errors: res.Errors}
	}
	validated := res.Proposal

	line, err := marshalRedacted(&validated)
	if err != nil {
		// Marshal failure is a programmer error surfaced as a rejection.
		e.intents.Emit(IntentProposalRejected, map[string]any{
			"proposal_id":  validated.ProposalID,
			"reason_codes": []string{fmt.Sprintf("marshal_failed: %v", err)},
			"severity":     "ERROR",
		})
		return EmitResult{Accepted: false, ProposalID: validated.ProposalID, Errors: []string{err.Error()}}
	}

	superseded := e.recordLifecycle(&validated, now)

	path := filepath.Join(e.baseDir, now.Format("2006-01-02"), ProposalsFileName)
	if err := AppendLine(path, line); err != nil {
		e.intents.Emit(IntentAuditWriteFallback, map[string]any{
			"proposal_id": validated.ProposalID,
			"path":        path,
			"error":       err.Error(),
			"proposal":    json.RawMessage(line),
			"severity":    "ERROR",
		})
		return EmitResult{
			Accepted:   true,
			ProposalID: validated.ProposalID,
			Superseded: superseded,
			Fallback:   true,
			Path:       path,
		}
	}

	e.intents.Emit(IntentProposalAccepted, map[string]any{
		"proposal_id": validated.ProposalID,
		"symbol":      validated.Symbol,
		"strategy":    validated.StrategyName,
		"superseded":  superseded,
	})
	return EmitResult{
		Accepted:   true,
		ProposalID: validated.ProposalID,
		Superseded: superseded,
		Path:       path,
	}
}

// Status returns the process-local lifecycle status of an emitted
// proposal, running the expiry sweep first.
func (e *Emitter) Status(proposalID string) (proposal.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked(e.clock().UTC())
	entry, ok := e.entries[proposalID]
	if !ok {
		return "", false
	}
	return entry.Status, true
}

// recordLifecycle registers the new proposal and supersedes any live prior
// proposal for the same (strategy, symbol, contract) inside the window.
func (e *Emitter) recordLifecycle(p *proposal.Proposal, now time.Time) []string {
	key := fmt.Sprintf("%s|%s|%s", p.StrategyName, p.Symbol, p.ContractKey())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepExpiredLocked(now)

	var superseded []string
	if priorID, ok := e.byKey[key]; ok {
		if prior := e.entries[priorID]; prior != nil &&
			prior.Status == proposal.StatusProposed &&
			now.Sub(prior.EmittedAt) <= e.supersedeWindow {
			prior.Status = proposal.StatusSuperseded
			superseded = append(superseded, priorID)
		}
	}

	e.entries[p.ProposalID] = &lifecycleEntry{
		ProposalID: p.ProposalID,
		Status:     proposal.StatusProposed,
		EmittedAt:  now,
		ValidUntil: p.Constraints.ValidUntilUTC.UTC(),
		Key:        key,
	}
	e.byKey[key] = p.ProposalID
	return superseded
}

func (e *Emitter) sweepExpiredLocked(now time.Time) {
	for _, entry := range e.entries {
		if entry.Status == proposal.StatusProposed && !entry.ValidUntil.After(now) {
			entry.Status = proposal.StatusExpired
		}
	}
}

// marshalRedacted serializes a proposal with indicator values passed
// through the central redaction walker.
func marshalRedacted(p *proposal.Proposal) ([]byte, error) {
	copied := *p
	copied.Rationale.Indicators = redact.Map(p.Rationale.Indicators)
	return json.Marshal(&copied)
}

// AppendLine appends one NDJSON line, creating the day directory as
// needed. A single Write call per line keeps concurrent tailers safe.
// Shared by the proposal emitter and the execution agent's decision
// writer.
func AppendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(append(line, '\n'))
	return err
}

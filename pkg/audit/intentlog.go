// Package audit is the append-only persistence layer for proposals and the
// structured intent log. Audit files are NDJSON, partitioned by UTC day,
// written once and never edited; tailing readers may follow them while a
// writer appends.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Intent types emitted on the structured intent log.
const (
	IntentProposalAccepted   = "proposal_accepted"
	IntentProposalRejected   = "proposal_rejected"
	IntentProposalParseError = "proposal_parse_error"
	IntentProposalDuplicate  = "proposal_duplicate_seen"
	IntentExecutionDecision  = "execution_decision"
	IntentDecisionFallback   = "decision_output_fallback_stdout"
	IntentAuditWriteFallback = "audit_write_fallback_stdout"
	IntentWatchdogAlert      = "watchdog_alert"
	IntentKillSwitchEngaged  = "kill_switch_engaged"
	IntentStartupRefused     = "startup_refused"
)

// IntentLog writes one structured JSON object per line. It is the
// user-visible failure channel: validation rejections, fallbacks, and
// watchdog alerts all surface here.
type IntentLog struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewIntentLog creates an intent log writing to w; nil w means stdout.
func NewIntentLog(w io.Writer) *IntentLog {
	if w == nil {
		w = os.Stdout
	}
	return &IntentLog{writer: w, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (l *IntentLog) WithClock(clock func() time.Time) *IntentLog {
	l.clock = clock
	return l
}

// Emit writes one intent line. fields must not contain "intent_type" or
// "ts"; those are set here. Emit never fails the caller: an intent line
// that cannot be written is dropped, because the intent log is the
// fallback of last resort.
func (l *IntentLog) Emit(intentType string, fields map[string]any) {
	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record["intent_type"] = intentType
	record["ts"] = l.clock().UTC().Format(time.RFC3339Nano)

	raw, err := json.Marshal(record)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(append(raw, '\n'))
}

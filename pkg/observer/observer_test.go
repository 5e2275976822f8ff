package observer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var observeNow = time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC)

func writeDayFile(t *testing.T, base, name string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(base, observeNow.Format("2006-01-02"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	var body string
	for _, line := range lines {
		body += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func proposalLine(id string) string {
	return fmt.Sprintf(`{"proposal_id":%q,"created_at_utc":"2026-06-01T15:30:00Z","correlation_id":"corr-1","agent_name":"momo-agent","strategy_name":"momo-breakout","symbol":"SPY","asset_type":"OPTION","side":"BUY","quantity":2,"limit_price":1.25,"time_in_force":"DAY","option":{"expiration":"2026-06-01","right":"CALL","strike":482,"contract_symbol":"SPY260601C00482000"},"rationale":{"short_reason":"breakout above VWAP","indicators":{"vwap_dist":0.8,"rsi":61,"volume_z":2.1}}}`, id)
}

func newObserver(t *testing.T) (*Observer, string, string) {
	t.Helper()
	root := t.TempDir()
	proposals := filepath.Join(root, "audit")
	decisions := filepath.Join(root, "audit", "execution_decisions")
	o := New(proposals, decisions).WithClock(func() time.Time { return observeNow })
	return o, proposals, decisions
}

func TestExplainJoinsDecisionEvidence(t *testing.T) {
	o, proposals, decisions := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson", proposalLine("plan-1"), proposalLine("plan-2"))
	decisionsPath := writeDayFile(t, decisions, "decisions.ndjson",
		`{"decision_id":"dec-9","proposal_id":"plan-2","decision":"REJECT","reject_reason_codes":["requires_human_approval"]}`)

	ex, err := o.Explain("plan-2")
	require.NoError(t, err)

	assert.Equal(t, "plan-2", ex.PlanID)
	assert.Equal(t, "corr-1", ex.CorrelationID)
	assert.Equal(t, "momo-breakout", ex.StrategyName)
	assert.Equal(t, "SPY260601C00482000", ex.Contract.Symbol)
	assert.Equal(t, "SPY", ex.Contract.Underlying)
	assert.Equal(t, "482", ex.Contract.Strike)
	assert.Equal(t, "CALL", ex.Contract.Right)
	assert.Equal(t, "BUY", ex.Order.Side)
	assert.Equal(t, "2", ex.Order.Quantity)
	assert.Equal(t, "1.25", ex.Order.LimitPrice)
	assert.Equal(t, "breakout above VWAP", ex.Rationale.Why)
	assert.Equal(t, []string{"rsi=61", "volume_z=2.1", "vwap_dist=0.8"}, ex.Rationale.KeyFactors)

	require.NotNil(t, ex.Evidence)
	assert.Equal(t, "REJECT", ex.Evidence.Decision)
	assert.Equal(t, []string{"requires_human_approval"}, ex.Evidence.Reasons)
	assert.Equal(t, "dec-9", ex.Evidence.DecisionID)
	assert.Equal(t, decisionsPath, ex.Evidence.Source)
}

func TestExplainLatestTakesLastLine(t *testing.T) {
	o, proposals, _ := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson",
		proposalLine("plan-1"), "not json at all", proposalLine("plan-3"))

	ex, err := o.Explain("")
	require.NoError(t, err)
	assert.Equal(t, "plan-3", ex.PlanID)
	assert.Nil(t, ex.Evidence, "undecided plan has no evidence")
}

func TestExplainFallsBackToStdoutLines(t *testing.T) {
	o, proposals, _ := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson", proposalLine("plan-1"))

	stdoutPath := filepath.Join(t.TempDir(), "agent.out")
	require.NoError(t, os.WriteFile(stdoutPath, []byte(
		`{"intent_type":"proposal_duplicate_seen","proposal_id":"plan-1"}`+"\n"+
			`{"intent_type":"execution_decision","proposal_id":"plan-1","decision_id":"dec-1","decision":"APPROVE","reject_reason_codes":[]}`+"\n"),
		0o644))
	o.StdoutLogPath = stdoutPath

	ex, err := o.Explain("plan-1")
	require.NoError(t, err)
	require.NotNil(t, ex.Evidence)
	assert.Equal(t, "APPROVE", ex.Evidence.Decision)
	assert.Equal(t, "stdout", ex.Evidence.Source)
}

func TestExplainReadsFallbackDecisionObjects(t *testing.T) {
	o, proposals, _ := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson", proposalLine("plan-1"))

	stdoutPath := filepath.Join(t.TempDir(), "agent.out")
	require.NoError(t, os.WriteFile(stdoutPath, []byte(
		`{"intent_type":"decision_output_fallback_stdout","decision":{"proposal_id":"plan-1","decision_id":"dec-2","decision":"REJECT","reject_reason_codes":["kill_switch_enabled"]}}`+"\n"),
		0o644))
	o.StdoutLogPath = stdoutPath

	ex, err := o.Explain("plan-1")
	require.NoError(t, err)
	require.NotNil(t, ex.Evidence)
	assert.Equal(t, "REJECT", ex.Evidence.Decision)
	assert.Equal(t, []string{"kill_switch_enabled"}, ex.Evidence.Reasons)
	assert.Equal(t, "dec-2", ex.Evidence.DecisionID)
}

func TestExplainUnknownPlanFails(t *testing.T) {
	o, proposals, _ := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson", proposalLine("plan-1"))

	_, err := o.Explain("plan-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan-404")
}

func TestExplainMissingDayFileFails(t *testing.T) {
	o, _, _ := newObserver(t)
	_, err := o.Explain("")
	require.Error(t, err)
}

func TestKeyFactorsAreBounded(t *testing.T) {
	o, proposals, _ := newObserver(t)
	indicators := ""
	for i := 0; i < 15; i++ {
		if i > 0 {
			indicators += ","
		}
		indicators += fmt.Sprintf(`"ind_%02d":%d`, i, i)
	}
	line := fmt.Sprintf(`{"proposal_id":"plan-1","rationale":{"short_reason":"x","indicators":{%s}}}`, indicators)
	writeDayFile(t, proposals, "proposals.ndjson", line)

	ex, err := o.Explain("plan-1")
	require.NoError(t, err)
	assert.Len(t, ex.Rationale.KeyFactors, MaxKeyFactors)
}

func TestExplainWritesNothing(t *testing.T) {
	o, proposals, decisions := newObserver(t)
	writeDayFile(t, proposals, "proposals.ndjson", proposalLine("plan-1"))
	dayDir := filepath.Join(decisions, observeNow.Format("2006-01-02"))

	_, err := o.Explain("plan-1")
	require.NoError(t, err)

	_, statErr := os.Stat(dayDir)
	assert.True(t, os.IsNotExist(statErr), "observer must not create decision dirs")
}

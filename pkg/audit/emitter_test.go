package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/proposal"
)

var emitNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEmitter(t *testing.T, intents io.Writer) (*Emitter, string) {
	t.Helper()
	dir := t.TempDir()
	e := NewEmitter(dir, NewIntentLog(intents), proposal.ValidatorOptions{AgentMode: "OBSERVE"}, time.Minute).
		WithClock(func() time.Time { return emitNow })
	return e, dir
}

func testProposal() proposal.Proposal {
	p := proposal.New(emitNow)
	p.RepoID = "agent-trader-v2"
	p.AgentName = "momo-agent"
	p.StrategyName = "momo"
	p.Symbol = "SPY"
	p.AssetType = proposal.AssetEquity
	p.Side = proposal.SideBuy
	p.Quantity = 10
	p.Rationale = proposal.Rationale{ShortReason: "breakout"}
	p.Constraints.ValidUntilUTC = emitNow.Add(time.Hour)
	return p
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	return lines
}

func TestEmitAppendsOneParseableLine(t *testing.T) {
	e, dir := newTestEmitter(t, io.Discard)

	res := e.Emit(testProposal())
	require.True(t, res.Accepted, "errors: %v", res.Errors)
	require.False(t, res.Fallback)

	path := filepath.Join(dir, "2026-01-01", ProposalsFileName)
	lines := readLines(t, path)
	require.Len(t, lines, 1)

	back, err := proposal.Parse([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, res.ProposalID, back.ProposalID)
	assert.Equal(t, "SPY", back.Symbol)
	assert.Equal(t, proposal.StatusProposed, back.Status)
}

func TestEmitRedactsIndicators(t *testing.T) {
	e, dir := newTestEmitter(t, io.Discard)

	p := testProposal()
	p.Rationale.Indicators = map[string]any{
		"sma":     1.0,
		"api_key": "X",
		"nested":  map[string]any{"token": "Y"},
	}
	res := e.Emit(p)
	require.True(t, res.Accepted)

	raw := readLines(t, filepath.Join(dir, "2026-01-01", ProposalsFileName))[0]
	assert.NotContains(t, raw, `"X"`)
	assert.NotContains(t, raw, `"Y"`)

	back, err := proposal.Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "***REDACTED***", back.Rationale.Indicators["api_key"])
	assert.Equal(t, "***REDACTED***", back.Rationale.Indicators["nested"].(map[string]any)["token"])
	assert.Equal(t, 1.0, back.Rationale.Indicators["sma"])
}

func TestEmitRejectedWritesIntentOnly(t *testing.T) {
	var intents bytes.Buffer
	e, dir := newTestEmitter(t, &intents)

	p := testProposal()
	p.Quantity = -1
	res := e.Emit(p)
	require.False(t, res.Accepted)
	require.NotEmpty(t, res.Errors)

	_, err := os.Stat(filepath.Join(dir, "2026-01-01", ProposalsFileName))
	assert.True(t, os.IsNotExist(err), "no audit row on validation failure")

	var intent map[string]any
	require.NoError(t, json.Unmarshal(intents.Bytes(), &intent))
	assert.Equal(t, IntentProposalRejected, intent["intent_type"])
	assert.NotEmpty(t, intent["reason_codes"])
}

func TestSupersedeWithinWindow(t *testing.T) {
	e, _ := newTestEmitter(t, io.Discard)

	first := e.Emit(testProposal())
	require.True(t, first.Accepted)

	second := e.Emit(testProposal())
	require.True(t, second.Accepted)
	assert.Equal(t, []string{first.ProposalID}, second.Superseded)

	status, ok := e.Status(first.ProposalID)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusSuperseded, status)

	status, ok = e.Status(second.ProposalID)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusProposed, status)
}

func TestNoSupersedeAcrossKeys(t *testing.T) {
	e, _ := newTestEmitter(t, io.Discard)

	first := e.Emit(testProposal())
	require.True(t, first.Accepted)

	other := testProposal()
	other.Symbol = "QQQ"
	second := e.Emit(other)
	require.True(t, second.Accepted)
	assert.Empty(t, second.Superseded)
}

func TestExpirySweep(t *testing.T) {
	e, _ := newTestEmitter(t, io.Discard)

	p := testProposal()
	p.Constraints.ValidUntilUTC = emitNow.Add(time.Minute)
	res := e.Emit(p)
	require.True(t, res.Accepted)

	e.clock = func() time.Time { return emitNow.Add(2 * time.Minute) }
	status, ok := e.Status(res.ProposalID)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusExpired, status)
}

func TestWriteFailureFallsBackToIntentLog(t *testing.T) {
	var intents bytes.Buffer
	dir := t.TempDir()
	// Point the emitter at a path that cannot be a directory.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	e := NewEmitter(filepath.Join(blocked, "audit"), NewIntentLog(&intents), proposal.ValidatorOptions{AgentMode: "OBSERVE"}, time.Minute).
		WithClock(func() time.Time { return emitNow })

	res := e.Emit(testProposal())
	require.True(t, res.Accepted)
	assert.True(t, res.Fallback)

	var intent map[string]any
	require.NoError(t, json.Unmarshal(intents.Bytes(), &intent))
	assert.Equal(t, IntentAuditWriteFallback, intent["intent_type"])
	assert.NotNil(t, intent["proposal"], "fallback line carries the full proposal")
}

type fakeUploader struct {
	objects map[string][]byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func TestExportDay(t *testing.T) {
	e, dir := newTestEmitter(t, io.Discard)
	require.True(t, e.Emit(testProposal()).Accepted)

	up := &fakeUploader{objects: map[string][]byte{}}
	keys, err := ExportDay(context.Background(), up, dir, "2026-01-01")
	require.NoError(t, err)
	require.Equal(t, []string{"audit/2026-01-01/proposals.ndjson"}, keys)
	assert.Contains(t, string(up.objects[keys[0]]), `"SPY"`)

	_, err = ExportDay(context.Background(), up, dir, "2026-01-02")
	require.Error(t, err, "missing day must error")
}

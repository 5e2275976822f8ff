package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/decision"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/proposal"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

var loopNow = time.Date(2026, 2, 3, 14, 30, 0, 0, time.UTC)

func writeProposalLine(t *testing.T, path string, p proposal.Proposal) {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append(raw, '\n'))
	require.NoError(t, err)
}

func loopProposal(id string) proposal.Proposal {
	p := proposal.New(loopNow)
	p.ProposalID = id
	p.RepoID = "agent-trader-v2"
	p.AgentName = "momo-agent"
	p.StrategyName = "momo"
	p.Symbol = "SPY"
	p.AssetType = proposal.AssetEquity
	p.Side = proposal.SideBuy
	p.Quantity = 5
	p.Rationale = proposal.Rationale{ShortReason: "breakout"}
	p.Constraints.ValidUntilUTC = loopNow.Add(time.Hour)
	p.Constraints.RequiresHumanApproval = false
	return p
}

func newTestAgent(t *testing.T, proposalsPath string, startAt StartAt, intents *bytes.Buffer) (*Agent, string) {
	t.Helper()
	decisionsDir := t.TempDir()
	cfg := Config{
		RepoID:           "agent-trader-v2",
		AgentName:        "execution-agent",
		AgentRole:        "execution",
		AgentMode:        safety.ModeObserve,
		Tenant:           "agent-trader-v2",
		ProposalsPath:    proposalsPath,
		DecisionsBaseDir: decisionsDir,
		StartAt:          startAt,
		PollInterval:     5 * time.Millisecond,
		StaleThreshold:   DefaultStaleThreshold,
	}
	freshTS := loopNow.Add(-10 * time.Second)
	cfg.MarketdataLastTS = &freshTS

	a := New(cfg, safety.NewMemoryKillSwitch(), audit.NewIntentLog(intents), nil).
		WithClock(func() time.Time { return loopNow })
	return a, decisionsDir
}

func decisionLines(t *testing.T, decisionsDir string) []decision.ExecutionDecision {
	t.Helper()
	path := filepath.Join(decisionsDir, loopNow.Format("2006-01-02"), DecisionsFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var out []decision.ExecutionDecision
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var d decision.ExecutionDecision
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		out = append(out, d)
	}
	return out
}

func waitForDecisions(t *testing.T, decisionsDir string, want int) []decision.ExecutionDecision {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ds := decisionLines(t, decisionsDir); len(ds) >= want {
			return ds
		}
		time.Sleep(10 * time.Millisecond)
	}
	ds := decisionLines(t, decisionsDir)
	require.Len(t, ds, want)
	return ds
}

func TestRunFromBeginningDecidesBacklog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		writeProposalLine(t, path, loopProposal(id))
	}

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtBeginning, &intents)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ds := waitForDecisions(t, decisionsDir, 3)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, ds, 3)
	ids := []string{ds[0].ProposalID, ds[1].ProposalID, ds[2].ProposalID}
	assert.Equal(t, []string{"p-1", "p-2", "p-3"}, ids, "file order is preserved")
	for _, d := range ds {
		assert.Equal(t, decision.Approve, d.Decision, "reasons: %v", d.RejectReasonCodes)
		assert.NotEmpty(t, d.DecisionID)
		assert.False(t, d.SafetySnapshot.KillSwitch)
	}
}

func TestRunFromEndOnlySeesNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	for _, id := range []string{"old-1", "old-2"} {
		writeProposalLine(t, path, loopProposal(id))
	}

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtEnd, &intents)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the follower time to position at EOF, then append.
	time.Sleep(50 * time.Millisecond)
	writeProposalLine(t, path, loopProposal("new-1"))

	ds := waitForDecisions(t, decisionsDir, 1)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, ds, 1)
	assert.Equal(t, "new-1", ds[0].ProposalID)
}

func TestDuplicateProposalSkippedWithinRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	writeProposalLine(t, path, loopProposal("dup-1"))
	writeProposalLine(t, path, loopProposal("dup-1"))
	writeProposalLine(t, path, loopProposal("dup-2"))

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtBeginning, &intents)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ds := waitForDecisions(t, decisionsDir, 2)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, ds, 2)
	assert.Equal(t, "dup-1", ds[0].ProposalID)
	assert.Equal(t, "dup-2", ds[1].ProposalID)
	assert.Contains(t, intents.String(), audit.IntentProposalDuplicate)
}

func TestMalformedLineEmitsParseErrorAndContinues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))
	writeProposalLine(t, path, loopProposal("after-garbage"))

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtBeginning, &intents)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ds := waitForDecisions(t, decisionsDir, 1)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "after-garbage", ds[0].ProposalID)
	assert.Contains(t, intents.String(), audit.IntentProposalParseError)
}

func TestKillSwitchRejectsButStillRecordsDecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	writeProposalLine(t, path, loopProposal("blocked-1"))

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtBeginning, &intents)
	require.NoError(t, a.killSwitch.Engage(context.Background(), "agent-trader-v2", "losing_streak", "CRITICAL", "test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ds := waitForDecisions(t, decisionsDir, 1)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, ds, 1)
	assert.Equal(t, decision.Reject, ds[0].Decision)
	assert.Contains(t, ds[0].RejectReasonCodes, decision.ReasonKillSwitchEnabled)
	assert.True(t, ds[0].SafetySnapshot.KillSwitch)
}

func TestSeedDuplicateVisibilityReadsTodayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var intents bytes.Buffer
	a, decisionsDir := newTestAgent(t, path, StartAtBeginning, &intents)

	day := filepath.Join(decisionsDir, loopNow.Format("2006-01-02"))
	require.NoError(t, os.MkdirAll(day, 0o755))
	prior := `{"proposal_id":"seen-before"}` + "\n" + `{"bad json` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(day, DecisionsFileName), []byte(prior), 0o644))

	a.seedDuplicateVisibility()
	assert.True(t, a.seededToday["seen-before"])
	assert.Len(t, a.seededToday, 1)
}

func TestLoadConfigRequiresProposalsPath(t *testing.T) {
	_, err := LoadConfig(func(string) string { return "" })
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvProposalsPath)
}

func TestLoadConfigResolvesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	env := map[string]string{
		safety.EnvRepoID:          "agent-trader-v2",
		safety.EnvAgentName:       "execution-agent",
		safety.EnvAgentRole:       "execution",
		safety.EnvAgentMode:       safety.ModeObserve,
		EnvProposalsPath:          path,
		EnvProposalsStartAt:       "beginning",
		EnvProposalsPollInterval:  "0.5",
		EnvMarketdataLastTS:       "2026-02-03T14:29:00Z",
		EnvMarketdataStaleSeconds: "60",
	}
	cfg, err := LoadConfig(func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, StartAtBeginning, cfg.StartAt)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.StaleThreshold)
	assert.Equal(t, DefaultDecisionsBaseDir, cfg.DecisionsBaseDir)
	assert.Equal(t, "agent-trader-v2", cfg.Tenant)
	require.NotNil(t, cfg.MarketdataLastTS)
	assert.Equal(t, time.Date(2026, 2, 3, 14, 29, 0, 0, time.UTC), *cfg.MarketdataLastTS)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cases := map[string]map[string]string{
		"bad start_at":  {EnvProposalsPath: path, EnvProposalsStartAt: "middle"},
		"bad interval":  {EnvProposalsPath: path, EnvProposalsPollInterval: "-1"},
		"bad timestamp": {EnvProposalsPath: path, EnvMarketdataLastTS: "yesterday"},
		"bad threshold": {EnvProposalsPath: path, EnvMarketdataStaleSeconds: "zero"},
		"missing file":  {EnvProposalsPath: filepath.Join(t.TempDir(), "nope.ndjson")},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(func(k string) string { return env[k] })
			require.Error(t, err)
		})
	}
}

package agent

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

// Environment variables consumed by the execution agent beyond the boot
// gate tuple.
const (
	EnvProposalsPath          = "PROPOSALS_PATH"
	EnvDecisionsBaseDir       = "DECISIONS_BASE_DIR"
	EnvProposalsStartAt       = "PROPOSALS_START_AT"
	EnvProposalsPollInterval  = "PROPOSALS_POLL_INTERVAL_S"
	EnvMarketdataLastTS       = "MARKETDATA_LAST_TS_UTC"
	EnvMarketdataStaleSeconds = "MARKETDATA_STALE_THRESHOLD_S"
)

// DefaultDecisionsBaseDir is where decisions land when unconfigured.
const DefaultDecisionsBaseDir = "audit/execution_decisions"

// DefaultStaleThreshold is the market-data freshness bound.
const DefaultStaleThreshold = 120 * time.Second

// Config is the execution agent's resolved runtime configuration.
type Config struct {
	RepoID    string
	AgentName string
	AgentRole string
	AgentMode string
	Tenant    string

	ProposalsPath    string
	DecisionsBaseDir string
	StartAt          StartAt
	PollInterval     time.Duration

	MarketdataLastTS *time.Time
	StaleThreshold   time.Duration
}

// LoadConfig resolves the agent configuration from the environment.
// PROPOSALS_PATH is required and must exist; everything else defaults.
// getenv is injectable for tests.
func LoadConfig(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Config{
		RepoID:           getenv(safety.EnvRepoID),
		AgentName:        getenv(safety.EnvAgentName),
		AgentRole:        getenv(safety.EnvAgentRole),
		AgentMode:        getenv(safety.EnvAgentMode),
		Tenant:           getenv(safety.EnvRepoID),
		DecisionsBaseDir: DefaultDecisionsBaseDir,
		StartAt:          StartAtEnd,
		PollInterval:     DefaultPollInterval,
		StaleThreshold:   DefaultStaleThreshold,
	}

	cfg.ProposalsPath = getenv(EnvProposalsPath)
	if cfg.ProposalsPath == "" {
		return Config{}, fmt.Errorf("%s is required", EnvProposalsPath)
	}
	if _, err := os.Stat(cfg.ProposalsPath); err != nil {
		return Config{}, fmt.Errorf("%s %q: %w", EnvProposalsPath, cfg.ProposalsPath, err)
	}

	if v := getenv(EnvDecisionsBaseDir); v != "" {
		cfg.DecisionsBaseDir = v
	}

	switch v := getenv(EnvProposalsStartAt); v {
	case "", string(StartAtEnd):
	case string(StartAtBeginning):
		cfg.StartAt = StartAtBeginning
	default:
		return Config{}, fmt.Errorf("%s must be %q or %q, got %q",
			EnvProposalsStartAt, StartAtEnd, StartAtBeginning, v)
	}

	if v := getenv(EnvProposalsPollInterval); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive number of seconds, got %q",
				EnvProposalsPollInterval, v)
		}
		cfg.PollInterval = time.Duration(seconds * float64(time.Second))
	}

	if v := getenv(EnvMarketdataLastTS); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: cannot parse %q: %w", EnvMarketdataLastTS, v, err)
		}
		utc := ts.UTC()
		cfg.MarketdataLastTS = &utc
	}

	if v := getenv(EnvMarketdataStaleSeconds); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive number of seconds, got %q",
				EnvMarketdataStaleSeconds, v)
		}
		cfg.StaleThreshold = time.Duration(seconds * float64(time.Second))
	}

	return cfg, nil
}

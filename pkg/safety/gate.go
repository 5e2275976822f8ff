// Package safety holds the platform's hard guarantees: the startup boot
// gate that keeps any non-observe configuration from running at all, the
// kill-switch state shared between watchdog and decider, and the safety
// snapshot captured at decision time.
package safety

import (
	"fmt"
	"os"
)

// Agent modes. LIVE exists in the type so execution paths can be written
// and tested, but the boot gate below only ever admits OBSERVE.
const (
	ModeObserve = "OBSERVE"
	ModeLive    = "LIVE"
)

// Environment variable names checked by the boot gate.
const (
	EnvRepoID                 = "REPO_ID"
	EnvAgentName              = "AGENT_NAME"
	EnvAgentRole              = "AGENT_ROLE"
	EnvAgentMode              = "AGENT_MODE"
	EnvExecutionAgentEnabled  = "EXECUTION_AGENT_ENABLED"
	EnvBrokerExecutionEnabled = "BROKER_EXECUTION_ENABLED"
	EnvExecutionEnabled       = "EXECUTION_ENABLED"
)

// GateConfig names the identity tuple the environment must match exactly.
type GateConfig struct {
	RepoID    string
	AgentName string
	AgentRole string
}

// GateResult is the outcome of the boot gate. ReasonCodes is empty iff OK.
type GateResult struct {
	OK          bool              `json:"ok"`
	ReasonCodes []string          `json:"reason_codes,omitempty"`
	Observed    map[string]string `json:"observed,omitempty"`
}

// CheckBootGate verifies the execution agent's environment against the
// expected tuple. Every variable must be present and match its expected
// literal exactly, case-sensitively. Any deviation refuses startup.
//
// getenv is injectable for tests; pass os.Getenv in binaries.
func CheckBootGate(cfg GateConfig, getenv func(string) string) GateResult {
	if getenv == nil {
		getenv = os.Getenv
	}

	expected := []struct {
		name string
		want string
	}{
		{EnvRepoID, cfg.RepoID},
		{EnvAgentName, cfg.AgentName},
		{EnvAgentRole, cfg.AgentRole},
		{EnvAgentMode, ModeObserve},
		{EnvExecutionAgentEnabled, "true"},
		// BROKER_EXECUTION_ENABLED must be present and exactly "false";
		// an unset variable is a refusal, not a default.
		{EnvBrokerExecutionEnabled, "false"},
		{EnvExecutionEnabled, "false"},
	}

	result := GateResult{OK: true, Observed: map[string]string{}}
	for _, e := range expected {
		got := getenv(e.name)
		result.Observed[e.name] = got
		switch {
		case got == "":
			result.OK = false
			result.ReasonCodes = append(result.ReasonCodes, fmt.Sprintf("env_missing:%s", e.name))
		case got != e.want:
			result.OK = false
			result.ReasonCodes = append(result.ReasonCodes, fmt.Sprintf("env_mismatch:%s", e.name))
		}
	}
	return result
}

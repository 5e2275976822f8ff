// The execution agent tails the proposals audit file, decides each
// proposal against the safety snapshot, and appends decisions to the
// day-partitioned decisions file. It refuses to start at all unless the
// environment pins the observe-only posture.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/agent"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

const (
	exitOK        = 0
	exitError     = 1
	exitRefused   = 2
	exitInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	svc := config.LoadService()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(svc.LogLevel),
	}))
	slog.SetDefault(logger)

	intents := audit.NewIntentLog(os.Stdout)

	gate := safety.CheckBootGate(safety.GateConfig{
		RepoID:    os.Getenv(safety.EnvRepoID),
		AgentName: os.Getenv(safety.EnvAgentName),
		AgentRole: os.Getenv(safety.EnvAgentRole),
	}, os.Getenv)
	if !gate.OK {
		intents.Emit(audit.IntentStartupRefused, map[string]any{
			"reason_codes": gate.ReasonCodes,
			"observed":     gate.Observed,
			"severity":     "CRITICAL",
		})
		logger.Error("boot gate refused startup", "reason_codes", gate.ReasonCodes)
		return exitRefused
	}

	cfg, err := agent.LoadConfig(os.Getenv)
	if err != nil {
		intents.Emit(audit.IntentStartupRefused, map[string]any{
			"reason_codes": []string{"config_invalid"},
			"error":        err.Error(),
			"severity":     "CRITICAL",
		})
		logger.Error("configuration invalid", "error", err)
		return exitRefused
	}

	killSwitch, err := newKillSwitch(svc)
	if err != nil {
		logger.Error("kill-switch store unavailable", "error", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := agent.New(cfg, killSwitch, intents, logger.With("component", "execution-agent"))
	err = a.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("interrupted, shutting down")
		return exitInterrupt
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("agent loop failed", "error", err)
		return exitError
	}
	return exitOK
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// The watchdog binary sweeps shadow trades for every configured tenant
// on the profile's interval and engages the kill-switch when a tenant
// trips a halting detection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/watchdog"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var (
		profilesDir = flag.String("profiles", "profiles", "directory holding profile_*.yaml")
		profileName = flag.String("profile", "dev", "profile name to load")
		once        = flag.Bool("once", false, "run one sweep and exit")
	)
	flag.Parse()

	svc := config.LoadService()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(svc.LogLevel),
	}))
	slog.SetDefault(logger)

	profile, err := config.LoadProfile(*profilesDir, *profileName)
	if err != nil {
		logger.Error("profile load failed", "error", err)
		return 1
	}
	if len(profile.Watchdog.Tenants) == 0 {
		logger.Error("profile names no tenants to watch", "profile", profile.Name)
		return 1
	}

	store, err := docstore.OpenSQLite(svc.StorePath)
	if err != nil {
		logger.Error("document store open failed", "path", svc.StorePath, "error", err)
		return 1
	}
	defer store.Close()

	killSwitch, err := newKillSwitch(svc)
	if err != nil {
		logger.Error("kill-switch store unavailable", "error", err)
		return 1
	}

	intents := audit.NewIntentLog(os.Stdout)
	wd := watchdog.New(store, killSwitch, intents, logger.With("component", "watchdog"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		findings, err := wd.Sweep(ctx, profile.Watchdog.Tenants)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			return 1
		}
		logger.Info("sweep complete", "findings", len(findings))
		return 0
	}

	interval := time.Duration(profile.Watchdog.SweepIntervalS * float64(time.Second))
	err = wd.Run(ctx, profile.Watchdog.Tenants, interval)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return 130
	}
	if err != nil {
		logger.Error("watchdog stopped", "error", err)
		return 1
	}
	return 0
}

func newKillSwitch(svc *config.Service) (safety.KillSwitchStore, error) {
	if svc.RedisAddr == "" {
		return safety.NewMemoryKillSwitch(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: svc.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", svc.RedisAddr, err)
	}
	return safety.NewRedisKillSwitch(client, svc.RedisPrefix), nil
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

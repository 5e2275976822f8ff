package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/safety"
)

// newKillSwitch picks the shared Redis store when REDIS_ADDR is set,
// otherwise the process-local one.
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

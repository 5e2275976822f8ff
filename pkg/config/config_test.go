package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadServiceDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STORE_PATH", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_PREFIX", "")

	svc := LoadService()
	assert.Equal(t, "observe", svc.Environment)
	assert.Equal(t, "INFO", svc.LogLevel)
	assert.Equal(t, "data/trader.db", svc.StorePath)
	assert.Equal(t, "trader", svc.RedisPrefix)
	assert.Empty(t, svc.RedisAddr)
}

func TestLoadServiceOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_PATH", "/var/lib/trader/docs.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PREFIX", "stg")

	svc := LoadService()
	assert.Equal(t, "staging", svc.Environment)
	assert.Equal(t, "DEBUG", svc.LogLevel)
	assert.Equal(t, "/var/lib/trader/docs.db", svc.StorePath)
	assert.Equal(t, "localhost:6379", svc.RedisAddr)
	assert.Equal(t, "stg", svc.RedisPrefix)
}

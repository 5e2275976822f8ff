// Package config loads shared service settings: environment variables
// first, with optional YAML deployment profiles layered on top for
// consumer and watchdog tuning.
package config

import "os"

// Service holds the env-derived settings common to every binary.
type Service struct {
	Environment string
	LogLevel    string
	StorePath   string
	RedisAddr   string
	RedisPrefix string
}

// LoadService reads the shared settings from the environment, applying
// the observe-posture defaults for anything unset.
func LoadService() *Service {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "observe"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = "data/trader.db"
	}

	redisPrefix := os.Getenv("REDIS_PREFIX")
	if redisPrefix == "" {
		redisPrefix = "trader"
	}

	return &Service{
		Environment: env,
		LogLevel:    logLevel,
		StorePath:   storePath,
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisPrefix: redisPrefix,
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTExpiry   time.Duration

	// Sync engine tunables
	ConflictWindow    time.Duration
	LogRetention      time.Duration
	OptimizerInterval time.Duration
}

func LoadConfig() (*Config, error) {
	expiry, err := getDuration("JWT_EXPIRY", "24h")
	if err != nil {
		return nil, err
	}
	conflictWindow, err := getDuration("CONFLICT_WINDOW", "60s")
	if err != nil {
		return nil, err
	}
	logRetention, err := getDuration("LOG_RETENTION", "720h")
	if err != nil {
		return nil, err
	}
	optimizerInterval, err := getDuration("OPTIMIZER_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTExpiry:         expiry,
		ConflictWindow:    conflictWindow,
		LogRetention:      logRetention,
		OptimizerInterval: optimizerInterval,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}

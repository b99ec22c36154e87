// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration: a YAML file with flag
// overrides. Flags win over the file, the file wins over defaults.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// RedisURL enables the Redis bus for multi-instance deployments.
	// Empty means the in-process bus.
	RedisURL string `yaml:"redis_url"`

	// AdminKey guards the admin endpoints. Empty disables them.
	AdminKey string `yaml:"admin_key"`

	// MaxDebateDuration is the session time box.
	MaxDebateDuration time.Duration `yaml:"max_debate_duration"`

	// StaleSweepInterval is how often the queue sweeper runs.
	StaleSweepInterval time.Duration `yaml:"stale_sweep_interval"`

	// StaleEntryAge is how long an entry may miss heartbeats before
	// the sweeper removes it.
	StaleEntryAge time.Duration `yaml:"stale_entry_age"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Listen:             ":8080",
		DatabasePath:       "crossfire.db",
		MaxDebateDuration:  15 * time.Minute,
		StaleSweepInterval: 15 * time.Second,
		StaleEntryAge:      45 * time.Second,
		LogLevel:           "info",
	}
}

func loadConfig(args []string) (Config, error) {
	flags := pflag.NewFlagSet("crossfire-server", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML configuration file")
	listen := flags.String("listen", "", "HTTP listen address")
	databasePath := flags.String("database", "", "SQLite database path")
	redisURL := flags.String("redis-url", "", "Redis URL for the shared event bus")
	adminKey := flags.String("admin-key", "", "key for admin endpoints")
	maxDuration := flags.Duration("max-debate-duration", 0, "debate session time box")
	sweepInterval := flags.Duration("stale-sweep-interval", 0, "queue sweeper period")
	staleAge := flags.Duration("stale-entry-age", 0, "heartbeat age before an entry is swept")
	logLevel := flags.String("log-level", "", "debug, info, warn, or error")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", *configPath, err)
		}
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *databasePath != "" {
		cfg.DatabasePath = *databasePath
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}
	if *adminKey != "" {
		cfg.AdminKey = *adminKey
	}
	if *maxDuration != 0 {
		cfg.MaxDebateDuration = *maxDuration
	}
	if *sweepInterval != 0 {
		cfg.StaleSweepInterval = *sweepInterval
	}
	if *staleAge != 0 {
		cfg.StaleEntryAge = *staleAge
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.MaxDebateDuration <= 0 {
		return fmt.Errorf("config: max debate duration must be positive")
	}
	if c.StaleSweepInterval <= 0 || c.StaleEntryAge <= 0 {
		return fmt.Errorf("config: sweep interval and stale age must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) logLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

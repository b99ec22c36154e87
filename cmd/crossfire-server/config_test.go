// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.MaxDebateDuration != 15*time.Minute {
		t.Errorf("max duration = %s", cfg.MaxDebateDuration)
	}
	if cfg.RedisURL != "" || cfg.AdminKey != "" {
		t.Errorf("optional fields defaulted non-empty: %+v", cfg)
	}
}

func TestLoadConfigFileAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "listen: \":9000\"\nmax_debate_duration: 20m\nadmin_key: file-key\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig([]string{
		"--config", path,
		"--listen", ":9999",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	// Flag beats file, file beats default.
	if cfg.Listen != ":9999" {
		t.Errorf("listen = %q, want flag value", cfg.Listen)
	}
	if cfg.MaxDebateDuration != 20*time.Minute {
		t.Errorf("max duration = %s, want file value", cfg.MaxDebateDuration)
	}
	if cfg.AdminKey != "file-key" {
		t.Errorf("admin key = %q, want file value", cfg.AdminKey)
	}
	if cfg.DatabasePath != "crossfire.db" {
		t.Errorf("database = %q, want default", cfg.DatabasePath)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	if _, err := loadConfig([]string{"--log-level", "loud"}); err == nil {
		t.Error("bad log level accepted")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \"\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig([]string{"--config", path}); err == nil {
		t.Error("empty listen address accepted")
	}
}

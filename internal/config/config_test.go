package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Fatalf("port = %s", cfg.Server.Port)
	}
	if cfg.Database.DSN != "data/challenges.db" {
		t.Fatalf("dsn = %s", cfg.Database.DSN)
	}
	if cfg.Monitor.SyncInterval != 30*time.Second {
		t.Fatalf("sync interval = %v", cfg.Monitor.SyncInterval)
	}
	if cfg.Monitor.WarnDedupWindow != 15*time.Minute {
		t.Fatalf("dedup window = %v", cfg.Monitor.WarnDedupWindow)
	}
	if cfg.Monitor.DisableMaxRetries != 6 {
		t.Fatalf("disable retries = %d", cfg.Monitor.DisableMaxRetries)
	}
	if cfg.Monitor.WorkerCount != 8 {
		t.Fatalf("worker count = %d", cfg.Monitor.WorkerCount)
	}
	if cfg.Monitor.StrictRuleOrder {
		t.Fatalf("strict order must default off")
	}
	if cfg.Gateway.Timeout != 10*time.Second {
		t.Fatalf("gateway timeout = %v", cfg.Gateway.Timeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "8081")
	t.Setenv("DATABASE_DSN", "postgres://app@db/challenges")
	t.Setenv("SYNC_INTERVAL", "10s")
	t.Setenv("RULE_STRICT_ORDER", "true")
	t.Setenv("WORKER_COUNT", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "8081" {
		t.Fatalf("port = %s", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://app@db/challenges" {
		t.Fatalf("dsn = %s", cfg.Database.DSN)
	}
	if cfg.Monitor.SyncInterval != 10*time.Second {
		t.Fatalf("sync interval = %v", cfg.Monitor.SyncInterval)
	}
	if !cfg.Monitor.StrictRuleOrder {
		t.Fatalf("strict order not picked up")
	}
	if cfg.Monitor.WorkerCount != 4 {
		t.Fatalf("worker count = %d", cfg.Monitor.WorkerCount)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("invalid sync interval must fail")
	}
}

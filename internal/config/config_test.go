package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentward.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "extra.env")
	if err := os.WriteFile(envFile, []byte("FROM_FILE=yes\nSHARED=file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	path := writeConfig(t, `
listen = "127.0.0.1:8099"
history_dsn = "sqlite://:memory:"
ack_timeout = "5s"
use_os_env = false
env_files = ["`+envFile+`"]
env = ["SHARED=inline", "TOP=1"]

[log]
dir = "/tmp/agentward-logs"
max_size_mb = 5

[tls]
enabled = false

[[agents]]
name = "worker"
command = "sleep 60"
grace = "2s"
ready_timeout = "3s"

[[agents]]
name = "batcher"
command = "sh -c 'echo hi'"
env = ["LOCAL=1"]

[agents.log]
dir = "/tmp/batcher-logs"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != "127.0.0.1:8099" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.HistoryDSN != "sqlite://:memory:" {
		t.Errorf("HistoryDSN = %q", cfg.HistoryDSN)
	}
	if cfg.AckTimeout != 5*time.Second {
		t.Errorf("AckTimeout = %v", cfg.AckTimeout)
	}
	if cfg.TLS == nil || cfg.TLS.Enabled {
		t.Errorf("TLS = %+v", cfg.TLS)
	}

	got := strings.Join(cfg.GlobalEnv, ",")
	for _, want := range []string{"FROM_FILE=yes", "SHARED=inline", "TOP=1"} {
		if !strings.Contains(got, want) {
			t.Errorf("GlobalEnv missing %q: %v", want, cfg.GlobalEnv)
		}
	}
	if strings.Contains(got, "SHARED=file") {
		t.Errorf("inline env should override env file: %v", cfg.GlobalEnv)
	}

	if len(cfg.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(cfg.Agents))
	}
	worker := cfg.Agents[0]
	if worker.Name != "worker" || worker.Grace != 2*time.Second || worker.ReadyTimeout != 3*time.Second {
		t.Errorf("worker spec = %+v", worker)
	}
	// Global [log] is the default for agents without their own.
	if worker.Log.Dir != "/tmp/agentward-logs" {
		t.Errorf("worker log dir = %q", worker.Log.Dir)
	}
	batcher := cfg.Agents[1]
	if batcher.Log.Dir != "/tmp/batcher-logs" {
		t.Errorf("batcher log dir = %q", batcher.Log.Dir)
	}
	if len(batcher.Env) != 1 || batcher.Env[0] != "LOCAL=1" {
		t.Errorf("batcher env = %v", batcher.Env)
	}
}

func TestLoadRejectsDuplicateAgentNames(t *testing.T) {
	path := writeConfig(t, `
[[agents]]
name = "dup"
command = "sleep 1"

[[agents]]
name = "dup"
command = "sleep 2"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate-name error, got %v", err)
	}
}

func TestLoadRejectsUnnamedAgent(t *testing.T) {
	path := writeConfig(t, `
[[agents]]
command = "sleep 1"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing agent name")
	}
}

func TestLoadRejectsAgentWithoutCommand(t *testing.T) {
	path := writeConfig(t, `
[[agents]]
name = "empty"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

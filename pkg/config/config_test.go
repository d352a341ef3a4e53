package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  runner_secret: hunter2
  jwt_secret: sekrit
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Addr != DefaultListenAddr {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, DefaultListenAddr)
	}
	if cfg.Wake.Port != DefaultWakePort {
		t.Errorf("Wake.Port = %d, want %d", cfg.Wake.Port, DefaultWakePort)
	}
	if cfg.Runners.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("SendQueueSize = %d, want %d", cfg.Runners.SendQueueSize, DefaultSendQueueSize)
	}
	if cfg.Batching.BatchTimeout != DefaultBatchTimeout {
		t.Errorf("BatchTimeout = %v, want %v", cfg.Batching.BatchTimeout, DefaultBatchTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
listen:
  addr: ":9999"
auth:
  runner_secret: hunter2
  jwt_secret: sekrit
  admin_role: fleet-admin
models:
  big: [llama-70b]
  fast: [llama-7b, phi-3]
batching:
  enabled: true
  min_batch_size: 2
  batch_timeout: 25ms
runners:
  heartbeat_timeout: 30s
wake:
  broadcast_addr: 192.168.1.255
  port: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Addr != ":9999" {
		t.Errorf("Listen.Addr = %q", cfg.Listen.Addr)
	}
	if cfg.Auth.AdminRole != "fleet-admin" {
		t.Errorf("AdminRole = %q", cfg.Auth.AdminRole)
	}
	if !cfg.Batching.Enabled || cfg.Batching.MinBatchSize != 2 {
		t.Errorf("Batching = %+v", cfg.Batching)
	}
	if cfg.Batching.BatchTimeout != 25*time.Millisecond {
		t.Errorf("BatchTimeout = %v", cfg.Batching.BatchTimeout)
	}
	if cfg.Runners.HeartbeatTimeout != 30*time.Second {
		t.Errorf("HeartbeatTimeout = %v", cfg.Runners.HeartbeatTimeout)
	}
	if cfg.Wake.BroadcastAddr != "192.168.1.255" || cfg.Wake.Port != 7 {
		t.Errorf("Wake = %+v", cfg.Wake)
	}
	if len(cfg.Models.Fast) != 2 {
		t.Errorf("Models.Fast = %v", cfg.Models.Fast)
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	if _, err := Load(writeConfig(t, "listen:\n  addr: \":1\"\n")); err == nil {
		t.Fatal("expected error for missing secrets")
	}
}

func TestLoadConflictingTiers(t *testing.T) {
	path := writeConfig(t, `
auth:
  runner_secret: a
  jwt_secret: b
models:
  big: [shared-model]
  fast: [shared-model]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for model in both tiers")
	}
}

func TestLoadConflictingTiersIgnoresCase(t *testing.T) {
	// Tier lookup lowercases model ids, so a casing difference is still the
	// same model.
	path := writeConfig(t, `
auth:
  runner_secret: a
  jwt_secret: b
models:
  big: [Shared-Model]
  fast: [shared-model]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for model in both tiers")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":7777")
	t.Setenv("GATEWAY_RUNNER_SECRET", "env-secret")
	t.Setenv("GATEWAY_JWT_SECRET", "env-jwt")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Addr != ":7777" {
		t.Errorf("Listen.Addr = %q", cfg.Listen.Addr)
	}
	if cfg.Auth.RunnerSecret != "env-secret" {
		t.Errorf("RunnerSecret = %q", cfg.Auth.RunnerSecret)
	}
}

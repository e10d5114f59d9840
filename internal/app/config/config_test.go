package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Fatalf("expected Base chain id, got %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.TokenDecimals != 6 {
		t.Fatalf("expected 6 decimals, got %d", cfg.Chain.TokenDecimals)
	}
	if cfg.Chain.Confirmations != 1 {
		t.Fatalf("expected 1 confirmation, got %d", cfg.Chain.Confirmations)
	}
	if cfg.Server.Addr == "" || cfg.Reconciler.Schedule == "" {
		t.Fatalf("incomplete defaults: %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
  read_timeout: 5s
chain:
  chain_id: 84532
  token_address: "0x0000000000000000000000000000000000000abc"
  confirm_timeout: 90s
reconciler:
  schedule: "@every 30s"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr not loaded: %q", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("duration not parsed: %v", cfg.Server.ReadTimeout)
	}
	if cfg.Chain.ChainID != 84532 {
		t.Fatalf("chain id not loaded: %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.ConfirmTimeout != 90*time.Second {
		t.Fatalf("confirm timeout not loaded: %v", cfg.Chain.ConfirmTimeout)
	}
	if cfg.Reconciler.Schedule != "@every 30s" {
		t.Fatalf("schedule not loaded: %q", cfg.Reconciler.Schedule)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Fatalf("defaults lost on partial file: %q", cfg.Logging.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GOALVAULT_ADDR", ":7777")
	t.Setenv("CHAIN_ID", "10")
	t.Setenv("CHAIN_PRIVATE_KEY", "deadbeef")
	t.Setenv("DATABASE_URL", "postgres://localhost/goalvault")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Fatalf("env addr not applied: %q", cfg.Server.Addr)
	}
	if cfg.Chain.ChainID != 10 {
		t.Fatalf("env chain id not applied: %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.PrivateKey != "deadbeef" {
		t.Fatalf("private key must come from the environment")
	}
	if cfg.Database.URL != "postgres://localhost/goalvault" {
		t.Fatalf("database url not applied: %q", cfg.Database.URL)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Chain.ChainID = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero chain id")
	}

	cfg = Default()
	cfg.Chain.TokenDecimals = 19
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range decimals")
	}

	cfg = Default()
	cfg.Server.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

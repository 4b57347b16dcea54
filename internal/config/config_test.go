package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SynthVault/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Oracle.Staleness != 3*time.Hour {
		t.Errorf("staleness: got %v, want 3h", cfg.Oracle.Staleness)
	}
	if cfg.Policy.LiquidationThreshold != 50 || cfg.Policy.LiquidationBonusPct != 10 {
		t.Errorf("policy defaults: got %+v", cfg.Policy)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synthvault.yaml")
	doc := `
http_addr: ":7070"
oracle:
  ws_url: "wss://feeds.example.com/prices"
  staleness: 1h
policy:
  liquidation_threshold: 40
  liquidation_precision: 100
  liquidation_bonus_pct: 5
  min_health_factor: "1000000000000000000"
assets:
  - symbol: WETH
    feed: eth-usd
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("http addr: got %q, want :7070", cfg.HTTPAddr)
	}
	if cfg.Oracle.WSURL != "wss://feeds.example.com/prices" {
		t.Errorf("oracle url: got %q", cfg.Oracle.WSURL)
	}
	if cfg.Oracle.Staleness != time.Hour {
		t.Errorf("staleness: got %v, want 1h", cfg.Oracle.Staleness)
	}
	if cfg.Policy.LiquidationThreshold != 40 {
		t.Errorf("threshold: got %d, want 40", cfg.Policy.LiquidationThreshold)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Symbol != "WETH" {
		t.Errorf("assets: got %+v", cfg.Assets)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SYNTH_HTTP_ADDR", ":6060")
	t.Setenv("SYNTH_ORACLE_STALENESS", "30m")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":6060" {
		t.Errorf("http addr: got %q, want :6060", cfg.HTTPAddr)
	}
	if cfg.Oracle.Staleness != 30*time.Minute {
		t.Errorf("staleness: got %v, want 30m", cfg.Oracle.Staleness)
	}
}

func TestLoad_InvalidPolicyRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	doc := `
policy:
  liquidation_threshold: 150
  liquidation_precision: 100
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("threshold above precision should be rejected")
	}
}

func TestLoad_NoAssetsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("assets: []\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("empty asset set should be rejected")
	}
}

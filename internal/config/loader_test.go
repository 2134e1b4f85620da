package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "renderd.yaml", `
addr: ":9090"
database_url: "postgres://renderd@localhost/renderd?sslmode=disable"
vram_budget_gb: 23
cache_ttl: 24h
gpu:
  server_url: "http://gpu:8188"
  max_retries: 3
  timeout: 300s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr: got %q", cfg.Addr)
	}
	if cfg.VRAMBudgetGB != 23 {
		t.Fatalf("vram budget: got %v", cfg.VRAMBudgetGB)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Fatalf("cache ttl: got %v", cfg.CacheTTL)
	}
	if cfg.GPU.ServerURL != "http://gpu:8188" || cfg.GPU.MaxRetries != 3 {
		t.Fatalf("gpu config: got %+v", cfg.GPU)
	}
	if cfg.GPU.Timeout != 300*time.Second {
		t.Fatalf("gpu timeout: got %v", cfg.GPU.Timeout)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "renderd.json", `{"addr": ":8000", "redis_url": "redis://localhost:6379/0"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8000" || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "renderd.toml", "addr = \":7070\"\nqueue_name = \"renderd.jobs\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.QueueName != "renderd.jobs" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	dir := t.TempDir()
	p := writeFile(t, dir, "renderd.ini", "addr=:1\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
	p = writeFile(t, dir, "bad.yaml", ":\n\t-")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero config should validate: %v", err)
	}
	cfg.VRAMBudgetGB = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative budget")
	}
	cfg = Config{GPU: GPUConfig{MaxRetries: -2}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative retries")
	}
}

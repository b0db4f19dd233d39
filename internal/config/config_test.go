package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.TrustedNodeURL != "https://arweave.net" {
		t.Errorf("TrustedNodeURL = %q, want default", cfg.TrustedNodeURL)
	}
	if cfg.ListenAddr != ":4000" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":4000")
	}
	if cfg.MaxHops != 3 {
		t.Errorf("MaxHops = %d, want 3", cfg.MaxHops)
	}
	if cfg.VerifierInterval != 30*time.Second {
		t.Errorf("VerifierInterval = %v, want 30s", cfg.VerifierInterval)
	}
	if cfg.BundleTempDir != "./data/bundle-tmp" {
		t.Errorf("BundleTempDir = %q, want default", cfg.BundleTempDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := "listen_addr: \":9090\"\nlog_level: debug\nsource_parallelism: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.SourceParallelism != 5 {
		t.Errorf("SourceParallelism = %d, want 5", cfg.SourceParallelism)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/gateway.yaml"); err == nil {
		t.Fatal("Load with missing file: got nil error")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":5555")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":5555" {
		t.Errorf("ListenAddr = %q, want env override %q", cfg.ListenAddr, ":5555")
	}
}

func TestValidateRejectsZeroMaxHops(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.MaxHops = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with MaxHops=0: got nil error")
	}
}

func TestValidateRejectsNonPositiveQueueSizes(t *testing.T) {
	cfg, _ := Load("")
	cfg.ImporterQueueSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with ImporterQueueSize=0: got nil error")
	}
}

func TestValidateRejectsNonPositiveSourceParallelism(t *testing.T) {
	cfg, _ := Load("")
	cfg.SourceParallelism = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with negative SourceParallelism: got nil error")
	}
}

func TestValidateRejectsNonPositiveMaxConcurrentRes(t *testing.T) {
	cfg, _ := Load("")
	cfg.MaxConcurrentRes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with MaxConcurrentRes=0: got nil error")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate on default config: %v, want nil", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := "namespace: office\nkdfTime: 4\nskew: 90s\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.Namespace != "office" || cfg.KDFTime != 4 || cfg.Skew != 90*time.Second {
		t.Fatalf("file values not merged: %+v", cfg)
	}
	// untouched fields keep their defaults
	if cfg.AttemptBurst != Default().AttemptBurst || cfg.LogLevel != "info" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadFromPathMissingFileKeepsDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("LOCKSTEP_NAMESPACE", "lab")
	t.Setenv("LOCKSTEP_SKEW", "45s")
	t.Setenv("LOCKSTEP_KDF_TIME", "7")
	t.Setenv("LOCKSTEP_ATTEMPT_BURST", "9")

	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Namespace != "lab" || cfg.Skew != 45*time.Second || cfg.KDFTime != 7 || cfg.AttemptBurst != 9 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("LOCKSTEP_KDF_TIME", "banana")
	t.Setenv("LOCKSTEP_SKEW", "-5s")
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.KDFTime != Default().KDFTime || cfg.Skew != Default().Skew {
		t.Fatalf("garbage env values applied: %+v", cfg)
	}
}

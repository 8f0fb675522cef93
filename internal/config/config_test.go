package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ShadowMode {
		t.Fatal("shadow mode must default on")
	}
	if !cfg.HashFingerprints {
		t.Fatal("fingerprint hashing must default on")
	}
	if cfg.HabitDefaultOptIn {
		t.Fatal("habit learning must default to opted out")
	}
	if cfg.HabitQuorum != 3 {
		t.Fatalf("expected quorum default 3, got %d", cfg.HabitQuorum)
	}
	if cfg.DeepTimeout != 2*time.Second {
		t.Fatalf("expected 2s deep timeout, got %v", cfg.DeepTimeout)
	}
	if cfg.EvalP95Budget != 150*time.Millisecond {
		t.Fatalf("expected 150ms p95 budget, got %v", cfg.EvalP95Budget)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REFLEXD_SHADOW", "false")
	t.Setenv("REFLEXD_POLICY_LEVEL", "strict")
	t.Setenv("REFLEXD_HABIT_QUORUM", "7")
	t.Setenv("REFLEXD_HABIT_HALF_LIFE", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShadowMode {
		t.Fatal("override not applied")
	}
	if cfg.PolicyLevel != "strict" {
		t.Fatalf("expected strict, got %s", cfg.PolicyLevel)
	}
	if cfg.HabitQuorum != 7 {
		t.Fatalf("expected quorum 7, got %d", cfg.HabitQuorum)
	}
	if cfg.HabitHalfLife != 72*time.Hour {
		t.Fatalf("expected 72h half-life, got %v", cfg.HabitHalfLife)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("REFLEXD_DEEP_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

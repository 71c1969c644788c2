package main

import (
	"testing"
	"time"

	"github.com/atmosphericc/stockwatch/config"
)

func applyPolicyFlags(cfg *config.Config, cooldownSeconds, windowSeconds float64) {
	applyFlags(cfg, "89542109", "", 0, "", 0, cooldownSeconds, windowSeconds, "", "", "", false)
}

func TestApplyFlagsCooldownDeselectsWindow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Window = 5 * time.Minute
	cfg.Cooldown = 0

	applyPolicyFlags(cfg, 90, -1)

	if cfg.Cooldown != 90*time.Second {
		t.Errorf("cooldown = %s, want 90s", cfg.Cooldown)
	}
	if cfg.Window != 0 {
		t.Errorf("window = %s, want 0", cfg.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("cooldown-only flags should validate, got %v", err)
	}
}

func TestApplyFlagsWindowDeselectsCooldown(t *testing.T) {
	cfg := config.DefaultConfig()

	applyPolicyFlags(cfg, -1, 300)

	if cfg.Window != 5*time.Minute {
		t.Errorf("window = %s, want 5m", cfg.Window)
	}
	if cfg.Cooldown != 0 {
		t.Errorf("cooldown = %s, want 0", cfg.Cooldown)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("window-only flags should validate, got %v", err)
	}
}

func TestApplyFlagsBothPoliciesRejected(t *testing.T) {
	cfg := config.DefaultConfig()

	applyPolicyFlags(cfg, 90, 300)

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject both policy flags set together")
	}
}

func TestApplyFlagsExplicitZeroCooldownWithWindow(t *testing.T) {
	cfg := config.DefaultConfig()

	applyPolicyFlags(cfg, 0, 300)

	if cfg.Cooldown != 0 || cfg.Window != 5*time.Minute {
		t.Errorf("cooldown = %s, window = %s", cfg.Cooldown, cfg.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("explicit zero cooldown with window should validate, got %v", err)
	}
}

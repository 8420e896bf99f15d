package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" || cfg.Transport != "ws" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.SessionWindow != 24*time.Hour {
		t.Fatalf("session window: %s", cfg.SessionWindow)
	}
	if !cfg.DefaultBaseRate.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("base rate: %s", cfg.DefaultBaseRate)
	}
	if !cfg.DefaultReferralBonus.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("referral bonus: %s", cfg.DefaultReferralBonus)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CM_TRANSPORT", "tcp")
	t.Setenv("CM_SESSION_WINDOW", "12h")
	t.Setenv("CM_DEFAULT_BASE_RATE", "0.5")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != "tcp" {
		t.Fatalf("transport: %s", cfg.Transport)
	}
	if cfg.SessionWindow != 12*time.Hour {
		t.Fatalf("session window: %s", cfg.SessionWindow)
	}
	if !cfg.DefaultBaseRate.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("base rate: %s", cfg.DefaultBaseRate)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CM_TRANSPORT", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("unknown transport accepted")
	}

	t.Setenv("CM_TRANSPORT", "ws")
	t.Setenv("CM_DEFAULT_BASE_RATE", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("unparseable rate accepted")
	}

	t.Setenv("CM_DEFAULT_BASE_RATE", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("negative rate accepted")
	}
}

package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sunray_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.RateLimitWindowS != 60 || cfg.RateLimitMax != 600 || cfg.RateLimitBurst != 120 {
		t.Errorf("rate limit defaults = %d/%d/%d, want 60/600/120",
			cfg.RateLimitWindowS, cfg.RateLimitMax, cfg.RateLimitBurst)
	}
	if !cfg.CronEnabled {
		t.Error("CronEnabled should default to true")
	}
	if !cfg.Dev() {
		t.Error("Dev() should be true for ENV=dev")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db.internal/sunray")
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("RATE_LIMIT_MAX", "100")
	t.Setenv("CRON_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Dev() {
		t.Error("Dev() should be false for ENV=production")
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want :9000", cfg.HTTPAddr)
	}
	if cfg.RateLimitMax != 100 {
		t.Errorf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
	if cfg.CronEnabled {
		t.Error("CronEnabled should be false")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without DATABASE_URL")
	}
}

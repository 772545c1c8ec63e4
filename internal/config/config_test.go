package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EscrowTTL != 90*24*time.Hour {
		t.Fatalf("expected 90 day escrow ttl, got %s", cfg.EscrowTTL)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("expected development jwt secret")
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL error")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("ESCROW_TTL", "48h")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("RECONCILE_BATCH_SIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EscrowTTL != 48*time.Hour {
		t.Fatalf("expected 48h, got %s", cfg.EscrowTTL)
	}
	if cfg.IdempotencyTTL != time.Minute {
		t.Fatalf("expected 1m, got %s", cfg.IdempotencyTTL)
	}
	if cfg.ReconcileBatch != 25 {
		t.Fatalf("expected batch 25, got %d", cfg.ReconcileBatch)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LEDGER_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid LEDGER_TIMEOUT error")
	}
}

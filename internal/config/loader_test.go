package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
log_level = "debug"

[settlement]
operator_key = "ops-key"
creation_deposit = 5000000

[persistence]
flush_timeout = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level: got %s, want debug", cfg.LogLevel)
	}
	if cfg.Settlement.OperatorKey != "ops-key" {
		t.Errorf("operator_key: got %s, want ops-key", cfg.Settlement.OperatorKey)
	}
	if cfg.Settlement.CreationDeposit != 5_000_000 {
		t.Errorf("creation_deposit: got %d, want 5000000", cfg.Settlement.CreationDeposit)
	}
	if cfg.Persistence.FlushTimeout.Duration != 250*time.Millisecond {
		t.Errorf("flush_timeout: got %v, want 250ms", cfg.Persistence.FlushTimeout.Duration)
	}

	// Untouched sections keep defaults
	if cfg.Persistence.BatchSize != 256 {
		t.Errorf("batch_size default: got %d, want 256", cfg.Persistence.BatchSize)
	}
	if !cfg.Settlement.RequireOperator {
		t.Error("require_operator should default to true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OUTCOME_POSTGRES_DSN", "postgres://env-wins")
	t.Setenv("OUTCOME_SETTLEMENT_PROMO_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://env-wins" {
		t.Errorf("dsn: got %s, want env override", cfg.Postgres.DSN)
	}
	if cfg.Settlement.PromoEnabled {
		t.Error("promo_enabled: env override to false not applied")
	}
}

func TestValidate_OperatorKeyRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Settlement.RequireOperator = true
	cfg.Settlement.OperatorKey = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing operator key")
	}

	cfg.Settlement.RequireOperator = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("gate off should not require a key: %v", err)
	}
}

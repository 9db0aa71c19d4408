package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OUTCOME_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OUTCOME_* environment variables
// and overwrites the corresponding Config fields when a variable is
// set. This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Settlement ──
	setBool(&cfg.Settlement.RequireOperator, "OUTCOME_SETTLEMENT_REQUIRE_OPERATOR")
	setStr(&cfg.Settlement.OperatorKey, "OUTCOME_SETTLEMENT_OPERATOR_KEY")
	setBool(&cfg.Settlement.PromoEnabled, "OUTCOME_SETTLEMENT_PROMO_ENABLED")
	setUint64(&cfg.Settlement.CreationDeposit, "OUTCOME_SETTLEMENT_CREATION_DEPOSIT")
	setUint64(&cfg.Settlement.PositionDeposit, "OUTCOME_SETTLEMENT_POSITION_DEPOSIT")
	setInt(&cfg.Settlement.IdempotencyCapacity, "OUTCOME_SETTLEMENT_IDEMPOTENCY_CAPACITY")
	setInt(&cfg.Settlement.RequestBuffer, "OUTCOME_SETTLEMENT_REQUEST_BUFFER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OUTCOME_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "OUTCOME_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "OUTCOME_POSTGRES_MAX_IDLE_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OUTCOME_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.Postgres.MigrationsDir, "OUTCOME_POSTGRES_MIGRATIONS_DIR")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "OUTCOME_NATS_URL")
	setBool(&cfg.NATS.Enabled, "OUTCOME_NATS_ENABLED")

	// ── Server ──
	setStr(&cfg.Server.GRPCAddr, "OUTCOME_SERVER_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "OUTCOME_SERVER_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "OUTCOME_SERVER_METRICS_ADDR")

	// ── Persistence ──
	setInt(&cfg.Persistence.BatchSize, "OUTCOME_PERSISTENCE_BATCH_SIZE")
	setDuration(&cfg.Persistence.FlushTimeout, "OUTCOME_PERSISTENCE_FLUSH_TIMEOUT")
	setInt(&cfg.Persistence.PersistBuffer, "OUTCOME_PERSISTENCE_PERSIST_BUFFER")
	setInt(&cfg.Persistence.ProjectionBuffer, "OUTCOME_PERSISTENCE_PROJECTION_BUFFER")
	setInt64(&cfg.Persistence.SnapshotInterval, "OUTCOME_PERSISTENCE_SNAPSHOT_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "OUTCOME_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

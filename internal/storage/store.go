package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"transformer-telemetry/internal/config"
)

const defaultPingTimeout = 5 * time.Second

// schemaSQL mirrors migrations/0001_anomaly_events.sql.
const schemaSQL = `CREATE TABLE IF NOT EXISTS anomaly_events (
    id            BIGSERIAL PRIMARY KEY,
    session_id    TEXT        NOT NULL,
    entity_id     TEXT        NOT NULL,
    kind          TEXT        NOT NULL,
    observed_at   TIMESTAMPTZ NOT NULL,
    voltage_kv    NUMERIC     NOT NULL,
    current_amps  NUMERIC     NOT NULL,
    temperature_c NUMERIC     NOT NULL,
    load_factor   NUMERIC     NOT NULL,
    notified      BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, entity_id, observed_at)
);
CREATE INDEX IF NOT EXISTS anomaly_events_session_idx ON anomaly_events (session_id, observed_at);`

func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = min(int32(cfg.MaxIdleConns), pc.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return pc, nil
}

// NewPool opens the journal connection pool and checks the server is
// reachable within the write timeout.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the journal table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure anomaly schema: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAnomalySQL = `INSERT INTO anomaly_events (
        session_id,
        entity_id,
        kind,
        observed_at,
        voltage_kv,
        current_amps,
        temperature_c,
        load_factor,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (session_id, entity_id, observed_at) DO UPDATE
    SET kind     = EXCLUDED.kind,
        notified = anomaly_events.notified OR EXCLUDED.notified
    RETURNING id, created_at;`

	markNotifiedSQL = `UPDATE anomaly_events
    SET notified = TRUE
    WHERE id = $1;`

	countSessionSQL = `SELECT COUNT(*) FROM anomaly_events WHERE session_id = $1;`
)

// AnomalyJournal is the write side of the anomaly audit trail.
type AnomalyJournal interface {
	InsertAnomaly(ctx context.Context, event AnomalyEvent) (AnomalyEvent, error)
	MarkNotified(ctx context.Context, id int64) error
}

// Store persists anomaly events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAnomaly journals an anomaly and returns it with its assigned ID.
func (s *Store) InsertAnomaly(ctx context.Context, event AnomalyEvent) (AnomalyEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return AnomalyEvent{}, err
	}

	row := pool.QueryRow(ctx, insertAnomalySQL,
		event.SessionID,
		event.EntityID,
		event.Kind,
		event.ObservedAt,
		event.VoltageKV.String(),
		event.CurrentAmps.String(),
		event.TemperatureC.String(),
		event.LoadFactor.String(),
		event.Notified,
	)

	if scanErr := row.Scan(&event.ID, &event.CreatedAt); scanErr != nil {
		return AnomalyEvent{}, fmt.Errorf("insert anomaly: %w", scanErr)
	}
	return event, nil
}

// MarkNotified flags an event as delivered to at least one channel.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markNotifiedSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark anomaly notified: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountSession counts events journaled by one session.
func (s *Store) CountSession(ctx context.Context, sessionID string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSessionSQL, sessionID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count anomalies: %w", scanErr)
	}
	return count, nil
}

var _ AnomalyJournal = (*Store)(nil)

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps idempotency entries in the idempotency_keys table.
type PostgresStore struct {
	db   *pgxpool.Pool
	opts Options
}

// NewPostgresStore wires a pgx pool.
func NewPostgresStore(db *pgxpool.Pool, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults()}
}

func (s *PostgresStore) Acquire(ctx context.Context, scope, key, requestHash string) ([]byte, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin idempotency tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	expiresAt := time.Now().UTC().Add(s.opts.TTL)
	insert, err := tx.Exec(ctx, `
        INSERT INTO idempotency_keys (scope, idempotency_key, request_hash, status, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (scope, idempotency_key) DO NOTHING`,
		scope, key, requestHash, statusProcessing, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if insert.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	var (
		existingHash string
		status       string
		payload      []byte
		updatedAt    time.Time
		existingExp  time.Time
	)
	err = tx.QueryRow(ctx, `
        SELECT request_hash, status, response_payload, updated_at, expires_at
        FROM idempotency_keys
        WHERE scope = $1 AND idempotency_key = $2
        FOR UPDATE`, scope, key).Scan(&existingHash, &status, &payload, &updatedAt, &existingExp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrInProgress
		}
		return nil, false, fmt.Errorf("load idempotency row: %w", err)
	}

	now := time.Now().UTC()
	expired := existingExp.Before(now)
	if existingHash != requestHash && !(expired && status == statusCompleted) {
		return nil, false, ErrConflict
	}
	if status == statusCompleted && !expired {
		if len(payload) == 0 {
			return nil, false, ErrInProgress
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return payload, false, nil
	}

	stale := updatedAt.Before(now.Add(-s.opts.StaleWindow)) || expired
	if !stale {
		return nil, false, ErrInProgress
	}

	if _, err := tx.Exec(ctx, `
        UPDATE idempotency_keys
        SET request_hash = $3, status = $4, response_payload = NULL, expires_at = $5, updated_at = NOW()
        WHERE scope = $1 AND idempotency_key = $2`,
		scope, key, requestHash, statusProcessing, expiresAt); err != nil {
		return nil, false, fmt.Errorf("reclaim stale idempotency row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

func (s *PostgresStore) Complete(ctx context.Context, scope, key string, response []byte) error {
	cmd, err := s.db.Exec(ctx, `
        UPDATE idempotency_keys
        SET status = $3, response_payload = $4::jsonb, updated_at = NOW()
        WHERE scope = $1 AND idempotency_key = $2 AND status = $5`,
		scope, key, statusCompleted, string(response), statusProcessing)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, scope, key string) error {
	_, err := s.db.Exec(ctx, `
        DELETE FROM idempotency_keys
        WHERE scope = $1 AND idempotency_key = $2 AND status = $3`,
		scope, key, statusProcessing)
	return err
}

// Purge removes completed entries past their retention.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW() AND status = $1`, statusCompleted)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

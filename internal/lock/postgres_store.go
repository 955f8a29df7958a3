package lock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxQuerier is the subset of *pgxpool.Pool used by PostgresStore.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS resource_locks (
		name       TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresStore is a PostgreSQL implementation of Store. Expiry is evaluated
// with the database clock so that every process agrees on it.
type PostgresStore struct {
	db PgxQuerier
}

// NewPostgresStore creates a new PostgreSQL-backed lock store.
func NewPostgresStore(db PgxQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the resource_locks table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchema)
	return err
}

// TryAcquire implements Store.TryAcquire.
// Uses INSERT ... ON CONFLICT so that only an expired row can be taken over.
func (s *PostgresStore) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO resource_locks (name, token, expires_at)
		VALUES ($1, $2, NOW() + $3::bigint * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = NOW()
		WHERE resource_locks.expires_at <= NOW()
		RETURNING name
	`

	var name string
	err := s.db.QueryRow(ctx, query, resource, token, ttl.Milliseconds()).Scan(&name)
	if err != nil {
		// No rows returned means an unexpired row is held by someone else.
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TryExtend implements Store.TryExtend.
func (s *PostgresStore) TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE resource_locks
		SET expires_at = NOW() + $3::bigint * INTERVAL '1 millisecond'
		WHERE name = $1 AND token = $2 AND expires_at > NOW()
	`, resource, token, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TryRelease implements Store.TryRelease.
func (s *PostgresStore) TryRelease(ctx context.Context, resource, token string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM resource_locks WHERE name = $1 AND token = $2 AND expires_at > NOW()",
		resource, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cleanup removes all expired rows from the database.
// This should be called periodically by a CleanupJob.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM resource_locks WHERE expires_at <= NOW()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

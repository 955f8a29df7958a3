package lock

import (
	"context"
	"database/sql"
	"time"
)

const mysqlSchema = `
	CREATE TABLE IF NOT EXISTS resource_locks (
		name       VARCHAR(255) NOT NULL PRIMARY KEY,
		token      VARCHAR(64)  NOT NULL,
		expires_at DATETIME(6)  NOT NULL
	)
`

// MySQLStore is a MySQL implementation of Store.
//
// Acquisition relies on the affected-rows count of INSERT ... ON DUPLICATE
// KEY UPDATE, so the DSN must not enable clientFoundRows.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQL-backed lock store.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureSchema creates the resource_locks table if it does not exist.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, mysqlSchema)
	return err
}

// TryAcquire implements Store.TryAcquire. An expired row is taken over in
// place; MySQL evaluates the assignments left to right, so expires_at is
// only replaced when the token was.
func (s *MySQLStore) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_locks (name, token, expires_at)
		VALUES (?, ?, NOW(6) + INTERVAL ? MICROSECOND)
		ON DUPLICATE KEY UPDATE
			token = IF(expires_at <= NOW(6), VALUES(token), token),
			expires_at = IF(token = VALUES(token), VALUES(expires_at), expires_at)
	`, resource, token, ttl.Microseconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// 1 = inserted, 2 = expired row replaced, 0 = held by someone else.
	return n > 0, nil
}

// TryExtend implements Store.TryExtend.
func (s *MySQLStore) TryExtend(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	return s.execOne(ctx, `
		UPDATE resource_locks
		SET expires_at = NOW(6) + INTERVAL ? MICROSECOND
		WHERE name = ? AND token = ? AND expires_at > NOW(6)
	`, ttl.Microseconds(), resource, token)
}

// TryRelease implements Store.TryRelease.
func (s *MySQLStore) TryRelease(ctx context.Context, resource, token string) (bool, error) {
	return s.execOne(ctx,
		"DELETE FROM resource_locks WHERE name = ? AND token = ? AND expires_at > NOW(6)",
		resource, token)
}

// Cleanup removes all expired rows from the database.
func (s *MySQLStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM resource_locks WHERE expires_at <= NOW(6)")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *MySQLStore) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

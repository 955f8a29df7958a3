package lock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	name string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.name
	return nil
}

// fakePgx records statements and answers with canned results.
type fakePgx struct {
	queries []string
	args    [][]any
	tag     pgconn.CommandTag
	row     fakeRow
	err     error
}

func (f *fakePgx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return f.tag, f.err
}

func (f *fakePgx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return f.row
}

func TestPostgresStore_TryAcquire(t *testing.T) {
	db := &fakePgx{row: fakeRow{name: "order_42"}}
	store := NewPostgresStore(db)

	ok, err := store.TryAcquire(context.Background(), "order_42", "token-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "ON CONFLICT (name) DO UPDATE")
	assert.Equal(t, []any{"order_42", "token-1", int64(30000)}, db.args[0])
}

func TestPostgresStore_TryAcquireHeld(t *testing.T) {
	store := NewPostgresStore(&fakePgx{row: fakeRow{err: pgx.ErrNoRows}})

	ok, err := store.TryAcquire(context.Background(), "order_42", "token-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_TryAcquireError(t *testing.T) {
	store := NewPostgresStore(&fakePgx{row: fakeRow{err: errBackendDown}})

	_, err := store.TryAcquire(context.Background(), "order_42", "token-2", 30*time.Second)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestPostgresStore_ExtendAndRelease(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		expected bool
	}{
		{"owned", "UPDATE 1", true},
		{"not owned", "UPDATE 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakePgx{tag: pgconn.NewCommandTag(tt.tag)}
			store := NewPostgresStore(db)

			ok, err := store.TryExtend(context.Background(), "job", "token-1", 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.True(t, strings.Contains(db.queries[0], "token = $2"))

			db.tag = pgconn.NewCommandTag(strings.Replace(tt.tag, "UPDATE", "DELETE", 1))
			ok, err = store.TryRelease(context.Background(), "job", "token-1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestPostgresStore_Cleanup(t *testing.T) {
	db := &fakePgx{tag: pgconn.NewCommandTag("DELETE 4")}
	store := NewPostgresStore(db)

	removed, err := store.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db := &fakePgx{tag: pgconn.NewCommandTag("CREATE TABLE")}
	require.NoError(t, NewPostgresStore(db).EnsureSchema(context.Background()))
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS resource_locks")
}

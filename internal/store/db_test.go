package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Postgres, DialectFor("postgres://u:p@localhost/db"))
	assert.Equal(t, Postgres, DialectFor("postgresql://localhost/db"))
	assert.Equal(t, SQLite, DialectFor("./data/attendance.db"))
	assert.Equal(t, SQLite, DialectFor("sqlite://x.db"))
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{Dialect: SQLite}
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrate is idempotent")
	assert.True(t, db.Healthy(ctx))

	insert := `INSERT INTO attendance (student_id, department_key, date, created_at) VALUES (?, ?, ?, ?)`
	_, err = db.Client.ExecContext(ctx, insert, 1, 0, "2026-10-18", time.Now())
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, insert, 1, 0, "2026-10-18", time.Now())
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	_, err = db.Client.ExecContext(ctx, insert, 1, 2, "2026-10-18", time.Now())
	assert.NoError(t, err, "different department is a separate row")
}

func TestHealthyNil(t *testing.T) {
	var db *DB
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())
}

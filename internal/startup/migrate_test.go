package startup

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/connectly/migrations"
)

type recordingExec struct {
	sql  []string
	fail string
}

func (r *recordingExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if r.fail != "" && sql == r.fail {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	r.sql = append(r.sql, sql)
	return pgconn.CommandTag{}, nil
}

func TestMigrateRunsInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("B")},
		"001_a.sql":  {Data: []byte("A")},
		"README.txt": {Data: []byte("ignored")},
	}
	db := &recordingExec{}
	require.NoError(t, Migrate(context.Background(), db, fsys))
	require.Equal(t, []string{"A", "B"}, db.sql)
}

func TestMigrateStopsOnError(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("A")},
		"002_b.sql": {Data: []byte("B")},
		"003_c.sql": {Data: []byte("C")},
	}
	db := &recordingExec{fail: "B"}
	err := Migrate(context.Background(), db, fsys)
	require.ErrorContains(t, err, "002_b.sql")
	require.Equal(t, []string{"A"}, db.sql)
}

func TestEmbeddedMigrations(t *testing.T) {
	db := &recordingExec{}
	require.NoError(t, Migrate(context.Background(), db, migrations.Files))
	require.Len(t, db.sql, 2)
	require.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS messages")
}

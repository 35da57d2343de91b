package migrator

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_AppliesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")

	applied, err := SQLite(path)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = SQLite(path)
	require.NoError(t, err)
	assert.False(t, applied)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"users", "refresh_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestPgxURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/judge?sslmode=disable":   "pgx5://u:p@localhost:5432/judge?sslmode=disable",
		"postgresql://u:p@localhost:5432/judge?sslmode=disable": "pgx5://u:p@localhost:5432/judge?sslmode=disable",
		"pgx5://already":                                        "pgx5://already",
	}
	for in, want := range cases {
		assert.Equal(t, want, PgxURL(in), in)
	}
}

// Package migrator applies the embedded SQL schema with golang-migrate.
package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"judgeauth/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SQLite migrates the sqlite database file at path.
func SQLite(path string) (applied bool, err error) {
	return Up(migrations.SQLite, "sqlite", "sqlite3://"+path)
}

// Postgres migrates the database behind a postgres:// DSN.
func Postgres(dsn string) (applied bool, err error) {
	return Up(migrations.Postgres, "postgres", PgxURL(dsn))
}

// Up applies every pending migration found under dir in fsys. applied is
// false when the schema was already current.
func Up(fsys fs.FS, dir, databaseURL string) (applied bool, err error) {
	const op = "migrator.Up"

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return false, fmt.Errorf("%s: source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// PgxURL rewrites a postgres DSN into the scheme the pgx/v5 migrate driver
// registers.
func PgxURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

// sqliteDSN turns sqlite://PATH[?query] into the modernc driver DSN with the
// pragmas every connection needs.
func sqliteDSN(databaseURL string) (path string, dsn string, err error) {
	rest := strings.TrimPrefix(strings.TrimSpace(databaseURL), "sqlite://")
	path, rawQuery, _ := strings.Cut(rest, "?")
	if path == "" {
		return "", "", fmt.Errorf("sqlite database url %q has no path", databaseURL)
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", "", fmt.Errorf("invalid sqlite query %q: %w", rawQuery, err)
	}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return path, path + "?" + q.Encode(), nil
}

func openSQLite(ctx context.Context, databaseURL string, opts Options) (*SQL, error) {
	path, dsn, err := sqliteDSN(databaseURL)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	if !opts.SkipMigrations {
		if err := RunMigrations(databaseURL); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under
	// concurrent relays.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQL(db, dialect{
		backend:           BackendSQLite,
		isUniqueViolation: isSQLiteUniqueViolation,
	}, opts.Clock), nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

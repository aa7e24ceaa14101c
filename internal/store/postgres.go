package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

func openPostgres(ctx context.Context, databaseURL string, opts Options) (*SQL, error) {
	if !opts.SkipMigrations {
		if err := RunMigrations(databaseURL); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQL(db, dialect{
		backend:           BackendPostgres,
		numbered:          true,
		isUniqueViolation: isPostgresUniqueViolation,
	}, opts.Clock), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

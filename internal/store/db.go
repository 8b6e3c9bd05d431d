package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// ErrDuplicate is returned by inserts that lost a race to an equivalent row.
// Inserts that can race use ON CONFLICT DO NOTHING and report this sentinel
// from the rows-affected count, so the transaction stays usable and the
// caller can fetch the winning row. A raw SQLSTATE 23505 would abort the
// whole transaction and make the follow-up fetch fail with 25P02.
var ErrDuplicate = errors.New("duplicate row")

// IsUniqueViolation reports whether err means an equivalent row already
// exists, either as ErrDuplicate or as a raw unique-constraint violation
// (SQLSTATE 23505) from paths that run outside a transaction. Find-or-create
// paths treat it as "someone else won the race" and re-fetch instead of
// failing.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

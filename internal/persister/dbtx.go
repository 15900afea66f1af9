// Package persister is the Persister of spec.md §4.F: consumes the
// consolidated stream, upserts into the SQLite primary store (and,
// best-effort, an optional Postgres secondary store), acks, and runs an
// hourly retention sweep. Grounded on the teacher's internal/data
// repository layer (repositories.go) for the DBTX abstraction shared
// across *sql.DB and *sql.Tx.
package persister

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx, following the teacher's
// internal/data.DBTX convention.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

package postgres

import (
	"context"
	"database/sql"
)

// Querier is the query surface the order and payment stores run on.
// Both *sql.DB and *sql.Tx satisfy it, so a store can be scoped to a
// refund transaction without a second implementation.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

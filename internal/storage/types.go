package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means a conditional update matched no row: the row's state
	// changed since it was read.
	ErrConflict = errors.New("storage: row changed concurrently")
)

// Querier is the query-many / query-one / execute contract the store is
// built on.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

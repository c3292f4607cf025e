package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/partshift/partshift/database"
)

// lockNotAvailable is the SQLSTATE PostgreSQL raises for a failed NOWAIT
// lock request.
const lockNotAvailable = "55P03"

// Executor implements database.Executor over a live connection pool. Every
// statement autocommits; the engine's swap protocol is written for targets
// where renames commit independently, and this executor does not pretend
// otherwise. A NOWAIT lock here is a busy probe: it detects contention at
// that instant, which shrinks the inconsistency window without claiming to
// close it.
type Executor struct {
	db *sql.DB
}

// NewExecutor wraps an open connection pool.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Execute runs one statement. A failed NOWAIT lock surfaces as
// database.ErrObjectBusy so callers can apply their own retry policy.
func (e *Executor) Execute(ctx context.Context, stmt database.Statement) (database.ExecResult, error) {
	res, err := e.db.ExecContext(ctx, stmt.SQL)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == lockNotAvailable {
			return database.ExecResult{}, fmt.Errorf("%s: %w", stmt.Description, database.ErrObjectBusy)
		}
		return database.ExecResult{}, fmt.Errorf("%s: %w", stmt.Description, err)
	}

	rows, raErr := res.RowsAffected()
	if raErr != nil {
		rows = 0
	}
	return database.ExecResult{RowsAffected: rows}, nil
}

// Package cutover composes the temporary bridging surface used while old
// and new data coexist: a union view that deduplicates by the full primary
// key tuple, an insert redirect into the replacement, and guard triggers
// that reject update and delete. Composition is all-or-nothing: if any part
// cannot be rendered, no statements are returned at all, so a failed
// composition never leaves partially-created objects behind.
package cutover

import (
	"errors"
	"fmt"

	"github.com/partshift/partshift/database"
)

// ErrNoPrimaryKey means the replacement table carries no primary key
// constraint. A bridging surface cannot be composed without a full
// deduplication key, and guessing one would silently drop or duplicate
// rows, so the composer fails instead.
var ErrNoPrimaryKey = errors.New("no primary key on replacement table")

// DetectPrimaryKey returns the replacement's primary key columns in
// declared order.
func DetectPrimaryKey(plan *database.MigrationPlan) ([]string, error) {
	keys := plan.KeyColumns()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, plan.Replacement)
	}
	return keys, nil
}

// Compose renders the full bridging batch: view, insert redirect, and
// mutation guards, in creation order.
func Compose(dialect database.Dialect, plan *database.MigrationPlan) ([]database.Statement, error) {
	keys, err := DetectPrimaryKey(plan)
	if err != nil {
		return nil, err
	}

	view, err := dialect.UnionView(plan, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to compose bridging view: %w", err)
	}

	redirect, err := dialect.InsertRedirectTrigger(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to compose insert redirect: %w", err)
	}

	guards, err := dialect.MutationGuardTriggers(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to compose mutation guards: %w", err)
	}

	stmts := make([]database.Statement, 0, 1+len(redirect)+len(guards))
	stmts = append(stmts, view)
	stmts = append(stmts, redirect...)
	stmts = append(stmts, guards...)
	return stmts, nil
}

// Teardown renders removal of the bridging surface.
func Teardown(dialect database.Dialect, plan *database.MigrationPlan) ([]database.Statement, error) {
	return dialect.DropView(plan.BridgeView)
}

// Package swap implements the terminal rename protocol. The rename
// primitive commits independently on the target, so true atomicity is not
// available; the protocol instead bounds the inconsistency window with
// non-blocking locks and defines explicit compensation for each partial
// failure. Callers must tolerate transient not-found errors on the original
// name during the window rather than treat them as fatal.
package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/partshift/partshift/database"
)

// ErrInconsistent means a rename failed and its compensation also failed:
// the original name currently resolves to nothing while the data exists
// under two other names. All automation must stop; this is never retried.
var ErrInconsistent = errors.New("swap left object names inconsistent; manual action required")

// Result reports one swap attempt. Report lines are written for the human
// operator and state exactly which names hold data after the attempt.
type Result struct {
	Outcome        database.SwapOutcome
	Report         []string
	InvalidObjects []database.ObjectRef
}

// Run executes the protocol:
//
//  1. lock original and replacement, NOWAIT; Busy on contention, nothing
//     advanced, safe to retry later
//  2. rename original to the backup name; failure changes nothing, abort
//  3. rename replacement to the original name; on failure, compensate by
//     renaming the backup back; Success, CompensatedRollback, or
//     Inconsistent depending on how far that gets
//  4. verify both names resolve and enumerate (without fixing) dependent
//     objects left invalid by the rename
func Run(ctx context.Context, exec database.Executor, catalog database.CatalogReader, dialect database.Dialect, plan *database.MigrationPlan) (Result, error) {
	for _, target := range []database.TableIdentity{plan.Source, plan.Replacement} {
		lock, err := dialect.LockTableNowait(target)
		if err != nil {
			return Result{}, err
		}
		if _, err := exec.Execute(ctx, lock); err != nil {
			if errors.Is(err, database.ErrObjectBusy) {
				return Result{
					Outcome: database.SwapBusy,
					Report:  []string{fmt.Sprintf("%s is locked by another session; nothing was changed", target)},
				}, nil
			}
			return Result{}, fmt.Errorf("failed to lock %s: %w", target, err)
		}
	}

	// Step 2: original out of the way. A failure here has changed nothing.
	toBackup, err := dialect.RenameTable(plan.Source, plan.Backup)
	if err != nil {
		return Result{}, err
	}
	if _, err := exec.Execute(ctx, toBackup); err != nil {
		return Result{}, fmt.Errorf("failed to rename %s to %s; nothing was changed: %w",
			plan.Source, plan.Backup.Name, err)
	}

	// Step 3: replacement takes the original name.
	toOriginal, err := dialect.RenameTable(plan.Replacement, plan.Source)
	if err != nil {
		return Result{}, err
	}
	if _, execErr := exec.Execute(ctx, toOriginal); execErr != nil {
		return compensate(ctx, exec, dialect, plan, execErr)
	}

	result := Result{
		Outcome: database.SwapSuccess,
		Report: []string{
			fmt.Sprintf("%s now resolves to the partitioned table", plan.Source),
			fmt.Sprintf("previous data is preserved under %s", plan.Backup),
		},
	}
	verify(ctx, catalog, plan, &result)
	return result, nil
}

// compensate re-applies the inverse of the committed first rename. This is
// not a transactional undo: the first rename committed on its own, and the
// best available recovery is another independent rename.
func compensate(ctx context.Context, exec database.Executor, dialect database.Dialect, plan *database.MigrationPlan, cause error) (Result, error) {
	back, err := dialect.RenameTable(plan.Backup, plan.Source)
	if err != nil {
		return Result{}, err
	}
	if _, compErr := exec.Execute(ctx, back); compErr != nil {
		return Result{
			Outcome: database.SwapInconsistent,
			Report: []string{
				fmt.Sprintf("rename of %s to %s failed: %v", plan.Replacement, plan.Source.Name, cause),
				fmt.Sprintf("compensating rename of %s back to %s also failed: %v", plan.Backup, plan.Source.Name, compErr),
				fmt.Sprintf("%s currently resolves to NOTHING", plan.Source),
				fmt.Sprintf("the data exists under %s (original rows) and %s (partitioned copy)", plan.Backup, plan.Replacement),
				"all automatic phase transitions are stopped; manual rename required",
			},
		}, ErrInconsistent
	}
	return Result{
		Outcome: database.SwapCompensatedRollback,
		Report: []string{
			fmt.Sprintf("rename of %s to %s failed: %v", plan.Replacement, plan.Source.Name, cause),
			fmt.Sprintf("compensating rename restored %s; the swap was rolled back and can be retried", plan.Source),
		},
	}, nil
}

// verify confirms the post-swap name layout and enumerates invalid
// dependent objects. Problems found here are reported, never auto-fixed,
// and they do not downgrade a successful swap.
func verify(ctx context.Context, catalog database.CatalogReader, plan *database.MigrationPlan, result *Result) {
	for _, check := range []struct {
		id   database.TableIdentity
		what string
	}{
		{plan.Source, "original name"},
		{plan.Backup, "backup name"},
	} {
		exists, err := catalog.ObjectExists(ctx, check.id.Schema, check.id.Name)
		if err != nil {
			result.Report = append(result.Report,
				fmt.Sprintf("could not verify %s %s: %v", check.what, check.id, err))
			continue
		}
		if !exists {
			result.Report = append(result.Report,
				fmt.Sprintf("WARNING: %s %s does not resolve after the swap", check.what, check.id))
		}
	}

	invalid, err := catalog.ListInvalidObjects(ctx, plan.Source.Schema)
	if err != nil {
		result.Report = append(result.Report,
			fmt.Sprintf("could not enumerate invalid objects in %s: %v", plan.Source.Schema, err))
		return
	}
	result.InvalidObjects = invalid
	for _, obj := range invalid {
		result.Report = append(result.Report,
			fmt.Sprintf("dependent %s %s.%s is invalid after the rename and needs manual attention", obj.Type, obj.Schema, obj.Name))
	}
}

// Package orchestrator drives the ordered, resumable phase sequence of one
// migration plan. Phases are strictly sequential on a single logical thread
// of control; each transition checks a precondition, hands the phase's
// statement batch to the executor, checks a postcondition, and persists the
// new phase before returning. A failed check aborts only the current phase
// and leaves the persisted state untouched, so re-invoking the same plan
// after fixing the cause is always safe.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/cutover"
	"github.com/partshift/partshift/internal/state"
	"github.com/partshift/partshift/internal/swap"
)

// ErrHalted means the plan reached a state (failed phase or inconsistent
// swap) out of which no automatic transition exists.
var ErrHalted = errors.New("migration halted; no automatic transition available")

// ErrSwapBusy means the swap attempt found an object locked. Nothing was
// changed; the caller chooses when to retry.
var ErrSwapBusy = errors.New("swap attempt found a busy object; retry later")

// ErrSwapRequired means a run reached CutoverActive and the next transition
// is the swap. Run never crosses that boundary on its own: the swap briefly
// blocks writers and has its own failure modes, so it must be requested
// explicitly (Swap, or the caller's opt-in).
var ErrSwapRequired = errors.New("next transition is the swap and must be requested explicitly")

// ValidationError is a failed phase pre- or postcondition. The underlying
// cause is recoverable: fix it and re-run.
type ValidationError struct {
	Phase  database.PhaseState
	Check  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("phase %s: %s: %s", e.Phase, e.Check, e.Detail)
}

// Orchestrator owns a plan for the life of a run. Multiple orchestrators
// for different tables may run concurrently; they share only the read-only
// catalog reader.
type Orchestrator struct {
	dialect database.Dialect
	catalog database.CatalogReader
	exec    database.Executor
	store   state.Store
	logf    func(format string, args ...any)
}

// New wires an orchestrator. A nil logf falls back to the standard logger.
func New(dialect database.Dialect, catalog database.CatalogReader, exec database.Executor, store state.Store, logf func(string, ...any)) *Orchestrator {
	if logf == nil {
		logf = log.Printf
	}
	return &Orchestrator{dialect: dialect, catalog: catalog, exec: exec, store: store, logf: logf}
}

// Advance performs exactly one phase transition. The plan's Phase field is
// only mutated (and persisted) after the batch and postcondition succeed.
func (o *Orchestrator) Advance(ctx context.Context, plan *database.MigrationPlan) error {
	if plan.Phase == database.PhaseFailed || plan.Outcome == database.SwapInconsistent {
		return fmt.Errorf("%w: plan for %s is in phase %s with outcome %q (%s)",
			ErrHalted, plan.Source, plan.Phase, plan.Outcome, plan.FailureReason)
	}

	next, err := database.NextPhase(plan.Phase)
	if err != nil {
		return err
	}

	switch next {
	case database.PhaseTableCreated:
		err = o.createTable(ctx, plan)
	case database.PhaseDataLoaded:
		err = o.loadInitial(ctx, plan)
	case database.PhaseIndexed:
		err = o.buildIndexes(ctx, plan)
	case database.PhaseStatsGathered:
		err = o.gatherStats(ctx, plan)
	case database.PhaseDeltaSynced:
		_, err = o.SyncDelta(ctx, plan)
		if err != nil {
			return err
		}
		// SyncDelta persisted the round; fall through to the phase commit.
	case database.PhaseCutoverActive:
		err = o.activateCutover(ctx, plan)
	case database.PhaseSwapped:
		return o.Swap(ctx, plan)
	case database.PhaseFinalized:
		err = o.finalize(ctx, plan)
	default:
		return fmt.Errorf("no handler for phase %s", next)
	}
	if err != nil {
		return err
	}

	plan.Phase = next
	if err := o.store.Save(ctx, plan); err != nil {
		return fmt.Errorf("phase %s completed but could not be persisted: %w", next, err)
	}
	o.logf("%s: entered phase %s", plan.Source, next)
	return nil
}

// Run advances phases until stopAt is reached, the context is cancelled, or
// a phase fails. Cancellation is only honored between phases; a phase that
// has started runs to completion or failure. While in the delta-sync phase
// it repeats catch-up passes until a pass copies no rows. Run stops at
// CutoverActive with ErrSwapRequired rather than performing the swap itself.
func (o *Orchestrator) Run(ctx context.Context, plan *database.MigrationPlan, stopAt database.PhaseState) error {
	for database.PhaseIndex(plan.Phase) < database.PhaseIndex(stopAt) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if plan.Phase == database.PhaseCutoverActive {
			return ErrSwapRequired
		}
		if plan.Phase == database.PhaseDeltaSynced {
			rows, err := o.SyncDelta(ctx, plan)
			if err != nil {
				return err
			}
			if rows > 0 {
				continue
			}
		}
		if err := o.Advance(ctx, plan); err != nil {
			return err
		}
	}
	return nil
}

// SyncDelta runs one catch-up pass and returns how many rows it copied.
// The phase stays DeltaSynced (or becomes it); the pass counter is
// persisted so an audit can see how many rounds convergence took.
func (o *Orchestrator) SyncDelta(ctx context.Context, plan *database.MigrationPlan) (int64, error) {
	keys, err := cutover.DetectPrimaryKey(plan)
	if err != nil {
		return 0, fmt.Errorf("delta sync needs a full deduplication key: %w", err)
	}
	stmt, err := o.dialect.LoadDelta(plan, keys)
	if err != nil {
		return 0, err
	}
	res, err := o.exec.Execute(ctx, stmt)
	if err != nil {
		return 0, err
	}
	plan.DeltaRounds++
	if err := o.store.Save(ctx, plan); err != nil {
		return 0, fmt.Errorf("delta pass completed but could not be persisted: %w", err)
	}
	o.logf("%s: delta pass %d copied %d rows", plan.Source, plan.DeltaRounds, res.RowsAffected)
	return res.RowsAffected, nil
}

// Swap runs the terminal rename protocol and maps its outcome onto the
// plan. Busy leaves everything unchanged. A compensated rollback is
// logically a no-op: the phase stays CutoverActive and an explicit re-run
// may try again. Inconsistent stops all automation.
func (o *Orchestrator) Swap(ctx context.Context, plan *database.MigrationPlan) error {
	if plan.Phase != database.PhaseCutoverActive {
		return &ValidationError{
			Phase:  database.PhaseSwapped,
			Check:  "precondition",
			Detail: fmt.Sprintf("swap requires phase %s, plan is in %s", database.PhaseCutoverActive, plan.Phase),
		}
	}

	result, err := swap.Run(ctx, o.exec, o.catalog, o.dialect, plan)
	for _, line := range result.Report {
		o.logf("%s: %s", plan.Source, line)
	}

	switch result.Outcome {
	case database.SwapBusy:
		return ErrSwapBusy
	case database.SwapSuccess:
		plan.Outcome = database.SwapSuccess
		plan.Phase = database.PhaseSwapped
	case database.SwapCompensatedRollback:
		plan.Outcome = database.SwapCompensatedRollback
	case database.SwapInconsistent:
		plan.Outcome = database.SwapInconsistent
		plan.Phase = database.PhaseFailed
		plan.FailureReason = "swap inconsistent: original name unresolvable, data under backup and replacement names"
	default:
		return err
	}

	if saveErr := o.store.Save(ctx, plan); saveErr != nil {
		return fmt.Errorf("swap outcome %s could not be persisted: %w", result.Outcome, saveErr)
	}
	return err
}

// executeBatch runs statements in order, failing fast on the first error.
func (o *Orchestrator) executeBatch(ctx context.Context, plan *database.MigrationPlan, stmts []database.Statement) error {
	for _, stmt := range stmts {
		o.logf("%s: %s", plan.Source, stmt.Description)
		if _, err := o.exec.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

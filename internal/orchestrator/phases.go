package orchestrator

import (
	"context"
	"fmt"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/cutover"
)

// expectedPartitionCount is the number of direct partitions the replacement
// must show right after creation: the seed partition for range strategies,
// the full hash set for a pure hash strategy.
func expectedPartitionCount(plan *database.MigrationPlan) int {
	switch plan.Strategy.Kind {
	case database.StrategyHash:
		return plan.Strategy.Hash.Count
	case database.StrategyRange, database.StrategyComposite:
		return 1
	}
	return 0
}

func (o *Orchestrator) createTable(ctx context.Context, plan *database.MigrationPlan) error {
	exists, err := o.catalog.ObjectExists(ctx, plan.Source.Schema, plan.Source.Name)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{database.PhaseTableCreated, "precondition",
			fmt.Sprintf("source table %s does not exist", plan.Source)}
	}
	exists, err = o.catalog.ObjectExists(ctx, plan.Replacement.Schema, plan.Replacement.Name)
	if err != nil {
		return err
	}
	if exists {
		return &ValidationError{database.PhaseTableCreated, "precondition",
			fmt.Sprintf("replacement %s already exists; drop it or re-plan with an override", plan.Replacement)}
	}

	stmts, err := o.dialect.CreateTable(plan)
	if err != nil {
		return err
	}
	if err := o.executeBatch(ctx, plan, stmts); err != nil {
		return err
	}

	exists, err = o.catalog.ObjectExists(ctx, plan.Replacement.Schema, plan.Replacement.Name)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{database.PhaseTableCreated, "postcondition",
			fmt.Sprintf("replacement %s is not visible after creation", plan.Replacement)}
	}
	if want := expectedPartitionCount(plan); want > 0 {
		got, err := o.catalog.PartitionCount(ctx, plan.Replacement.Schema, plan.Replacement.Name)
		if err != nil {
			return err
		}
		if got != want {
			return &ValidationError{database.PhaseTableCreated, "postcondition",
				fmt.Sprintf("replacement %s has %d partitions, expected %d", plan.Replacement, got, want)}
		}
	}
	return nil
}

func (o *Orchestrator) loadInitial(ctx context.Context, plan *database.MigrationPlan) error {
	exists, err := o.catalog.ObjectExists(ctx, plan.Replacement.Schema, plan.Replacement.Name)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{database.PhaseDataLoaded, "precondition",
			fmt.Sprintf("replacement %s does not exist", plan.Replacement)}
	}
	sourceRows, err := o.catalog.CountRows(ctx, plan.Source.Schema, plan.Source.Name)
	if err != nil {
		return err
	}

	stmt, err := o.dialect.LoadInitial(plan)
	if err != nil {
		return err
	}
	if err := o.executeBatch(ctx, plan, []database.Statement{stmt}); err != nil {
		return err
	}

	// The source stays live during the load, so an exact count match is
	// not expected here; exact reconciliation is what the delta passes
	// converge on. An empty replacement after loading a non-empty source
	// is still wrong.
	loaded, err := o.catalog.CountRows(ctx, plan.Replacement.Schema, plan.Replacement.Name)
	if err != nil {
		return err
	}
	if sourceRows > 0 && loaded == 0 {
		return &ValidationError{database.PhaseDataLoaded, "postcondition",
			fmt.Sprintf("replacement %s is empty after loading %d source rows", plan.Replacement, sourceRows)}
	}
	return nil
}

func (o *Orchestrator) buildIndexes(ctx context.Context, plan *database.MigrationPlan) error {
	stmts, err := o.dialect.CreateIndexes(plan)
	if err != nil {
		return err
	}
	return o.executeBatch(ctx, plan, stmts)
}

func (o *Orchestrator) gatherStats(ctx context.Context, plan *database.MigrationPlan) error {
	stmt, err := o.dialect.GatherStats(plan)
	if err != nil {
		return err
	}
	return o.executeBatch(ctx, plan, []database.Statement{stmt})
}

func (o *Orchestrator) activateCutover(ctx context.Context, plan *database.MigrationPlan) error {
	stmts, err := cutover.Compose(o.dialect, plan)
	if err != nil {
		return err
	}
	if err := o.executeBatch(ctx, plan, stmts); err != nil {
		return err
	}

	exists, err := o.catalog.ObjectExists(ctx, plan.BridgeView.Schema, plan.BridgeView.Name)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{database.PhaseCutoverActive, "postcondition",
			fmt.Sprintf("bridging view %s is not visible after creation", plan.BridgeView)}
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, plan *database.MigrationPlan) error {
	stmts, err := cutover.Teardown(o.dialect, plan)
	if err != nil {
		return err
	}
	if err := o.executeBatch(ctx, plan, stmts); err != nil {
		return err
	}

	exists, err := o.catalog.ObjectExists(ctx, plan.BridgeView.Schema, plan.BridgeView.Name)
	if err != nil {
		return err
	}
	if exists {
		return &ValidationError{database.PhaseFinalized, "postcondition",
			fmt.Sprintf("bridging view %s still exists after teardown", plan.BridgeView)}
	}
	return nil
}

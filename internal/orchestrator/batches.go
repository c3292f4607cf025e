package orchestrator

import (
	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/cutover"
)

// Batches renders the complete ordered (phase, statement) artifact for a
// plan without executing anything. This is the stable contract other
// tooling consumes for review, audit logging, and dry runs. It is a pure
// function of the plan: rendering twice yields byte-identical output.
func Batches(dialect database.Dialect, plan *database.MigrationPlan) ([]database.PhaseBatch, error) {
	var batches []database.PhaseBatch

	creation, err := dialect.CreateTable(plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseTableCreated, Statements: creation})

	load, err := dialect.LoadInitial(plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseDataLoaded, Statements: []database.Statement{load}})

	indexes, err := dialect.CreateIndexes(plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseIndexed, Statements: indexes})

	stats, err := dialect.GatherStats(plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseStatsGathered, Statements: []database.Statement{stats}})

	keys, err := cutover.DetectPrimaryKey(plan)
	if err != nil {
		return nil, err
	}
	delta, err := dialect.LoadDelta(plan, keys)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseDeltaSynced, Statements: []database.Statement{delta}})

	bridge, err := cutover.Compose(dialect, plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseCutoverActive, Statements: bridge})

	var swapStmts []database.Statement
	for _, target := range []database.TableIdentity{plan.Source, plan.Replacement} {
		lock, err := dialect.LockTableNowait(target)
		if err != nil {
			return nil, err
		}
		swapStmts = append(swapStmts, lock)
	}
	toBackup, err := dialect.RenameTable(plan.Source, plan.Backup)
	if err != nil {
		return nil, err
	}
	toOriginal, err := dialect.RenameTable(plan.Replacement, plan.Source)
	if err != nil {
		return nil, err
	}
	swapStmts = append(swapStmts, toBackup, toOriginal)
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseSwapped, Statements: swapStmts})

	teardown, err := cutover.Teardown(dialect, plan)
	if err != nil {
		return nil, err
	}
	batches = append(batches, database.PhaseBatch{Phase: database.PhaseFinalized, Statements: teardown})

	return batches, nil
}

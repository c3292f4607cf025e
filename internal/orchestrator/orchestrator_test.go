package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/database/postgres"
	"github.com/partshift/partshift/internal/swap"
)

// memStore keeps plans in memory and counts saves so tests can assert that
// every transition was persisted.
type memStore struct {
	plans map[string]*database.MigrationPlan
	saves int
	fail  bool
}

func newMemStore() *memStore {
	return &memStore{plans: map[string]*database.MigrationPlan{}}
}

func (m *memStore) Load(_ context.Context, schema, table string) (*database.MigrationPlan, error) {
	plan, ok := m.plans[schema+"."+table]
	if !ok {
		return nil, fmt.Errorf("no persisted plan for %s.%s", schema, table)
	}
	return plan, nil
}

func (m *memStore) Save(_ context.Context, plan *database.MigrationPlan) error {
	if m.fail {
		return fmt.Errorf("disk full")
	}
	m.saves++
	copied := *plan
	m.plans[plan.Source.Schema+"."+plan.Source.Name] = &copied
	return nil
}

func (m *memStore) List(context.Context) ([]*database.MigrationPlan, error) { return nil, nil }

func (m *memStore) Delete(_ context.Context, schema, table string) error {
	delete(m.plans, schema+"."+table)
	return nil
}

// world is a catalog and executor over one in-memory target. Executing DDL
// mutates the visible objects the way the real target would.
type world struct {
	plan       *database.MigrationPlan
	objects    map[string]bool
	rows       map[string]int64
	partitions int
	deltaQueue []int64
	ran        []database.Statement
	failOn     string

	// loadSilentlyFails makes the initial load report success while copying
	// nothing, which is what a broken anti-join looks like from outside.
	loadSilentlyFails bool
}

func newWorld(plan *database.MigrationPlan) *world {
	return &world{
		plan: plan,
		objects: map[string]bool{
			plan.Source.String(): true,
		},
		rows: map[string]int64{plan.Source.String(): 100},
	}
}

func (w *world) Execute(_ context.Context, stmt database.Statement) (database.ExecResult, error) {
	w.ran = append(w.ran, stmt)
	if w.failOn != "" && strings.Contains(stmt.SQL, w.failOn) {
		return database.ExecResult{}, fmt.Errorf("simulated failure on %q", w.failOn)
	}
	switch stmt.Intent {
	case database.IntentCreateTable:
		w.objects[w.plan.Replacement.String()] = true
	case database.IntentLoadInitial:
		if !w.loadSilentlyFails {
			w.rows[w.plan.Replacement.String()] = w.rows[w.plan.Source.String()]
		}
	case database.IntentLoadDelta:
		if len(w.deltaQueue) == 0 {
			return database.ExecResult{}, nil
		}
		rows := w.deltaQueue[0]
		w.deltaQueue = w.deltaQueue[1:]
		return database.ExecResult{RowsAffected: rows}, nil
	case database.IntentCreateView:
		w.objects[w.plan.BridgeView.String()] = true
	case database.IntentDropObject:
		w.objects[w.plan.BridgeView.String()] = false
	case database.IntentRename:
		if strings.Contains(stmt.SQL, `"`+w.plan.Replacement.Name+`"`) {
			w.objects[w.plan.Replacement.String()] = false
			w.objects[w.plan.Source.String()] = true
		} else {
			w.objects[w.plan.Source.String()] = false
			w.objects[w.plan.Backup.String()] = true
		}
	}
	return database.ExecResult{}, nil
}

func (w *world) GetTableFacts(context.Context, string, string) (*database.TableFacts, error) {
	return nil, fmt.Errorf("not used")
}

func (w *world) ObjectExists(_ context.Context, schema, name string) (bool, error) {
	return w.objects[schema+"."+name], nil
}

func (w *world) PartitionCount(context.Context, string, string) (int, error) {
	return w.partitions, nil
}

func (w *world) CountRows(_ context.Context, schema, name string) (int64, error) {
	return w.rows[schema+"."+name], nil
}

func (w *world) ListInvalidObjects(context.Context, string) ([]database.ObjectRef, error) {
	return nil, nil
}

func testPlan() *database.MigrationPlan {
	return &database.MigrationPlan{
		Dialect:     "postgres",
		Source:      database.TableIdentity{Schema: "app", Name: "orders"},
		Replacement: database.TableIdentity{Schema: "app", Name: "orders_part"},
		Backup:      database.TableIdentity{Schema: "app", Name: "orders_old"},
		BridgeView:  database.TableIdentity{Schema: "app", Name: "orders_xv"},
		Columns: []database.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "created_at", DataType: "timestamp with time zone"},
		},
		Constraints: []database.Constraint{
			{Name: "orders_pkey", Kind: database.ConstraintPrimary, Columns: []string{"id"}},
		},
		Indexes: []database.Index{
			{Name: "orders_created_ix", Columns: []string{"created_at"}},
		},
		Strategy: database.PartitionStrategy{
			Kind:  database.StrategyRange,
			Range: &database.RangeSpec{Column: "created_at", Interval: database.IntervalMonthly},
		},
		SeedBound: "TIMESTAMP '2024-01-01 00:00:00'",
		Phase:     database.PhasePlanned,
	}
}

func newTestOrchestrator(w *world, store *memStore) *Orchestrator {
	return New(postgres.NewDialect(), w, w, store, func(string, ...any) {})
}

func TestRun_AdvancesToDeltaSynced(t *testing.T) {
	plan := testPlan()
	w := newWorld(plan)
	w.partitions = 1
	w.deltaQueue = []int64{0}
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	if err := o.Run(context.Background(), plan, database.PhaseDeltaSynced); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if plan.Phase != database.PhaseDeltaSynced {
		t.Fatalf("Expected phase delta_synced, got %s", plan.Phase)
	}
	if plan.DeltaRounds != 1 {
		t.Errorf("Expected 1 delta round, got %d", plan.DeltaRounds)
	}

	// Every phase transition persisted, plus one save per delta pass.
	saved := store.plans["app.orders"]
	if saved == nil || saved.Phase != database.PhaseDeltaSynced {
		t.Errorf("Persisted plan must reflect the final phase, got %+v", saved)
	}
	if store.saves < 5 {
		t.Errorf("Expected a save per transition, got %d", store.saves)
	}
}

func TestRun_DeltaRepeatsUntilConvergence(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseDeltaSynced
	plan.DeltaRounds = 1
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	w.deltaQueue = []int64{40, 7, 0}
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	if err := o.Run(context.Background(), plan, database.PhaseCutoverActive); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if plan.Phase != database.PhaseCutoverActive {
		t.Fatalf("Expected cutover_active, got %s", plan.Phase)
	}
	// 1 from planning plus 3 passes here.
	if plan.DeltaRounds != 4 {
		t.Errorf("Expected 4 delta rounds total, got %d", plan.DeltaRounds)
	}
	if !w.objects[plan.BridgeView.String()] {
		t.Error("Bridging view must exist after cutover activation")
	}
}

func TestAdvance_FailedPreconditionLeavesPhase(t *testing.T) {
	plan := testPlan()
	w := newWorld(plan)
	delete(w.objects, plan.Source.String())
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	err := o.Advance(context.Background(), plan)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}
	if verr.Check != "precondition" {
		t.Errorf("Expected a precondition failure, got %s", verr.Check)
	}
	if plan.Phase != database.PhasePlanned {
		t.Errorf("Failed phase must not advance, got %s", plan.Phase)
	}
	if store.saves != 0 {
		t.Errorf("Nothing may be persisted on a failed transition, got %d saves", store.saves)
	}
}

func TestAdvance_PartitionCountPostcondition(t *testing.T) {
	plan := testPlan()
	w := newWorld(plan)
	w.partitions = 0
	o := newTestOrchestrator(w, newMemStore())

	err := o.Advance(context.Background(), plan)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}
	if verr.Check != "postcondition" || !strings.Contains(verr.Detail, "partitions") {
		t.Errorf("Expected a partition count postcondition failure, got %v", verr)
	}
}

func TestAdvance_EmptyLoadPostcondition(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseTableCreated
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	w.loadSilentlyFails = true
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	err := o.Advance(context.Background(), plan)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}
	if verr.Check != "postcondition" || !strings.Contains(verr.Detail, "empty") {
		t.Errorf("Expected the empty-replacement postcondition, got %v", verr)
	}
	if plan.Phase != database.PhaseTableCreated {
		t.Errorf("Failed load must not advance the phase, got %s", plan.Phase)
	}
	if store.saves != 0 {
		t.Errorf("Nothing may be persisted on a failed transition, got %d saves", store.saves)
	}
}

func TestAdvance_RefusesFromFailed(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseFailed
	plan.FailureReason = "swap inconsistent"
	o := newTestOrchestrator(newWorld(plan), newMemStore())

	err := o.Advance(context.Background(), plan)
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("Expected ErrHalted, got: %v", err)
	}
}

func TestRun_ResumesFromPersistedPhase(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseIndexed
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	w.deltaQueue = []int64{0}
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	if err := o.Run(context.Background(), plan, database.PhaseDeltaSynced); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if plan.Phase != database.PhaseDeltaSynced {
		t.Fatalf("Expected delta_synced, got %s", plan.Phase)
	}
	for _, stmt := range w.ran {
		if stmt.Intent == database.IntentCreateTable || stmt.Intent == database.IntentLoadInitial {
			t.Errorf("Completed phases must not re-run, saw %s", stmt.Description)
		}
	}
}

func TestRun_StopsAtCutoverActive(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseCutoverActive
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	w.objects[plan.BridgeView.String()] = true
	o := newTestOrchestrator(w, newMemStore())

	err := o.Run(context.Background(), plan, database.PhaseFinalized)
	if !errors.Is(err, ErrSwapRequired) {
		t.Fatalf("Expected ErrSwapRequired, got: %v", err)
	}
	if plan.Phase != database.PhaseCutoverActive {
		t.Errorf("Phase must stay cutover_active, got %s", plan.Phase)
	}
	for _, stmt := range w.ran {
		if stmt.Intent == database.IntentRename || stmt.Intent == database.IntentLockTable {
			t.Errorf("Run must not touch the swap, executed %s", stmt.Description)
		}
	}
	if !w.objects[plan.Source.String()] {
		t.Error("Source table must be untouched")
	}
}

func TestRun_FinalizesAfterSwap(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseCutoverActive
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	w.objects[plan.BridgeView.String()] = true
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	if err := o.Swap(context.Background(), plan); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if err := o.Run(context.Background(), plan, database.PhaseFinalized); err != nil {
		t.Fatalf("Run to finalized failed: %v", err)
	}
	if plan.Phase != database.PhaseFinalized {
		t.Fatalf("Expected finalized, got %s", plan.Phase)
	}
	if w.objects[plan.BridgeView.String()] {
		t.Error("Bridging view must be gone after finalization")
	}
	saved := store.plans["app.orders"]
	if saved == nil || saved.Phase != database.PhaseFinalized {
		t.Errorf("Finalized phase must be persisted, got %+v", saved)
	}
}

func TestSwap_Success(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseCutoverActive
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	store := newMemStore()
	o := newTestOrchestrator(w, store)

	if err := o.Swap(context.Background(), plan); err != nil {
		t.Fatalf("Swap failed: %v", err)
	}
	if plan.Phase != database.PhaseSwapped || plan.Outcome != database.SwapSuccess {
		t.Errorf("Expected swapped/success, got %s/%s", plan.Phase, plan.Outcome)
	}
	saved := store.plans["app.orders"]
	if saved == nil || saved.Outcome != database.SwapSuccess {
		t.Errorf("Swap outcome must be persisted, got %+v", saved)
	}
}

func TestSwap_BusyLeavesPhase(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseCutoverActive
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	busy := &busyExecutor{inner: w}
	o := New(postgres.NewDialect(), w, busy, newMemStore(), func(string, ...any) {})

	err := o.Swap(context.Background(), plan)
	if !errors.Is(err, ErrSwapBusy) {
		t.Fatalf("Expected ErrSwapBusy, got: %v", err)
	}
	if plan.Phase != database.PhaseCutoverActive {
		t.Errorf("A busy swap must not move the phase, got %s", plan.Phase)
	}
}

// busyExecutor fails lock statements with the dialect's busy sentinel.
type busyExecutor struct {
	inner database.Executor
}

func (b *busyExecutor) Execute(ctx context.Context, stmt database.Statement) (database.ExecResult, error) {
	if stmt.Intent == database.IntentLockTable {
		return database.ExecResult{}, fmt.Errorf("lock not available: %w", database.ErrObjectBusy)
	}
	return b.inner.Execute(ctx, stmt)
}

func TestSwap_RequiresCutoverActive(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseIndexed
	o := newTestOrchestrator(newWorld(plan), newMemStore())

	err := o.Swap(context.Background(), plan)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}
	if !strings.Contains(verr.Detail, string(database.PhaseCutoverActive)) {
		t.Errorf("Error should name the required phase, got: %v", verr)
	}
}

func TestSwap_InconsistentHaltsFurtherRuns(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseCutoverActive
	w := newWorld(plan)
	w.objects[plan.Replacement.String()] = true
	store := newMemStore()
	inc := &inconsistentExecutor{inner: w, plan: plan}
	o := New(postgres.NewDialect(), w, inc, store, func(string, ...any) {})

	err := o.Swap(context.Background(), plan)
	if !errors.Is(err, swap.ErrInconsistent) {
		t.Fatalf("Expected ErrInconsistent, got: %v", err)
	}
	if plan.Phase != database.PhaseFailed || plan.Outcome != database.SwapInconsistent {
		t.Errorf("Expected failed/inconsistent, got %s/%s", plan.Phase, plan.Outcome)
	}
	if store.plans["app.orders"] == nil {
		t.Fatal("The inconsistent outcome must be persisted")
	}

	if err := o.Advance(context.Background(), plan); !errors.Is(err, ErrHalted) {
		t.Errorf("Expected ErrHalted after an inconsistent swap, got: %v", err)
	}
}

// inconsistentExecutor fails the second rename and its compensation. The
// first rename moves the original to the backup name and carries neither
// the replacement nor the backup as its subject, so it passes through.
type inconsistentExecutor struct {
	inner database.Executor
	plan  *database.MigrationPlan
}

func (e *inconsistentExecutor) Execute(ctx context.Context, stmt database.Statement) (database.ExecResult, error) {
	if stmt.Intent == database.IntentRename {
		for _, subject := range []string{e.plan.Replacement.Name, e.plan.Backup.Name} {
			if strings.Contains(stmt.SQL, `"`+subject+`" RENAME TO`) {
				return database.ExecResult{}, fmt.Errorf("target unreachable")
			}
		}
	}
	return e.inner.Execute(ctx, stmt)
}

func TestSyncDelta_NeedsPrimaryKey(t *testing.T) {
	plan := testPlan()
	plan.Phase = database.PhaseStatsGathered
	plan.Constraints = nil
	o := newTestOrchestrator(newWorld(plan), newMemStore())

	if _, err := o.SyncDelta(context.Background(), plan); err == nil {
		t.Fatal("Expected delta sync to fail without a primary key")
	}
}

func TestAdvance_PersistFailureReported(t *testing.T) {
	plan := testPlan()
	w := newWorld(plan)
	w.partitions = 1
	store := newMemStore()
	store.fail = true
	o := newTestOrchestrator(w, store)

	err := o.Advance(context.Background(), plan)
	if err == nil || !strings.Contains(err.Error(), "could not be persisted") {
		t.Fatalf("Expected a persistence error, got: %v", err)
	}
}

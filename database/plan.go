package database

import "fmt"

// PhaseState is the orchestrator's position in the migration. Transitions
// are strictly sequential except DeltaSynced, which may repeat.
type PhaseState string

const (
	PhasePlanned       PhaseState = "planned"
	PhaseTableCreated  PhaseState = "table_created"
	PhaseDataLoaded    PhaseState = "data_loaded"
	PhaseIndexed       PhaseState = "indexed"
	PhaseStatsGathered PhaseState = "stats_gathered"
	PhaseDeltaSynced   PhaseState = "delta_synced"
	PhaseCutoverActive PhaseState = "cutover_active"
	PhaseSwapped       PhaseState = "swapped"
	PhaseFinalized     PhaseState = "finalized"
	PhaseFailed        PhaseState = "failed"
)

var phaseSequence = []PhaseState{
	PhasePlanned,
	PhaseTableCreated,
	PhaseDataLoaded,
	PhaseIndexed,
	PhaseStatsGathered,
	PhaseDeltaSynced,
	PhaseCutoverActive,
	PhaseSwapped,
	PhaseFinalized,
}

// PhaseIndex returns the position of p in the sequence, or -1 for Failed
// and unknown states.
func PhaseIndex(p PhaseState) int {
	for i, s := range phaseSequence {
		if s == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase after p, or an error if p is terminal or
// failed. DeltaSynced still advances to CutoverActive here; repeating a
// delta pass is the orchestrator's decision, not a state transition.
func NextPhase(p PhaseState) (PhaseState, error) {
	idx := PhaseIndex(p)
	if idx < 0 {
		return "", fmt.Errorf("no transition out of phase %q", p)
	}
	if idx == len(phaseSequence)-1 {
		return "", fmt.Errorf("phase %q is terminal", p)
	}
	return phaseSequence[idx+1], nil
}

// SwapOutcome is the terminal result of the swap protocol. Inconsistent is
// fatal and must never be retried automatically.
type SwapOutcome string

const (
	SwapSuccess             SwapOutcome = "success"
	SwapBusy                SwapOutcome = "busy"
	SwapCompensatedRollback SwapOutcome = "compensated_rollback"
	SwapInconsistent        SwapOutcome = "inconsistent"
)

// Terminal reports whether the outcome ends the migration's swap attempts.
// Busy is retryable and therefore not terminal.
func (o SwapOutcome) Terminal() bool {
	return o == SwapSuccess || o == SwapInconsistent
}

// StatementIntent tags what a statement is for. The ordered
// (phase, intent, text) list is the stable contract other tooling consumes.
type StatementIntent string

const (
	IntentCreateTable   StatementIntent = "create_table"
	IntentCreateIndex   StatementIntent = "create_index"
	IntentGatherStats   StatementIntent = "gather_stats"
	IntentLoadInitial   StatementIntent = "load_initial"
	IntentLoadDelta     StatementIntent = "load_delta"
	IntentCreateView    StatementIntent = "create_view"
	IntentCreateTrigger StatementIntent = "create_trigger"
	IntentLockTable     StatementIntent = "lock_table"
	IntentRename        StatementIntent = "rename"
	IntentDropObject    StatementIntent = "drop_object"
)

// OperationKind is the closed authorization category for a statement. A
// restricted execution mode gates on this tag, never on string matching.
type OperationKind int

const (
	KindReadOnly OperationKind = iota
	KindMutating
	KindMultiStep
	KindCleanup
)

func (k OperationKind) String() string {
	switch k {
	case KindReadOnly:
		return "read-only"
	case KindMutating:
		return "mutating"
	case KindMultiStep:
		return "multi-step"
	case KindCleanup:
		return "cleanup"
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// Statement is one rendered statement with its tags.
type Statement struct {
	Intent      StatementIntent `json:"intent"`
	Kind        OperationKind   `json:"kind"`
	SQL         string          `json:"sql"`
	Description string          `json:"description"`
}

// PhaseBatch is the ordered statement list that moves a plan into Phase.
type PhaseBatch struct {
	Phase      PhaseState  `json:"phase"`
	Statements []Statement `json:"statements"`
}

// MigrationPlan aggregates everything the orchestrator needs for one run.
// It is created once by the planner and immutable afterwards except for
// Phase, DeltaRounds, Outcome, and FailureReason, which the orchestrator
// persists after every transition.
type MigrationPlan struct {
	Dialect     string        `json:"dialect"`
	Source      TableIdentity `json:"source"`
	Replacement TableIdentity `json:"replacement"`
	Backup      TableIdentity `json:"backup"`
	BridgeView  TableIdentity `json:"bridge_view"`

	Columns       []Column          `json:"columns"`
	Constraints   []Constraint      `json:"constraints"`
	Indexes       []Index           `json:"indexes"`
	Strategy      PartitionStrategy `json:"strategy"`
	LobPlacements []LobPlacement    `json:"lob_placements,omitempty"`
	Storage       Storage           `json:"storage"`
	SeedBound     string            `json:"seed_bound,omitempty"`
	Parallel      int               `json:"parallel"`

	Phase         PhaseState  `json:"phase"`
	DeltaRounds   int         `json:"delta_rounds"`
	Outcome       SwapOutcome `json:"outcome,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

// KeyColumns returns the primary key column list, in declared order, or nil
// when the plan carries no primary key constraint.
func (p *MigrationPlan) KeyColumns() []string {
	for _, c := range p.Constraints {
		if c.Kind == ConstraintPrimary {
			return c.Columns
		}
	}
	return nil
}

// LargeObjectColumns returns the LOB columns in declared order.
func (p *MigrationPlan) LargeObjectColumns() []Column {
	var lobs []Column
	for _, c := range p.Columns {
		if c.IsLargeObject {
			lobs = append(lobs, c)
		}
	}
	return lobs
}

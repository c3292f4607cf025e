// Package database holds the core types shared between the planner, the
// dialect generators, the cutover composer, and the orchestrator, plus the
// interfaces for the external collaborators (catalog reader and statement
// executor). The engine never holds a live connection; everything it does is
// expressed as intent-tagged statement text handed to an Executor.
package database

import (
	"context"

	"github.com/partshift/partshift/internal/ident"
)

// TableIdentity names one object. Both fields must satisfy the identifier
// guard grammar; the planner enforces this before a plan is built.
type TableIdentity struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

func (t TableIdentity) String() string {
	return t.Schema + "." + t.Name
}

// Column describes one source column.
type Column struct {
	Name          string `json:"name"`
	DataType      string `json:"data_type"`
	Nullable      bool   `json:"nullable"`
	IsLargeObject bool   `json:"is_large_object"`
	IsVirtual     bool   `json:"is_virtual"`
}

// ConstraintKind is the closed set of constraint categories the planner
// understands.
type ConstraintKind string

const (
	ConstraintPrimary    ConstraintKind = "primary"
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
)

// Constraint describes one source constraint.
type Constraint struct {
	Name            string         `json:"name"`
	Kind            ConstraintKind `json:"kind"`
	Columns         []string       `json:"columns"`
	ReferencedTable string         `json:"referenced_table,omitempty"`
	Condition       string         `json:"condition,omitempty"`
}

// Index describes a secondary index to be recreated on the replacement.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// IntervalUnit is the granularity of automatic range extension.
type IntervalUnit string

const (
	IntervalDaily   IntervalUnit = "daily"
	IntervalMonthly IntervalUnit = "monthly"
	IntervalYearly  IntervalUnit = "yearly"
)

// StrategyKind tags the partitioning strategy union.
type StrategyKind string

const (
	StrategyNone      StrategyKind = "none"
	StrategyRange     StrategyKind = "range"
	StrategyHash      StrategyKind = "hash"
	StrategyComposite StrategyKind = "composite"
)

// RangeSpec is the range half of a partitioning strategy.
type RangeSpec struct {
	Column   string       `json:"column"`
	Interval IntervalUnit `json:"interval"`
}

// HashSpec is the hash half of a partitioning strategy.
type HashSpec struct {
	Column string `json:"column"`
	Count  int    `json:"count"`
}

// PartitionStrategy is a tagged union: exactly the fields implied by Kind
// are set. Range is set for StrategyRange and StrategyComposite; Hash for
// StrategyHash and StrategyComposite.
type PartitionStrategy struct {
	Kind  StrategyKind `json:"kind"`
	Range *RangeSpec   `json:"range,omitempty"`
	Hash  *HashSpec    `json:"hash,omitempty"`
}

// LobPlacement spreads one large-object column's segments across an ordered
// tablespace rotation.
type LobPlacement struct {
	Column      string   `json:"column"`
	Tablespaces []string `json:"tablespaces"`
}

// Storage carries the physical clauses for the replacement table.
type Storage struct {
	Tablespace string `json:"tablespace,omitempty"`
	Compress   bool   `json:"compress"`
	InitialMB  int    `json:"initial_mb,omitempty"`
}

// TableFacts is what the catalog reader discovers about the source table.
type TableFacts struct {
	Identity        TableIdentity `json:"identity"`
	Columns         []Column      `json:"columns"`
	Constraints     []Constraint  `json:"constraints"`
	Indexes         []Index       `json:"indexes"`
	ApproxSizeBytes int64         `json:"approx_size_bytes"`
	Partitioned     bool          `json:"partitioned"`
}

// ObjectRef names a dependent object reported by the catalog, for example
// an invalidated view or synonym after the swap.
type ObjectRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// CatalogReader is the read-only metadata collaborator. Implementations may
// be backed by a live connection or by a facts file; multiple concurrent
// plans may share one reader.
type CatalogReader interface {
	GetTableFacts(ctx context.Context, schema, name string) (*TableFacts, error)
	ObjectExists(ctx context.Context, schema, name string) (bool, error)
	PartitionCount(ctx context.Context, schema, name string) (int, error)
	CountRows(ctx context.Context, schema, name string) (int64, error)
	ListInvalidObjects(ctx context.Context, schema string) ([]ObjectRef, error)
}

// ExecResult is the executor's report for one statement.
type ExecResult struct {
	RowsAffected int64
}

// Executor runs one statement and reports success or failure. Timeouts and
// retries are the executor's concern, not the engine's.
type Executor interface {
	Execute(ctx context.Context, stmt Statement) (ExecResult, error)
}

// Dialect renders plan content into statement text for one target system.
// Every method is a pure function of its arguments: identical input yields
// byte-identical output.
type Dialect interface {
	// Name returns the dialect name ("oracle", "postgres").
	Name() string

	// Guard returns the identifier guard with this dialect's length bound.
	Guard() ident.Guard

	// CreateTable renders the partitioned replacement table. Clause order
	// is fixed; reordering is a correctness bug on the target system.
	// Dialects with declarative per-partition DDL return one statement per
	// object, in dependency order.
	CreateTable(plan *MigrationPlan) ([]Statement, error)

	// CreateIndexes renders the local index set for the replacement.
	CreateIndexes(plan *MigrationPlan) ([]Statement, error)

	// GatherStats renders the statistics collection call.
	GatherStats(plan *MigrationPlan) (Statement, error)

	// LoadInitial renders the bulk copy from source to replacement.
	LoadInitial(plan *MigrationPlan) (Statement, error)

	// LoadDelta renders one catch-up pass: rows present in the source but
	// absent from the replacement by full primary-key tuple.
	LoadDelta(plan *MigrationPlan, keyColumns []string) (Statement, error)

	// UnionView renders the bridging view: replacement rows plus source
	// rows whose full key tuple is absent from the replacement.
	UnionView(plan *MigrationPlan, keyColumns []string) (Statement, error)

	// InsertRedirectTrigger renders the trigger that routes inserts against
	// the bridging view into the replacement, with every column named.
	// Dialects needing a separate trigger function return both statements.
	InsertRedirectTrigger(plan *MigrationPlan) ([]Statement, error)

	// MutationGuardTriggers renders the update and delete triggers that
	// reject mutation through the bridging view.
	MutationGuardTriggers(plan *MigrationPlan) ([]Statement, error)

	// LockTableNowait renders a non-blocking exclusive lock request.
	LockTableNowait(table TableIdentity) (Statement, error)

	// RenameTable renders a rename within the same schema.
	RenameTable(from, to TableIdentity) (Statement, error)

	// DropView renders removal of the bridging view and its triggers.
	DropView(view TableIdentity) ([]Statement, error)
}

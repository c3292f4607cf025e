// Package oracle renders migration statements for Oracle targets. The
// identifier bound is 30 characters and table creation follows Oracle's
// fixed clause sequence; several clauses are rejected by the server if they
// appear out of order, so the ordering here is load-bearing.
package oracle

import (
	"fmt"
	"strings"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/ident"
	"github.com/partshift/partshift/internal/sqlbuild"
)

// MaxIdentifierLength is the classic Oracle bound. Long-identifier mode
// (128 bytes, 12.2+) is deliberately not assumed.
const MaxIdentifierLength = 30

// Dialect implements database.Dialect for Oracle.
type Dialect struct {
	guard ident.Guard
}

// NewDialect creates an Oracle dialect with the standard identifier guard.
func NewDialect() *Dialect {
	return &Dialect{guard: ident.Guard{MaxLen: MaxIdentifierLength}}
}

func (d *Dialect) Name() string { return "oracle" }

func (d *Dialect) Guard() ident.Guard { return d.guard }

// physicalColumns returns the columns that exist in storage. Virtual
// columns are derived on the source and are not carried to the replacement.
func physicalColumns(plan *database.MigrationPlan) []database.Column {
	cols := make([]database.Column, 0, len(plan.Columns))
	for _, c := range plan.Columns {
		if !c.IsVirtual {
			cols = append(cols, c)
		}
	}
	return cols
}

// CreateTable renders the partitioned replacement table. Clause order:
// columns, compression, tablespace, storage sizing, partition-by, interval,
// subpartition-by, subpartition template (or plain count), seed partition
// bound, row movement.
func (d *Dialect) CreateTable(plan *database.MigrationPlan) ([]database.Statement, error) {
	b := sqlbuild.New(d.guard, "CREATE TABLE")

	b.Clause("CREATE TABLE ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).Clause(" (\n")
	cols := physicalColumns(plan)
	for i, col := range cols {
		b.Clause("  ").Ident(col.Name).Clause(" ").Type(col.DataType)
		if !col.Nullable {
			b.Clause(" NOT NULL")
		}
		if i < len(cols)-1 {
			b.Clause(",")
		}
		b.Clause("\n")
	}
	b.Clause(")")

	if plan.Storage.Compress {
		b.Clause("\nCOMPRESS FOR OLTP")
	}
	if plan.Storage.Tablespace != "" {
		b.Clause("\nTABLESPACE ").Ident(plan.Storage.Tablespace)
	}
	if plan.Storage.InitialMB > 0 {
		b.Clause("\nSTORAGE (INITIAL ").Int(plan.Storage.InitialMB).Clause("M NEXT ").Int(plan.Storage.InitialMB).Clause("M)")
	}

	if err := d.appendPartitionClauses(b, plan); err != nil {
		return nil, err
	}

	sql, err := b.String()
	if err != nil {
		return nil, err
	}
	return []database.Statement{{
		Intent:      database.IntentCreateTable,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Create partitioned table %s", plan.Replacement),
	}}, nil
}

func (d *Dialect) appendPartitionClauses(b *sqlbuild.Builder, plan *database.MigrationPlan) error {
	s := plan.Strategy
	switch s.Kind {
	case database.StrategyNone:
		return nil

	case database.StrategyHash:
		b.Clause("\nPARTITION BY HASH (").Ident(s.Hash.Column).Clause(")")
		b.Clause("\nPARTITIONS ").Int(s.Hash.Count)
		b.Clause("\nENABLE ROW MOVEMENT")
		return nil

	case database.StrategyRange, database.StrategyComposite:
		b.Clause("\nPARTITION BY RANGE (").Ident(s.Range.Column).Clause(")")
		b.Clause("\nINTERVAL (").Clause(intervalExpression(s.Range.Interval)).Clause(")")

		if s.Kind == database.StrategyComposite {
			b.Clause("\nSUBPARTITION BY HASH (").Ident(s.Hash.Column).Clause(")")
			if len(plan.LobPlacements) > 0 {
				d.appendSubpartitionTemplate(b, plan, s.Hash.Count)
			} else {
				b.Clause("\nSUBPARTITIONS ").Int(s.Hash.Count)
			}
		}

		b.Clause("\n(PARTITION ").Ident(seedPartitionName(plan)).Clause(" VALUES LESS THAN (").Bound(plan.SeedBound).Clause("))")
		b.Clause("\nENABLE ROW MOVEMENT")
		return nil
	}
	return fmt.Errorf("unsupported partition strategy %q", s.Kind)
}

// appendSubpartitionTemplate distributes LOB segments across the configured
// tablespace rotation. For subpartition slot i and LOB column j the segment
// lands in rotation[(i+j) mod len(rotation)], so adjacent slots start on
// different tablespaces. Pure function of the plan: no randomness, no clock.
func (d *Dialect) appendSubpartitionTemplate(b *sqlbuild.Builder, plan *database.MigrationPlan, count int) {
	b.Clause("\nSUBPARTITION TEMPLATE (")
	for slot := 0; slot < count; slot++ {
		if slot > 0 {
			b.Clause(",")
		}
		b.Clause("\n  SUBPARTITION ").Ident(fmt.Sprintf("SP%d", slot+1))
		for j, lob := range plan.LobPlacements {
			rotation := lob.Tablespaces
			if len(rotation) == 0 {
				continue
			}
			tablespace := rotation[(slot+j)%len(rotation)]
			b.Clause(" LOB (").Ident(lob.Column).Clause(") STORE AS (TABLESPACE ").Ident(tablespace).Clause(")")
		}
	}
	b.Clause("\n)")
}

func intervalExpression(unit database.IntervalUnit) string {
	switch unit {
	case database.IntervalDaily:
		return "NUMTODSINTERVAL(1, 'DAY')"
	case database.IntervalMonthly:
		return "NUMTOYMINTERVAL(1, 'MONTH')"
	case database.IntervalYearly:
		return "NUMTOYMINTERVAL(1, 'YEAR')"
	}
	return "NUMTOYMINTERVAL(1, 'MONTH')"
}

func seedPartitionName(plan *database.MigrationPlan) string {
	return derivedName(plan.Replacement.Name, "_P0", MaxIdentifierLength)
}

// derivedName appends suffix to base, truncating base so the result stays
// within the identifier bound.
func derivedName(base, suffix string, maxLen int) string {
	if len(base)+len(suffix) > maxLen {
		base = base[:maxLen-len(suffix)]
	}
	return base + suffix
}

// CreateIndexes renders the replacement's index set. Indexes are LOCAL when
// the table is partitioned, and names carry a suffix so they do not collide
// with the source table's indexes while both exist.
func (d *Dialect) CreateIndexes(plan *database.MigrationPlan) ([]database.Statement, error) {
	var stmts []database.Statement
	for _, idx := range plan.Indexes {
		b := sqlbuild.New(d.guard, "CREATE INDEX")
		b.Clause("CREATE ")
		if idx.Unique {
			b.Clause("UNIQUE ")
		}
		name := derivedName(idx.Name, "_P", MaxIdentifierLength)
		b.Clause("INDEX ").Qualified(plan.Replacement.Schema, name).
			Clause(" ON ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
			Clause(" (").IdentList(idx.Columns).Clause(")")
		if plan.Strategy.Kind != database.StrategyNone && !idx.Unique {
			b.Clause(" LOCAL")
		}
		if plan.Parallel > 1 {
			b.Clause(" PARALLEL ").Int(plan.Parallel)
		}
		sql, err := b.String()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, database.Statement{
			Intent:      database.IntentCreateIndex,
			Kind:        database.KindMutating,
			SQL:         sql,
			Description: fmt.Sprintf("Create index %s.%s", plan.Replacement.Schema, name),
		})
	}
	return stmts, nil
}

// GatherStats renders the DBMS_STATS call for the replacement.
func (d *Dialect) GatherStats(plan *database.MigrationPlan) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "GATHER STATS")
	b.Clause("BEGIN\n  DBMS_STATS.GATHER_TABLE_STATS(ownname => '").Bare(plan.Replacement.Schema).
		Clause("', tabname => '").Bare(plan.Replacement.Name).
		Clause("', degree => ").Int(plan.Parallel).
		Clause(", cascade => TRUE);\nEND;")
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentGatherStats,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Gather statistics on %s", plan.Replacement),
	}, nil
}

// LoadInitial renders the bulk copy. APPEND requests direct-path insert and
// PARALLEL carries the plan's parallelism hint; the engine itself never
// spawns concurrent work for the load.
func (d *Dialect) LoadInitial(plan *database.MigrationPlan) (database.Statement, error) {
	cols := physicalColumns(plan)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	b := sqlbuild.New(d.guard, "INITIAL LOAD")
	b.Clause("INSERT /*+ APPEND PARALLEL(")
	b.Int(plan.Parallel)
	b.Clause(") */ INTO ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
		Clause(" (").IdentList(names).Clause(")\nSELECT ").IdentList(names).
		Clause("\nFROM ").Qualified(plan.Source.Schema, plan.Source.Name)
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentLoadInitial,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Bulk load %s from %s", plan.Replacement, plan.Source),
	}, nil
}

// LoadDelta renders one catch-up pass: source rows whose full primary-key
// tuple is absent from the replacement. Every key column participates in
// the correlation, conjunctively.
func (d *Dialect) LoadDelta(plan *database.MigrationPlan, keyColumns []string) (database.Statement, error) {
	cols := physicalColumns(plan)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	b := sqlbuild.New(d.guard, "DELTA LOAD")
	b.Clause("INSERT INTO ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
		Clause(" (").IdentList(names).Clause(")\nSELECT ")
	for i, n := range names {
		if i > 0 {
			b.Clause(", ")
		}
		b.Clause("src.").Ident(n)
	}
	b.Clause("\nFROM ").Qualified(plan.Source.Schema, plan.Source.Name).Clause(" src")
	appendKeyAntiJoin(b, plan, keyColumns, "src")
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentLoadDelta,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Delta load %s from %s", plan.Replacement, plan.Source),
	}, nil
}

// appendKeyAntiJoin emits the NOT EXISTS correlation over the full key
// tuple against the replacement table.
func appendKeyAntiJoin(b *sqlbuild.Builder, plan *database.MigrationPlan, keyColumns []string, outerAlias string) {
	b.Clause("\nWHERE NOT EXISTS (\n  SELECT 1 FROM ").
		Qualified(plan.Replacement.Schema, plan.Replacement.Name).Clause(" tgt\n  WHERE ")
	for i, k := range keyColumns {
		if i > 0 {
			b.Clause(" AND ")
		}
		b.Clause("tgt.").Ident(k).Clause(" = ").Clause(outerAlias + ".").Ident(k)
	}
	b.Clause("\n)")
}

// UnionView renders the bridging view: all replacement rows, plus source
// rows not yet represented in the replacement by full key tuple.
func (d *Dialect) UnionView(plan *database.MigrationPlan, keyColumns []string) (database.Statement, error) {
	cols := physicalColumns(plan)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	b := sqlbuild.New(d.guard, "BRIDGE VIEW")
	b.Clause("CREATE VIEW ").Qualified(plan.BridgeView.Schema, plan.BridgeView.Name).
		Clause(" (").IdentList(names).Clause(") AS\nSELECT ").IdentList(names).
		Clause(" FROM ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
		Clause("\nUNION ALL\nSELECT ")
	for i, n := range names {
		if i > 0 {
			b.Clause(", ")
		}
		b.Clause("src.").Ident(n)
	}
	b.Clause(" FROM ").Qualified(plan.Source.Schema, plan.Source.Name).Clause(" src")
	appendKeyAntiJoin(b, plan, keyColumns, "src")
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentCreateView,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Create bridging view %s", plan.BridgeView),
	}, nil
}

// InsertRedirectTrigger routes inserts against the bridging view into the
// replacement table. The column list is enumerated explicitly; a wildcard
// row reference would silently drift if the view ever changed shape.
func (d *Dialect) InsertRedirectTrigger(plan *database.MigrationPlan) ([]database.Statement, error) {
	cols := physicalColumns(plan)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	triggerName := derivedName(plan.BridgeView.Name, "_INS", MaxIdentifierLength)

	b := sqlbuild.New(d.guard, "INSERT REDIRECT TRIGGER")
	b.Clause("CREATE TRIGGER ").Qualified(plan.BridgeView.Schema, triggerName).
		Clause("\nINSTEAD OF INSERT ON ").Qualified(plan.BridgeView.Schema, plan.BridgeView.Name).
		Clause("\nFOR EACH ROW\nBEGIN\n  INSERT INTO ").
		Qualified(plan.Replacement.Schema, plan.Replacement.Name).
		Clause(" (").IdentList(names).Clause(")\n  VALUES (")
	for i, n := range names {
		if i > 0 {
			b.Clause(", ")
		}
		b.Clause(":NEW.").Ident(n)
	}
	b.Clause(");\nEND;")
	sql, err := b.String()
	if err != nil {
		return nil, err
	}
	return []database.Statement{{
		Intent:      database.IntentCreateTrigger,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Create insert redirect trigger %s.%s", plan.BridgeView.Schema, triggerName),
	}}, nil
}

// MutationGuardError is the application error number raised when update or
// delete is attempted through the bridging view.
const MutationGuardError = -20847

// MutationGuardTriggers reject update and delete through the bridging view.
// Dual-table mutation semantics are ambiguous while old and new data
// coexist, so the triggers fail loudly instead of guessing.
func (d *Dialect) MutationGuardTriggers(plan *database.MigrationPlan) ([]database.Statement, error) {
	var stmts []database.Statement
	for _, op := range []struct {
		event  string
		suffix string
	}{
		{"UPDATE", "_UPD"},
		{"DELETE", "_DEL"},
	} {
		triggerName := derivedName(plan.BridgeView.Name, op.suffix, MaxIdentifierLength)
		b := sqlbuild.New(d.guard, "MUTATION GUARD TRIGGER")
		b.Clause("CREATE TRIGGER ").Qualified(plan.BridgeView.Schema, triggerName).
			Clause("\nINSTEAD OF " + op.event + " ON ").
			Qualified(plan.BridgeView.Schema, plan.BridgeView.Name).
			Clause("\nFOR EACH ROW\nBEGIN\n  RAISE_APPLICATION_ERROR(").
			Int(MutationGuardError).
			Clause(", '" + strings.ToLower(op.event) + " is not supported while the table migration is in progress');\nEND;")
		sql, err := b.String()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, database.Statement{
			Intent:      database.IntentCreateTrigger,
			Kind:        database.KindMutating,
			SQL:         sql,
			Description: fmt.Sprintf("Create %s guard trigger %s.%s", strings.ToLower(op.event), plan.BridgeView.Schema, triggerName),
		})
	}
	return stmts, nil
}

// LockTableNowait renders a non-blocking exclusive lock. NOWAIT fails
// immediately on a busy object, keeping retry policy with the caller.
func (d *Dialect) LockTableNowait(table database.TableIdentity) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "LOCK TABLE")
	b.Clause("LOCK TABLE ").Qualified(table.Schema, table.Name).Clause(" IN EXCLUSIVE MODE NOWAIT")
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentLockTable,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Lock %s (nowait)", table),
	}, nil
}

// RenameTable renders a same-schema rename. The rename commits on its own;
// it cannot be made part of a larger transaction.
func (d *Dialect) RenameTable(from, to database.TableIdentity) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "RENAME TABLE")
	b.Clause("ALTER TABLE ").Qualified(from.Schema, from.Name).Clause(" RENAME TO ").Ident(to.Name)
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentRename,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Rename %s to %s", from, to.Name),
	}, nil
}

// DropView removes the bridging view. Oracle drops INSTEAD OF triggers
// together with the view.
func (d *Dialect) DropView(view database.TableIdentity) ([]database.Statement, error) {
	b := sqlbuild.New(d.guard, "DROP VIEW")
	b.Clause("DROP VIEW ").Qualified(view.Schema, view.Name)
	sql, err := b.String()
	if err != nil {
		return nil, err
	}
	return []database.Statement{{
		Intent:      database.IntentDropObject,
		Kind:        database.KindCleanup,
		SQL:         sql,
		Description: fmt.Sprintf("Drop bridging view %s", view),
	}}, nil
}

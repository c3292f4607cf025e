// Package postgres renders migration statements for PostgreSQL targets
// using declarative partitioning. PostgreSQL has no interval extension or
// subpartition template, so range partitions are materialized as explicit
// child tables seeded from the plan's boundary, and the LOB tablespace
// rotation is applied to leaf partitions (TOAST data follows the table's
// tablespace).
package postgres

import (
	"fmt"
	"strings"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/ident"
	"github.com/partshift/partshift/internal/sqlbuild"
)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN-1 bound.
const MaxIdentifierLength = 63

// Dialect implements database.Dialect for PostgreSQL.
type Dialect struct {
	guard ident.Guard
}

// NewDialect creates a PostgreSQL dialect with the standard identifier guard.
func NewDialect() *Dialect {
	return &Dialect{guard: ident.Guard{MaxLen: MaxIdentifierLength}}
}

func (d *Dialect) Name() string { return "postgres" }

func (d *Dialect) Guard() ident.Guard { return d.guard }

func physicalColumns(plan *database.MigrationPlan) []database.Column {
	cols := make([]database.Column, 0, len(plan.Columns))
	for _, c := range plan.Columns {
		if !c.IsVirtual {
			cols = append(cols, c)
		}
	}
	return cols
}

func derivedName(base, suffix string, maxLen int) string {
	if len(base)+len(suffix) > maxLen {
		base = base[:maxLen-len(suffix)]
	}
	return base + suffix
}

// leafTablespace returns the tablespace for leaf slot (partition, sub) from
// the first configured rotation, or "" when no rotation is configured. Same
// phase-offset rule as the Oracle template: adjacent slots start on
// different tablespaces, and the assignment is a pure function of the plan.
func leafTablespace(plan *database.MigrationPlan, partition, sub int) string {
	if len(plan.LobPlacements) == 0 {
		return ""
	}
	rotation := plan.LobPlacements[0].Tablespaces
	if len(rotation) == 0 {
		return ""
	}
	return rotation[(partition+sub)%len(rotation)]
}

// CreateTable renders the partitioned parent and its seed children, in
// dependency order: parent, then the seed range partition, then hash leaf
// partitions when the strategy is composite.
func (d *Dialect) CreateTable(plan *database.MigrationPlan) ([]database.Statement, error) {
	var stmts []database.Statement

	parent := sqlbuild.New(d.guard, "CREATE TABLE")
	parent.Clause("CREATE TABLE ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).Clause(" (\n")
	cols := physicalColumns(plan)
	for i, col := range cols {
		parent.Clause("  ").Ident(col.Name).Clause(" ").Type(col.DataType)
		if !col.Nullable {
			parent.Clause(" NOT NULL")
		}
		if i < len(cols)-1 {
			parent.Clause(",")
		}
		parent.Clause("\n")
	}
	parent.Clause(")")

	s := plan.Strategy
	switch s.Kind {
	case database.StrategyNone:
	case database.StrategyRange, database.StrategyComposite:
		parent.Clause("\nPARTITION BY RANGE (").Ident(s.Range.Column).Clause(")")
	case database.StrategyHash:
		parent.Clause("\nPARTITION BY HASH (").Ident(s.Hash.Column).Clause(")")
	default:
		return nil, fmt.Errorf("unsupported partition strategy %q", s.Kind)
	}
	if plan.Storage.Tablespace != "" {
		parent.Clause("\nTABLESPACE ").Ident(plan.Storage.Tablespace)
	}
	sql, err := parent.String()
	if err != nil {
		return nil, err
	}
	stmts = append(stmts, database.Statement{
		Intent:      database.IntentCreateTable,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Create partitioned table %s", plan.Replacement),
	})

	switch s.Kind {
	case database.StrategyNone:
		return stmts, nil

	case database.StrategyHash:
		for i := 0; i < s.Hash.Count; i++ {
			child, err := d.hashChild(plan, plan.Replacement.Name, derivedName(plan.Replacement.Name, fmt.Sprintf("_h%d", i), MaxIdentifierLength), s.Hash.Count, i, leafTablespace(plan, 0, i))
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, child)
		}
		return stmts, nil

	case database.StrategyRange, database.StrategyComposite:
		seedName := derivedName(plan.Replacement.Name, "_p0", MaxIdentifierLength)
		seed := sqlbuild.New(d.guard, "SEED PARTITION")
		seed.Clause("CREATE TABLE ").Qualified(plan.Replacement.Schema, seedName).
			Clause(" PARTITION OF ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
			Clause(" FOR VALUES FROM (MINVALUE) TO (").Bound(plan.SeedBound).Clause(")")
		if s.Kind == database.StrategyComposite {
			seed.Clause(" PARTITION BY HASH (").Ident(s.Hash.Column).Clause(")")
		} else if ts := leafTablespace(plan, 0, 0); ts != "" {
			seed.Clause(" TABLESPACE ").Ident(ts)
		}
		sql, err := seed.String()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, database.Statement{
			Intent:      database.IntentCreateTable,
			Kind:        database.KindMutating,
			SQL:         sql,
			Description: fmt.Sprintf("Create seed partition %s.%s", plan.Replacement.Schema, seedName),
		})

		if s.Kind == database.StrategyComposite {
			for i := 0; i < s.Hash.Count; i++ {
				child, err := d.hashChild(plan, seedName, derivedName(seedName, fmt.Sprintf("_s%d", i), MaxIdentifierLength), s.Hash.Count, i, leafTablespace(plan, 0, i))
				if err != nil {
					return nil, err
				}
				stmts = append(stmts, child)
			}
		}
		return stmts, nil
	}
	return stmts, nil
}

func (d *Dialect) hashChild(plan *database.MigrationPlan, parentName, childName string, modulus, remainder int, tablespace string) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "HASH PARTITION")
	b.Clause("CREATE TABLE ").Qualified(plan.Replacement.Schema, childName).
		Clause(" PARTITION OF ").Qualified(plan.Replacement.Schema, parentName).
		Clause(" FOR VALUES WITH (MODULUS ").Int(modulus).Clause(", REMAINDER ").Int(remainder).Clause(")")
	if tablespace != "" {
		b.Clause(" TABLESPACE ").Ident(tablespace)
	}
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentCreateTable,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Create hash partition %s.%s", plan.Replacement.Schema, childName),
	}, nil
}

// CreateIndexes renders the replacement's index set. Parent-table indexes
// cascade to partitions automatically.
func (d *Dialect) CreateIndexes(plan *database.MigrationPlan) ([]database.Statement, error) {
	var stmts []database.Statement
	for _, idx := range plan.Indexes {
		name := derivedName(idx.Name, "_p", MaxIdentifierLength)
		b := sqlbuild.New(d.guard, "CREATE INDEX")
		b.Clause("CREATE ")
		if idx.Unique {
			b.Clause("UNIQUE ")
		}
		b.Clause("INDEX ").Ident(name).
			Clause(" ON ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
			Clause(" (").IdentList(idx.Columns).Clause(")")
		sql, err := b.String()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, database.Statement{
			Intent:      database.IntentCreateIndex,
			Kind:        database.KindMutating,
			SQL:         sql,
			Description: fmt.Sprintf("Create index %s on %s", name, plan.Replacement),
		})
	}
	return stmts, nil
}

// GatherStats renders ANALYZE for the replacement.
func (d *Dialect) GatherStats(plan *database.MigrationPlan) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "ANALYZE")
	b.Clause("ANALYZE ").Qualified(plan.Replacement.Schema, plan.Replacement.Name)
	sql, err := b.String()
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		Intent:      database.IntentGatherStats,
		Kind:        database.KindMutating,
		SQL:         sql,
		Description: fmt.Sprintf("Analyze %s", plan.Replacement),
	}, nil
}

// LoadInitial renders the bulk copy.
func (d *Dialect) LoadInitial(plan *database.MigrationPlan) (database.Statement, error) {
	names := columnNames(plan)
	b := sqlbuild.New(d.guard, "INITIAL LOAD")
	b.Clause("INSERT INTO ").Qualified(plan.Replacement.Schema, plan.Replacement.Name).
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

func columnNames(plan *database.MigrationPlan) []string {
	cols := physicalColumns(plan)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// LoadDelta renders one catch-up pass over the full primary-key tuple.
func (d *Dialect) LoadDelta(plan *database.MigrationPlan, keyColumns []string) (database.Statement, error) {
	names := columnNames(plan)
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

// UnionView renders the bridging view.
func (d *Dialect) UnionView(plan *database.MigrationPlan, keyColumns []string) (database.Statement, error) {
	names := columnNames(plan)
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

// InsertRedirectTrigger renders the trigger function and the INSTEAD OF
// trigger routing inserts into the replacement, with every column named.
func (d *Dialect) InsertRedirectTrigger(plan *database.MigrationPlan) ([]database.Statement, error) {
	names := columnNames(plan)
	funcName := derivedName(plan.BridgeView.Name, "_ins_fn", MaxIdentifierLength)
	triggerName := derivedName(plan.BridgeView.Name, "_ins", MaxIdentifierLength)

	fn := sqlbuild.New(d.guard, "INSERT REDIRECT FUNCTION")
	fn.Clause("CREATE FUNCTION ").Qualified(plan.BridgeView.Schema, funcName).
		Clause("() RETURNS trigger AS $$\nBEGIN\n  INSERT INTO ").
		Qualified(plan.Replacement.Schema, plan.Replacement.Name).
		Clause(" (").IdentList(names).Clause(")\n  VALUES (")
	for i, n := range names {
		if i > 0 {
			fn.Clause(", ")
		}
		fn.Clause("NEW.").Ident(n)
	}
	fn.Clause(");\n  RETURN NEW;\nEND;\n$$ LANGUAGE plpgsql")
	fnSQL, err := fn.String()
	if err != nil {
		return nil, err
	}

	trg := sqlbuild.New(d.guard, "INSERT REDIRECT TRIGGER")
	trg.Clause("CREATE TRIGGER ").Ident(triggerName).
		Clause("\nINSTEAD OF INSERT ON ").Qualified(plan.BridgeView.Schema, plan.BridgeView.Name).
		Clause("\nFOR EACH ROW EXECUTE FUNCTION ").Qualified(plan.BridgeView.Schema, funcName).Clause("()")
	trgSQL, err := trg.String()
	if err != nil {
		return nil, err
	}

	return []database.Statement{
		{
			Intent:      database.IntentCreateTrigger,
			Kind:        database.KindMutating,
			SQL:         fnSQL,
			Description: fmt.Sprintf("Create insert redirect function %s.%s", plan.BridgeView.Schema, funcName),
		},
		{
			Intent:      database.IntentCreateTrigger,
			Kind:        database.KindMutating,
			SQL:         trgSQL,
			Description: fmt.Sprintf("Create insert redirect trigger %s on %s", triggerName, plan.BridgeView),
		},
	}, nil
}

// MutationGuardErrcode is the SQLSTATE raised when update or delete is
// attempted through the bridging view (55006: object in use).
const MutationGuardErrcode = "55006"

// MutationGuardTriggers reject update and delete through the bridging view.
func (d *Dialect) MutationGuardTriggers(plan *database.MigrationPlan) ([]database.Statement, error) {
	var stmts []database.Statement
	for _, op := range []struct {
		event  string
		suffix string
	}{
		{"UPDATE", "_upd"},
		{"DELETE", "_del"},
	} {
		funcName := derivedName(plan.BridgeView.Name, op.suffix+"_fn", MaxIdentifierLength)
		triggerName := derivedName(plan.BridgeView.Name, op.suffix, MaxIdentifierLength)

		fn := sqlbuild.New(d.guard, "MUTATION GUARD FUNCTION")
		fn.Clause("CREATE FUNCTION ").Qualified(plan.BridgeView.Schema, funcName).
			Clause("() RETURNS trigger AS $$\nBEGIN\n  RAISE EXCEPTION '" +
				strings.ToLower(op.event) + " is not supported while the table migration is in progress' USING ERRCODE = '" +
				MutationGuardErrcode + "';\nEND;\n$$ LANGUAGE plpgsql")
		fnSQL, err := fn.String()
		if err != nil {
			return nil, err
		}

		trg := sqlbuild.New(d.guard, "MUTATION GUARD TRIGGER")
		trg.Clause("CREATE TRIGGER ").Ident(triggerName).
			Clause("\nINSTEAD OF " + op.event + " ON ").Qualified(plan.BridgeView.Schema, plan.BridgeView.Name).
			Clause("\nFOR EACH ROW EXECUTE FUNCTION ").Qualified(plan.BridgeView.Schema, funcName).Clause("()")
		trgSQL, err := trg.String()
		if err != nil {
			return nil, err
		}

		stmts = append(stmts,
			database.Statement{
				Intent:      database.IntentCreateTrigger,
				Kind:        database.KindMutating,
				SQL:         fnSQL,
				Description: fmt.Sprintf("Create %s guard function %s.%s", strings.ToLower(op.event), plan.BridgeView.Schema, funcName),
			},
			database.Statement{
				Intent:      database.IntentCreateTrigger,
				Kind:        database.KindMutating,
				SQL:         trgSQL,
				Description: fmt.Sprintf("Create %s guard trigger %s on %s", strings.ToLower(op.event), triggerName, plan.BridgeView),
			},
		)
	}
	return stmts, nil
}

// LockTableNowait renders a non-blocking exclusive lock.
func (d *Dialect) LockTableNowait(table database.TableIdentity) (database.Statement, error) {
	b := sqlbuild.New(d.guard, "LOCK TABLE")
	b.Clause("LOCK TABLE ").Qualified(table.Schema, table.Name).Clause(" IN ACCESS EXCLUSIVE MODE NOWAIT")
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

// RenameTable renders a same-schema rename.
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

// DropView removes the bridging view, its triggers (dropped with the view),
// and the trigger functions derived from the view name.
func (d *Dialect) DropView(view database.TableIdentity) ([]database.Statement, error) {
	var stmts []database.Statement
	b := sqlbuild.New(d.guard, "DROP VIEW")
	b.Clause("DROP VIEW ").Qualified(view.Schema, view.Name)
	sql, err := b.String()
	if err != nil {
		return nil, err
	}
	stmts = append(stmts, database.Statement{
		Intent:      database.IntentDropObject,
		Kind:        database.KindCleanup,
		SQL:         sql,
		Description: fmt.Sprintf("Drop bridging view %s", view),
	})
	for _, suffix := range []string{"_ins_fn", "_upd_fn", "_del_fn"} {
		funcName := derivedName(view.Name, suffix, MaxIdentifierLength)
		fb := sqlbuild.New(d.guard, "DROP FUNCTION")
		fb.Clause("DROP FUNCTION ").Qualified(view.Schema, funcName).Clause("()")
		fnSQL, err := fb.String()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, database.Statement{
			Intent:      database.IntentDropObject,
			Kind:        database.KindCleanup,
			SQL:         fnSQL,
			Description: fmt.Sprintf("Drop trigger function %s.%s", view.Schema, funcName),
		})
	}
	return stmts, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/ident"
)

// Catalog implements database.CatalogReader over a live PostgreSQL
// connection. It is read-only and safe to share between concurrent plans.
type Catalog struct {
	db *sql.DB
}

// NewCatalog wraps an open connection pool.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// GetTableFacts reads columns, constraints, indexes, and the approximate
// size of one table.
func (c *Catalog) GetTableFacts(ctx context.Context, schema, name string) (*database.TableFacts, error) {
	facts := &database.TableFacts{
		Identity: database.TableIdentity{Schema: schema, Name: name},
	}

	columns, err := c.getColumns(ctx, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for %s.%s: %w", schema, name, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, name)
	}
	facts.Columns = columns

	constraints, err := c.getConstraints(ctx, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get constraints for %s.%s: %w", schema, name, err)
	}
	facts.Constraints = constraints

	indexes, err := c.getIndexes(ctx, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes for %s.%s: %w", schema, name, err)
	}
	facts.Indexes = indexes

	err = c.db.QueryRowContext(ctx,
		`SELECT pg_total_relation_size(format('%I.%I', $1::text, $2::text)::regclass)`,
		schema, name).Scan(&facts.ApproxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get size of %s.%s: %w", schema, name, err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_partitioned_table pt
			JOIN pg_class cl ON cl.oid = pt.partrelid
			JOIN pg_namespace ns ON ns.oid = cl.relnamespace
			WHERE ns.nspname = $1 AND cl.relname = $2
		)`, schema, name).Scan(&facts.Partitioned)
	if err != nil {
		return nil, fmt.Errorf("failed to check partitioning of %s.%s: %w", schema, name, err)
	}

	return facts, nil
}

func (c *Catalog) getColumns(ctx context.Context, schema, name string) ([]database.Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			t.typname IN ('bytea', 'text', 'xml', 'jsonb') AND a.attlen = -1 AND a.atttypmod = -1,
			a.attgenerated <> ''
		FROM pg_attribute a
		JOIN pg_type t ON t.oid = a.atttypid
		JOIN pg_class cl ON cl.oid = a.attrelid
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		WHERE ns.nspname = $1 AND cl.relname = $2
		AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, schema, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	for rows.Next() {
		var col database.Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.IsLargeObject, &col.IsVirtual); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (c *Catalog) getConstraints(ctx context.Context, schema, name string) ([]database.Constraint, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			con.conname,
			con.contype,
			COALESCE(ref.relname, ''),
			ARRAY(
				SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_constraint con
		JOIN pg_class cl ON cl.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		LEFT JOIN pg_class ref ON ref.oid = con.confrelid
		WHERE ns.nspname = $1 AND cl.relname = $2
		AND con.contype IN ('p', 'u', 'f', 'c')
		ORDER BY con.conname
	`, schema, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var constraints []database.Constraint
	for rows.Next() {
		var (
			con     database.Constraint
			contype string
			ref     string
			cols    []byte
		)
		if err := rows.Scan(&con.Name, &contype, &ref, &cols); err != nil {
			return nil, err
		}
		switch contype {
		case "p":
			con.Kind = database.ConstraintPrimary
		case "u":
			con.Kind = database.ConstraintUnique
		case "f":
			con.Kind = database.ConstraintForeignKey
			con.ReferencedTable = ref
		case "c":
			con.Kind = database.ConstraintCheck
		}
		con.Columns = parseTextArray(string(cols))
		constraints = append(constraints, con)
	}
	return constraints, rows.Err()
}

func (c *Catalog) getIndexes(ctx context.Context, schema, name string) ([]database.Index, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			ic.relname,
			ix.indisunique,
			ARRAY(
				SELECT a.attname FROM unnest(ix.indkey) WITH ORDINALITY k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_index ix
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_class tc ON tc.oid = ix.indrelid
		JOIN pg_namespace ns ON ns.oid = tc.relnamespace
		WHERE ns.nspname = $1 AND tc.relname = $2
		AND NOT ix.indisprimary
		ORDER BY ic.relname
	`, schema, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var indexes []database.Index
	for rows.Next() {
		var (
			idx  database.Index
			cols []byte
		)
		if err := rows.Scan(&idx.Name, &idx.Unique, &cols); err != nil {
			return nil, err
		}
		idx.Columns = parseTextArray(string(cols))
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// parseTextArray decodes a one-dimensional PostgreSQL text array of plain
// identifiers ({a,b,c}). Identifier-grammar names never need quoting or
// escaping inside the array literal.
func parseTextArray(raw string) []string {
	if len(raw) < 2 || raw == "{}" {
		return nil
	}
	inner := raw[1 : len(raw)-1]
	if inner == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(inner); i++ {
		if i == len(inner) || inner[i] == ',' {
			out = append(out, inner[start:i])
			start = i + 1
		}
	}
	return out
}

// ObjectExists reports whether any relation with the name exists in the
// schema.
func (c *Catalog) ObjectExists(ctx context.Context, schema, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class cl
			JOIN pg_namespace ns ON ns.oid = cl.relnamespace
			WHERE ns.nspname = $1 AND cl.relname = $2
		)`, schema, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s.%s: %w", schema, name, err)
	}
	return exists, nil
}

// PartitionCount returns the number of direct partitions of the table.
func (c *Catalog) PartitionCount(ctx context.Context, schema, name string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*) FROM pg_inherits i
		JOIN pg_class p ON p.oid = i.inhparent
		JOIN pg_namespace ns ON ns.oid = p.relnamespace
		WHERE ns.nspname = $1 AND p.relname = $2
	`, schema, name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count partitions of %s.%s: %w", schema, name, err)
	}
	return count, nil
}

// CountRows returns an exact row count. Exact counts are part of the phase
// postconditions, so the estimate in pg_class is not enough here. The name
// is interpolated, so it goes through the identifier guard first.
func (c *Catalog) CountRows(ctx context.Context, schema, name string) (int64, error) {
	qualified, err := (ident.Guard{MaxLen: MaxIdentifierLength}).Qualify(schema, name)
	if err != nil {
		return 0, err
	}
	var count int64
	err = c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+qualified).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows in %s.%s: %w", schema, name, err)
	}
	return count, nil
}

// ListInvalidObjects enumerates dependent objects left broken in the
// schema. PostgreSQL has no invalid-object state like Oracle's, so this
// reports views whose dependencies no longer resolve.
func (c *Catalog) ListInvalidObjects(ctx context.Context, schema string) ([]database.ObjectRef, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT ns.nspname, cl.relname, 'view'
		FROM pg_class cl
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		WHERE ns.nspname = $1 AND cl.relkind = 'v'
		AND NOT EXISTS (
			SELECT 1 FROM pg_depend d WHERE d.objid = cl.oid
		)
		ORDER BY cl.relname
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list invalid objects in %s: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	var refs []database.ObjectRef
	for rows.Next() {
		var ref database.ObjectRef
		if err := rows.Scan(&ref.Schema, &ref.Name, &ref.Type); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

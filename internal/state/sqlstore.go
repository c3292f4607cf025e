package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/partshift/partshift/database"
)

// SQLStore persists plans in a partshift_state table through database/sql.
// The driver is chosen from the DSN scheme, so the same store works against
// PostgreSQL, a local SQLite file, or a libsql server.
type SQLStore struct {
	db          *sql.DB
	placeholder func(int) string
}

// DetectDriver maps a state DSN to a registered database/sql driver name.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return "libsql"
	default:
		return "sqlite"
	}
}

// OpenSQLStore opens the DSN with the detected driver and bootstraps the
// state table. The caller registers drivers by importing them; main.go
// blank-imports lib/pq, modernc sqlite, and the libsql client.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	driver := DetectDriver(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	store := &SQLStore{db: db, placeholder: placeholderFunc(driver)}
	if err := store.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func placeholderFunc(driver string) func(int) string {
	if driver == "postgres" {
		return func(n int) string { return fmt.Sprintf("$%d", n) }
	}
	return func(int) string { return "?" }
}

func (s *SQLStore) bootstrap(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS partshift_state (
			schema_name TEXT NOT NULL,
			table_name  TEXT NOT NULL,
			plan        TEXT NOT NULL,
			phase       TEXT NOT NULL,
			outcome     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (schema_name, table_name)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted plan for (schema, table), or ErrNotFound.
func (s *SQLStore) Load(ctx context.Context, schema, table string) (*database.MigrationPlan, error) {
	query := fmt.Sprintf(
		`SELECT plan FROM partshift_state WHERE schema_name = %s AND table_name = %s`,
		s.placeholder(1), s.placeholder(2))
	var raw string
	err := s.db.QueryRowContext(ctx, query, schema, table).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w for %s.%s", ErrNotFound, schema, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan for %s.%s: %w", schema, table, err)
	}
	var plan database.MigrationPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse persisted plan for %s.%s: %w", schema, table, err)
	}
	return &plan, nil
}

// Save upserts the plan under its source identity. Phase and outcome are
// duplicated into their own columns so operators can query progress without
// unpacking the JSON.
func (s *SQLStore) Save(ctx context.Context, plan *database.MigrationPlan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO partshift_state (schema_name, table_name, plan, phase, outcome)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (schema_name, table_name)
		DO UPDATE SET plan = excluded.plan, phase = excluded.phase, outcome = excluded.outcome`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	_, err = s.db.ExecContext(ctx, query,
		plan.Source.Schema, plan.Source.Name, string(raw), string(plan.Phase), string(plan.Outcome))
	if err != nil {
		return fmt.Errorf("failed to save plan for %s: %w", plan.Source, err)
	}
	return nil
}

// List returns all persisted plans ordered by schema and table.
func (s *SQLStore) List(ctx context.Context) ([]*database.MigrationPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan FROM partshift_state ORDER BY schema_name, table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*database.MigrationPlan
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var plan database.MigrationPlan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return nil, fmt.Errorf("failed to parse persisted plan: %w", err)
		}
		plans = append(plans, &plan)
	}
	return plans, rows.Err()
}

// Delete removes the plan for (schema, table), if present.
func (s *SQLStore) Delete(ctx context.Context, schema, table string) error {
	query := fmt.Sprintf(
		`DELETE FROM partshift_state WHERE schema_name = %s AND table_name = %s`,
		s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, schema, table); err != nil {
		return fmt.Errorf("failed to delete plan for %s.%s: %w", schema, table, err)
	}
	return nil
}

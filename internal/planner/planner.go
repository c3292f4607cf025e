// Package planner converts discovered table facts and user configuration
// into a validated migration plan. Planning never emits statement text; it
// either produces a complete plan or a list of planning errors the user can
// fix by editing configuration and re-planning.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/ident"
)

// PlanningError is one recoverable problem found during planning.
type PlanningError struct {
	Code   string
	Detail string
}

func (e PlanningError) Error() string {
	return e.Code + ": " + e.Detail
}

// Planning error codes.
const (
	CodeInvalidIdentifier        = "invalid_identifier"
	CodePartitionColumnNotFound  = "partition_column_not_found"
	CodeHashColumnNotFound       = "hash_column_not_found"
	CodeIncompatiblePartitionKey = "incompatible_partition_key"
	CodeNamingCollision          = "naming_collision"
	CodeMissingSeedBound         = "missing_seed_bound"
	CodeNoStrategy               = "no_strategy"
	CodeAlreadyPartitioned       = "already_partitioned"
)

// Request is the user's target configuration for one table.
type Request struct {
	// PartitionColumn selects range partitioning when set.
	PartitionColumn string
	// Interval is the range granularity; defaults to monthly.
	Interval database.IntervalUnit
	// HashColumn selects hash (sub)partitioning when set.
	HashColumn string
	// HashCount overrides the sizing heuristic when > 0.
	HashCount int
	// Parallel overrides the sizing heuristic when > 0.
	Parallel int
	// SeedBound is the first range partition's upper boundary, required for
	// range strategies. Typically copied from an existing partition
	// boundary or the oldest data in the table.
	SeedBound string
	// LobTablespaces is the tablespace rotation for large-object segments.
	LobTablespaces []string
	// Tablespace is the replacement's primary storage location.
	Tablespace string
	// Compress enables table compression.
	Compress bool
	// ReplacementName, BackupName, and BridgeName override the derived
	// object names.
	ReplacementName string
	BackupName      string
	BridgeName      string
	// Overwrite permits derived names that already exist in the schema.
	Overwrite bool
}

// Build validates the request against the table facts and produces a plan.
// Catalog access failures come back as the error return; everything the
// user can fix comes back in the PlanningError list, and the plan is nil
// whenever that list is non-empty.
func Build(ctx context.Context, catalog database.CatalogReader, dialect database.Dialect, facts *database.TableFacts, req Request) (*database.MigrationPlan, []PlanningError, error) {
	guard := dialect.Guard()
	var errs []PlanningError

	if _, err := guard.Validate(facts.Identity.Schema); err != nil {
		errs = append(errs, PlanningError{CodeInvalidIdentifier, err.Error()})
	}
	if _, err := guard.Validate(facts.Identity.Name); err != nil {
		errs = append(errs, PlanningError{CodeInvalidIdentifier, err.Error()})
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	if facts.Partitioned {
		errs = append(errs, PlanningError{CodeAlreadyPartitioned,
			fmt.Sprintf("table %s is already partitioned", facts.Identity)})
	}

	strategy, strategyErrs := buildStrategy(facts, req)
	errs = append(errs, strategyErrs...)

	names, nameErrs := deriveNames(guard, facts.Identity, req)
	errs = append(errs, nameErrs...)

	if !req.Overwrite && len(nameErrs) == 0 {
		collisions, err := checkCollisions(ctx, catalog, names)
		if err != nil {
			return nil, nil, err
		}
		errs = append(errs, collisions...)
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	subparts, parallel := Recommend(facts.ApproxSizeBytes)
	if req.HashCount > 0 {
		subparts = req.HashCount
	}
	if strategy.Hash != nil {
		strategy.Hash.Count = subparts
	}
	if req.Parallel > 0 {
		parallel = req.Parallel
	}

	plan := &database.MigrationPlan{
		Dialect:     dialect.Name(),
		Source:      facts.Identity,
		Replacement: names.replacement,
		Backup:      names.backup,
		BridgeView:  names.bridge,
		Columns:     append([]database.Column(nil), facts.Columns...),
		Constraints: append([]database.Constraint(nil), facts.Constraints...),
		Indexes:     append([]database.Index(nil), facts.Indexes...),
		Strategy:    strategy,
		Storage: database.Storage{
			Tablespace: req.Tablespace,
			Compress:   req.Compress,
		},
		SeedBound: req.SeedBound,
		Parallel:  parallel,
		Phase:     database.PhasePlanned,
	}

	for _, col := range facts.Columns {
		if col.IsLargeObject && len(req.LobTablespaces) > 0 {
			plan.LobPlacements = append(plan.LobPlacements, database.LobPlacement{
				Column:      col.Name,
				Tablespaces: append([]string(nil), req.LobTablespaces...),
			})
		}
	}

	return plan, nil, nil
}

func buildStrategy(facts *database.TableFacts, req Request) (database.PartitionStrategy, []PlanningError) {
	var errs []PlanningError
	strategy := database.PartitionStrategy{Kind: database.StrategyNone}

	hasRange := req.PartitionColumn != ""
	hasHash := req.HashColumn != ""

	if !hasRange && !hasHash {
		errs = append(errs, PlanningError{CodeNoStrategy,
			"no partition column or hash column configured; nothing to migrate to"})
		return strategy, errs
	}

	if hasRange {
		col, ok := findColumn(facts.Columns, req.PartitionColumn)
		if !ok {
			errs = append(errs, PlanningError{CodePartitionColumnNotFound,
				fmt.Sprintf("partition column %q does not exist on %s", req.PartitionColumn, facts.Identity)})
		} else if err := rangeKeyCompatible(col); err != nil {
			errs = append(errs, PlanningError{CodeIncompatiblePartitionKey, err.Error()})
		}
		if req.SeedBound == "" {
			errs = append(errs, PlanningError{CodeMissingSeedBound,
				"range partitioning needs a seed partition boundary"})
		} else if _, err := ident.FormatBound(req.SeedBound); err != nil {
			errs = append(errs, PlanningError{CodeMissingSeedBound, err.Error()})
		}
	}

	if hasHash {
		col, ok := findColumn(facts.Columns, req.HashColumn)
		if !ok {
			errs = append(errs, PlanningError{CodeHashColumnNotFound,
				fmt.Sprintf("hash column %q does not exist on %s", req.HashColumn, facts.Identity)})
		} else if col.IsLargeObject || col.IsVirtual {
			errs = append(errs, PlanningError{CodeIncompatiblePartitionKey,
				fmt.Sprintf("hash column %q cannot be a large-object or virtual column", col.Name)})
		}
	}

	interval := req.Interval
	if interval == "" {
		interval = database.IntervalMonthly
	}

	switch {
	case hasRange && hasHash:
		strategy = database.PartitionStrategy{
			Kind:  database.StrategyComposite,
			Range: &database.RangeSpec{Column: req.PartitionColumn, Interval: interval},
			Hash:  &database.HashSpec{Column: req.HashColumn},
		}
	case hasRange:
		strategy = database.PartitionStrategy{
			Kind:  database.StrategyRange,
			Range: &database.RangeSpec{Column: req.PartitionColumn, Interval: interval},
		}
	case hasHash:
		strategy = database.PartitionStrategy{
			Kind: database.StrategyHash,
			Hash: &database.HashSpec{Column: req.HashColumn},
		}
	}
	return strategy, errs
}

func findColumn(columns []database.Column, name string) (database.Column, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return database.Column{}, false
}

// rangeKeyCompatible accepts date and timestamp types for the interval
// range key. Everything else cannot extend by a calendar interval.
func rangeKeyCompatible(col database.Column) error {
	if col.IsVirtual {
		return fmt.Errorf("partition column %q is virtual and is not carried to the replacement", col.Name)
	}
	upper := strings.ToUpper(col.DataType)
	for _, prefix := range []string{"DATE", "TIMESTAMP"} {
		if strings.HasPrefix(upper, prefix) {
			return nil
		}
	}
	return fmt.Errorf("partition column %q has type %s; interval range partitioning needs a date or timestamp key", col.Name, col.DataType)
}

type derivedNames struct {
	replacement database.TableIdentity
	backup      database.TableIdentity
	bridge      database.TableIdentity
}

// deriveNames produces the replacement, backup, and bridge view names from
// the source name, honoring overrides. Derivation is deterministic and the
// results are themselves validated, so a source name near the identifier
// bound gets truncated rather than rejected.
func deriveNames(guard ident.Guard, source database.TableIdentity, req Request) (derivedNames, []PlanningError) {
	var errs []PlanningError

	pick := func(override, suffix string) string {
		if override != "" {
			return override
		}
		return truncatedSuffix(source.Name, matchCase(source.Name, suffix), guard.MaxLen)
	}

	names := derivedNames{
		replacement: database.TableIdentity{Schema: source.Schema, Name: pick(req.ReplacementName, "_part")},
		backup:      database.TableIdentity{Schema: source.Schema, Name: pick(req.BackupName, "_old")},
		bridge:      database.TableIdentity{Schema: source.Schema, Name: pick(req.BridgeName, "_xv")},
	}

	// Bridge trigger and trigger-function names add up to 7 characters to
	// the view name, so leave room under the bound.
	bridgeRoom := guard.MaxLen - 7
	if len(names.bridge.Name) > bridgeRoom {
		names.bridge.Name = names.bridge.Name[:bridgeRoom]
	}

	for _, n := range []string{names.replacement.Name, names.backup.Name, names.bridge.Name} {
		if _, err := guard.Validate(n); err != nil {
			errs = append(errs, PlanningError{CodeInvalidIdentifier, err.Error()})
		}
	}
	return names, errs
}

func truncatedSuffix(base, suffix string, maxLen int) string {
	if len(base)+len(suffix) > maxLen {
		base = base[:maxLen-len(suffix)]
	}
	return base + suffix
}

// matchCase uppercases the suffix when the base name is stored uppercase,
// which keeps derived names readable on targets with uppercase catalogs.
func matchCase(base, suffix string) string {
	if base == strings.ToUpper(base) && base != strings.ToLower(base) {
		return strings.ToUpper(suffix)
	}
	return suffix
}

// checkCollisions verifies none of the derived names already resolve to an
// object. This runs before any DDL is emitted.
func checkCollisions(ctx context.Context, catalog database.CatalogReader, names derivedNames) ([]PlanningError, error) {
	var errs []PlanningError
	for _, id := range []database.TableIdentity{names.replacement, names.backup, names.bridge} {
		exists, err := catalog.ObjectExists(ctx, id.Schema, id.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check existence of %s: %w", id, err)
		}
		if exists {
			errs = append(errs, PlanningError{CodeNamingCollision,
				fmt.Sprintf("object %s already exists; choose an override or pass --overwrite", id)})
		}
	}
	return errs, nil
}

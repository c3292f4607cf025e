package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/config"
	"github.com/partshift/partshift/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <schema.table>",
	Short: "Build a partitioning plan for a table",
	Long: `Build a partitioning plan for a table.

The table's current shape is read from the target catalog (or a facts
file), combined with the [tables] section of partshift.toml and any flags,
and turned into a fully named, phase-ordered plan. The plan is persisted
so later commands can execute or render it.`,
	Example: `  # Range partition by a date column, monthly intervals
  partshift plan app.orders --partition-column created_at --seed-bound "DATE '2024-01-01'"

  # Composite range-hash with an explicit subpartition count
  partshift plan app.orders --partition-column created_at --hash-column customer_id --hash-count 8 --seed-bound "DATE '2024-01-01'"

  # Oracle target from an exported facts file
  partshift plan app.orders --environment production --facts facts/production.json`,
	Args: cobra.ExactArgs(1),
	Run:  runPlan,
}

var (
	planEnvironment     string
	planFacts           string
	planPartitionColumn string
	planInterval        string
	planHashColumn      string
	planHashCount       int
	planParallel        int
	planSeedBound       string
	planTablespace      string
	planLobTablespaces  []string
	planCompress        bool
	planOverwrite       bool
	planOutput          string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planEnvironment, "environment", "", "Environment providing the target catalog")
	planCmd.Flags().StringVar(&planFacts, "facts", "", "Catalog facts file (JSON) instead of a live connection")
	planCmd.Flags().StringVar(&planPartitionColumn, "partition-column", "", "Range partition key column")
	planCmd.Flags().StringVar(&planInterval, "interval", "", "Range granularity: daily, monthly, or yearly")
	planCmd.Flags().StringVar(&planHashColumn, "hash-column", "", "Hash (sub)partition key column")
	planCmd.Flags().IntVar(&planHashCount, "hash-count", 0, "Hash partition count (0 = size heuristic)")
	planCmd.Flags().IntVar(&planParallel, "parallel", 0, "Parallel degree for loads and index builds (0 = size heuristic)")
	planCmd.Flags().StringVar(&planSeedBound, "seed-bound", "", "Upper boundary literal for the first range partition")
	planCmd.Flags().StringVar(&planTablespace, "tablespace", "", "Tablespace for the replacement table")
	planCmd.Flags().StringSliceVar(&planLobTablespaces, "lob-tablespaces", nil, "Tablespace rotation for large-object segments")
	planCmd.Flags().BoolVar(&planCompress, "compress", false, "Enable table compression")
	planCmd.Flags().BoolVar(&planOverwrite, "overwrite", false, "Allow derived names that already exist")
	planCmd.Flags().StringVar(&planOutput, "output", "", "Output format: json")
}

func runPlan(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	schema, table, err := splitTableArg(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	t, err := openTarget(cfg, planEnvironment, planFacts)
	if err != nil {
		log.Fatalf("Failed to open target: %v", err)
	}
	defer t.Close()

	tableFacts, err := t.catalog.GetTableFacts(ctx, schema, table)
	if err != nil {
		log.Fatalf("Failed to read table facts: %v", err)
	}

	req := buildRequest(cfg, schema, table)

	plan, issues, err := planner.Build(ctx, t.catalog, t.dialect, tableFacts, req)
	if err != nil {
		log.Fatalf("Planning failed: %v", err)
	}
	if len(issues) > 0 {
		fmt.Fprintf(os.Stderr, "✗ Cannot plan %s.%s:\n\n", schema, table)
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", issue.Code, issue.Detail)
		}
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg, t.env)
	if err != nil {
		log.Fatalf("Failed to open plan store: %v", err)
	}
	defer closeStore()

	if err := store.Save(ctx, plan); err != nil {
		log.Fatalf("Failed to persist plan: %v", err)
	}

	if planOutput == "json" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal plan: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	printPlanSummary(plan)
}

// buildRequest merges the config file's table section with flags. Flags
// win over config.
func buildRequest(cfg *config.Config, schema, table string) planner.Request {
	var req planner.Request

	if tc, ok := cfg.TableFor(schema, table); ok {
		req = planner.Request{
			PartitionColumn: tc.PartitionColumn,
			Interval:        database.IntervalUnit(tc.Interval),
			HashColumn:      tc.HashColumn,
			HashCount:       tc.HashCount,
			Parallel:        tc.Parallel,
			SeedBound:       tc.SeedBound,
			LobTablespaces:  tc.LobTablespaces,
			Tablespace:      tc.Tablespace,
			Compress:        tc.Compress,
			ReplacementName: tc.ReplacementName,
			BackupName:      tc.BackupName,
			BridgeName:      tc.BridgeName,
			Overwrite:       tc.Overwrite,
		}
	}

	if planPartitionColumn != "" {
		req.PartitionColumn = planPartitionColumn
	}
	if planInterval != "" {
		req.Interval = database.IntervalUnit(planInterval)
	}
	if planHashColumn != "" {
		req.HashColumn = planHashColumn
	}
	if planHashCount > 0 {
		req.HashCount = planHashCount
	}
	if planParallel > 0 {
		req.Parallel = planParallel
	}
	if planSeedBound != "" {
		req.SeedBound = planSeedBound
	}
	if planTablespace != "" {
		req.Tablespace = planTablespace
	}
	if len(planLobTablespaces) > 0 {
		req.LobTablespaces = planLobTablespaces
	}
	if planCompress {
		req.Compress = true
	}
	if planOverwrite {
		req.Overwrite = true
	}

	return req
}

func printPlanSummary(plan *database.MigrationPlan) {
	fmt.Printf("✓ Planned %s.%s (%s)\n\n", plan.Source.Schema, plan.Source.Name, plan.Dialect)

	switch plan.Strategy.Kind {
	case database.StrategyRange:
		fmt.Printf("  Strategy:    range on %s (%s)\n", plan.Strategy.Range.Column, plan.Strategy.Range.Interval)
	case database.StrategyHash:
		fmt.Printf("  Strategy:    hash on %s, %d partitions\n", plan.Strategy.Hash.Column, plan.Strategy.Hash.Count)
	case database.StrategyComposite:
		fmt.Printf("  Strategy:    range on %s (%s), hash on %s x%d\n",
			plan.Strategy.Range.Column, plan.Strategy.Range.Interval,
			plan.Strategy.Hash.Column, plan.Strategy.Hash.Count)
	}

	fmt.Printf("  Replacement: %s\n", plan.Replacement.Name)
	fmt.Printf("  Backup:      %s\n", plan.Backup.Name)
	fmt.Printf("  Bridge view: %s\n", plan.BridgeView.Name)
	fmt.Printf("  Parallel:    %d\n", plan.Parallel)
	fmt.Printf("  Phase:       %s\n", plan.Phase)
	fmt.Println("\nNext: partshift render, or partshift run to execute.")
}

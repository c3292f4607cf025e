package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/database/oracle"
	"github.com/partshift/partshift/database/postgres"
	"github.com/partshift/partshift/internal/config"
	"github.com/partshift/partshift/internal/orchestrator"
	"github.com/partshift/partshift/internal/sqlvalidation"
)

var renderCmd = &cobra.Command{
	Use:   "render <schema.table>",
	Short: "Render a persisted plan as an ordered SQL script",
	Long: `Render a persisted plan as an ordered SQL script.

Every statement of every phase is printed in execution order, including the
swap renames and the cutover teardown. Nothing is executed. PostgreSQL
output is additionally run through a SQL parser as a sanity check.`,
	Example: `  # Review the full script
  partshift render app.orders

  # Write it to a file for a DBA to execute
  partshift render app.orders --out orders_partition.sql

  # Machine-readable batches
  partshift render app.orders --output json`,
	Args: cobra.ExactArgs(1),
	Run:  runRender,
}

var (
	renderEnvironment string
	renderOutput      string
	renderOut         string
	renderSkipCheck   bool
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVar(&renderEnvironment, "environment", "", "Environment whose plan store holds the plan")
	renderCmd.Flags().StringVar(&renderOutput, "output", "", "Output format: json")
	renderCmd.Flags().StringVar(&renderOut, "out", "", "Write the script to a file instead of stdout")
	renderCmd.Flags().BoolVar(&renderSkipCheck, "skip-check", false, "Skip the statement parse check")
}

func runRender(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	schema, table, err := splitTableArg(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	resolved, err := config.ResolveEnvironment(cfg, renderEnvironment)
	if err != nil {
		log.Fatalf("Failed to resolve environment: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg, resolved)
	if err != nil {
		log.Fatalf("Failed to open plan store: %v", err)
	}
	defer closeStore()

	plan, err := store.Load(ctx, schema, table)
	if err != nil {
		log.Fatalf("Failed to load plan for %s.%s: %v", schema, table, err)
	}

	dialect, err := dialectFor(plan.Dialect)
	if err != nil {
		log.Fatalf("%v", err)
	}

	batches, err := orchestrator.Batches(dialect, plan)
	if err != nil {
		log.Fatalf("Failed to render plan: %v", err)
	}

	if !renderSkipCheck {
		result := sqlvalidation.ValidateBatches(plan.Dialect, batches)
		if !result.Valid {
			fmt.Fprint(os.Stderr, sqlvalidation.FormatText(result))
			os.Exit(1)
		}
	}

	var rendered string
	if renderOutput == "json" {
		data, err := json.MarshalIndent(batches, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal batches: %v", err)
		}
		rendered = string(data) + "\n"
	} else {
		rendered = formatScript(plan, batches)
	}

	if renderOut != "" {
		if err := os.WriteFile(renderOut, []byte(rendered), 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", renderOut, err)
		}
		fmt.Printf("✓ Wrote %s\n", renderOut)
		return
	}

	fmt.Print(rendered)
}

func dialectFor(name string) (database.Dialect, error) {
	switch name {
	case "postgres":
		return postgres.NewDialect(), nil
	case "oracle":
		return oracle.NewDialect(), nil
	default:
		return nil, fmt.Errorf("plan has unsupported dialect %q", name)
	}
}

func formatScript(plan *database.MigrationPlan, batches []database.PhaseBatch) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- partshift plan for %s.%s (%s)\n", plan.Source.Schema, plan.Source.Name, plan.Dialect)
	fmt.Fprintf(&b, "-- replacement %s, backup %s, bridge view %s\n",
		plan.Replacement.Name, plan.Backup.Name, plan.BridgeView.Name)

	for _, batch := range batches {
		fmt.Fprintf(&b, "\n-- phase: %s\n", batch.Phase)
		for _, stmt := range batch.Statements {
			if stmt.Description != "" {
				fmt.Fprintf(&b, "-- %s\n", stmt.Description)
			}
			b.WriteString(stmt.SQL)
			if !strings.HasSuffix(strings.TrimSpace(stmt.SQL), ";") {
				b.WriteString(";")
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

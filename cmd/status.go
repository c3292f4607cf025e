package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status [schema.table]",
	Short: "Show where persisted plans stand",
	Long: `Show where persisted plans stand.

Without arguments every plan in the store is listed with its phase and, if
the swap has been attempted, its outcome. With a table argument the full
plan detail is shown.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

var (
	statusEnvironment string
	statusOutput      string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusEnvironment, "environment", "", "Environment whose plan store to read")
	statusCmd.Flags().StringVar(&statusOutput, "output", "", "Output format: json")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	ctx := context.Background()

	resolved, err := config.ResolveEnvironment(cfg, statusEnvironment)
	if err != nil {
		log.Fatalf("Failed to resolve environment: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg, resolved)
	if err != nil {
		log.Fatalf("Failed to open plan store: %v", err)
	}
	defer closeStore()

	if len(args) == 1 {
		schema, table, err := splitTableArg(args[0])
		if err != nil {
			log.Fatalf("%v", err)
		}
		plan, err := store.Load(ctx, schema, table)
		if err != nil {
			log.Fatalf("Failed to load plan for %s.%s: %v", schema, table, err)
		}
		printPlanStatus(plan)
		return
	}

	plans, err := store.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list plans: %v", err)
	}

	if statusOutput == "json" {
		data, err := json.MarshalIndent(plans, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal plans: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	if len(plans) == 0 {
		fmt.Println("No persisted plans. Start with: partshift plan <schema.table>")
		return
	}

	for _, plan := range plans {
		line := fmt.Sprintf("%-40s %s", plan.Source.String(), plan.Phase)
		if plan.Outcome != "" {
			line += fmt.Sprintf(" (swap: %s)", plan.Outcome)
		}
		if plan.Phase == database.PhaseDeltaSynced && plan.DeltaRounds > 0 {
			line += fmt.Sprintf(" [%d delta rounds]", plan.DeltaRounds)
		}
		fmt.Println(line)
	}
}

func printPlanStatus(plan *database.MigrationPlan) {
	fmt.Printf("%s (%s)\n\n", plan.Source, plan.Dialect)
	fmt.Printf("  Phase:        %s\n", plan.Phase)
	fmt.Printf("  Delta rounds: %d\n", plan.DeltaRounds)
	if plan.Outcome != "" {
		fmt.Printf("  Swap outcome: %s\n", plan.Outcome)
	}
	if plan.FailureReason != "" {
		fmt.Printf("  Failure:      %s\n", plan.FailureReason)
	}
	fmt.Printf("  Replacement:  %s\n", plan.Replacement)
	fmt.Printf("  Backup:       %s\n", plan.Backup)
	fmt.Printf("  Bridge view:  %s\n", plan.BridgeView)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/partshift/partshift/database"
	"github.com/partshift/partshift/internal/config"
	"github.com/partshift/partshift/internal/orchestrator"
	"github.com/partshift/partshift/internal/swap"
)

var runCmd = &cobra.Command{
	Use:   "run <schema.table>",
	Short: "Execute a persisted plan phase by phase",
	Long: `Execute a persisted plan phase by phase.

Each phase transition is validated before and after execution and persisted
to the plan store, so an interrupted run resumes where it stopped. The run
never performs the swap unless --through-swap is given; the swap is the one
step that briefly blocks writers, so by itself run stops at cutover_active
and points at 'partshift swap'.`,
	Example: `  # Build the replacement and keep it synced, stop after delta sync
  partshift run app.orders

  # Everything up to and including cutover activation
  partshift run app.orders --until cutover_active

  # Drop the bridge once the swap has been performed
  partshift run app.orders --until finalized

  # Unattended end-to-end run, swap included
  partshift run app.orders --until finalized --through-swap`,
	Args: cobra.ExactArgs(1),
	Run:  runRun,
}

var (
	runEnvironment string
	runUntil       string
	runThroughSwap bool
	runReadOnly    bool
	runVerbose     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runEnvironment, "environment", "", "Environment to execute against")
	runCmd.Flags().StringVar(&runUntil, "until", string(database.PhaseDeltaSynced), "Stop after reaching this phase")
	runCmd.Flags().BoolVar(&runThroughSwap, "through-swap", false, "Perform the swap instead of stopping at cutover_active")
	runCmd.Flags().BoolVar(&runReadOnly, "read-only", false, "Refuse every statement that would modify the database")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable verbose logging")
}

func runRun(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	if cfg.ConfigFilePath == "" {
		printConfigNotFound()
	}

	schema, table, err := splitTableArg(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	stopAt, err := parsePhase(runUntil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if stopAt == database.PhaseSwapped && !runThroughSwap {
		log.Fatalf("The swap is not reachable through run without --through-swap; use 'partshift swap' instead")
	}

	ctx := context.Background()

	t, err := openTarget(cfg, runEnvironment, "")
	if err != nil {
		log.Fatalf("Failed to open target: %v", err)
	}
	defer t.Close()

	if err := t.requireExecutor(); err != nil {
		log.Fatalf("%v", err)
	}

	exec := t.exec
	if runReadOnly {
		exec = database.NewGatedExecutor(exec, database.KindReadOnly)
	}

	store, closeStore, err := openStore(ctx, cfg, t.env)
	if err != nil {
		log.Fatalf("Failed to open plan store: %v", err)
	}
	defer closeStore()

	plan, err := store.Load(ctx, schema, table)
	if err != nil {
		log.Fatalf("Failed to load plan for %s.%s: %v", schema, table, err)
	}

	logf := func(string, ...any) {}
	if runVerbose {
		logf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	o := orchestrator.New(t.dialect, t.catalog, exec, store, logf)

	err = o.Run(ctx, plan, stopAt)
	for errors.Is(err, orchestrator.ErrSwapRequired) && runThroughSwap {
		if err = o.Swap(ctx, plan); err != nil {
			break
		}
		err = o.Run(ctx, plan, stopAt)
	}
	switch {
	case err == nil:
		fmt.Printf("✓ %s.%s is at phase %s", schema, table, plan.Phase)
		if plan.Phase == database.PhaseDeltaSynced {
			fmt.Printf(" after %d delta round(s)", plan.DeltaRounds)
		}
		fmt.Println()
	case errors.Is(err, orchestrator.ErrSwapRequired):
		fmt.Printf("✓ %s.%s is at phase %s; cutover is armed.\n", schema, table, plan.Phase)
		fmt.Printf("  Next: 'partshift swap %s.%s', or rerun with --through-swap.\n", schema, table)
	case errors.Is(err, orchestrator.ErrSwapBusy):
		fmt.Printf("⏳ Objects busy, nothing changed. Retry when activity quiets down.\n")
		os.Exit(1)
	case errors.Is(err, swap.ErrInconsistent):
		fmt.Fprintf(os.Stderr, "✗ INCONSISTENT: %s resolves to NOTHING.\n", plan.Source)
		fmt.Fprintf(os.Stderr, "  Original data is under %s, replacement under %s.\n", plan.Backup, plan.Replacement)
		fmt.Fprintf(os.Stderr, "  Rename one of them back by hand before doing anything else.\n")
		os.Exit(1)
	case errors.Is(err, database.ErrOperationNotAllowed):
		fmt.Fprintf(os.Stderr, "✗ Stopped: the next statement would modify the database and --read-only is set.\n")
		os.Exit(1)
	default:
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "✗ Validation failed entering %s: %s (%s)\n", verr.Phase, verr.Detail, verr.Check)
			os.Exit(1)
		}
		log.Fatalf("Run failed at phase %s: %v", plan.Phase, err)
	}
}

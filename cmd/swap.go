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

var swapCmd = &cobra.Command{
	Use:   "swap <schema.table>",
	Short: "Swap the replacement table into place",
	Long: `Swap the replacement table into place.

Both tables are locked with no-wait locks, the original is renamed to its
backup name, and the replacement takes the original name. If any object is
busy nothing happens and the command can simply be retried. If the second
rename fails the first one is compensated so the original name keeps
resolving to the original data.

A swap that reports "inconsistent" means the compensation itself failed:
the original name resolves to nothing and an operator must rename one of
the two tables by hand. Partshift never retries that state automatically.`,
	Example: `  partshift swap app.orders

  # After a successful swap, drop the bridging view
  partshift run app.orders --until finalized`,
	Args: cobra.ExactArgs(1),
	Run:  runSwap,
}

var swapEnvironment string

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapEnvironment, "environment", "", "Environment to execute against")
}

func runSwap(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	schema, table, err := splitTableArg(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	t, err := openTarget(cfg, swapEnvironment, "")
	if err != nil {
		log.Fatalf("Failed to open target: %v", err)
	}
	defer t.Close()

	if err := t.requireExecutor(); err != nil {
		log.Fatalf("%v", err)
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

	logf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}

	o := orchestrator.New(t.dialect, t.catalog, t.exec, store, logf)

	err = o.Swap(ctx, plan)
	switch {
	case err == nil:
		switch plan.Outcome {
		case database.SwapSuccess:
			fmt.Printf("✓ Swapped: %s now resolves to the partitioned table, original kept as %s\n",
				plan.Source, plan.Backup)
			fmt.Println("Next: partshift run --until finalized to drop the bridging view.")
		case database.SwapCompensatedRollback:
			fmt.Printf("↩ Swap rolled back: %s still resolves to the original table. Retry when ready.\n",
				plan.Source)
			os.Exit(1)
		}

	case errors.Is(err, orchestrator.ErrSwapBusy):
		fmt.Printf("⏳ Objects busy, nothing changed. Retry when activity quiets down.\n")
		os.Exit(1)

	case errors.Is(err, swap.ErrInconsistent):
		fmt.Fprintf(os.Stderr, "✗ INCONSISTENT: %s resolves to NOTHING.\n", plan.Source)
		fmt.Fprintf(os.Stderr, "  Original data is under %s, replacement under %s.\n", plan.Backup, plan.Replacement)
		fmt.Fprintf(os.Stderr, "  Rename one of them back by hand before doing anything else.\n")
		os.Exit(1)

	default:
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "✗ %s\n", verr.Detail)
			os.Exit(1)
		}
		log.Fatalf("Swap failed: %v", err)
	}
}

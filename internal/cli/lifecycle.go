package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/lifecycle"
)

var lifecycleDryRun bool

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Inspect and run tier maintenance",
}

var lifecycleAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report what a maintenance pass would move or delete",
	RunE:  runLifecycleAnalyze,
}

var lifecycleApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run a maintenance pass",
	RunE:  runLifecycleApply,
}

func init() {
	lifecycleApplyCmd.Flags().BoolVar(&lifecycleDryRun, "dry-run", false, "Compute the plan without executing it")
	lifecycleCmd.AddCommand(lifecycleAnalyzeCmd)
	lifecycleCmd.AddCommand(lifecycleApplyCmd)
}

func runLifecycleAnalyze(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := manager.Analyze(ctx)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	printReport(report)
	return nil
}

func runLifecycleApply(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := openManager()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := manager.Apply(ctx, lifecycleDryRun)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	printReport(report)
	if !report.DryRun {
		fmt.Printf("moved %d, deleted %d, compacted %d, failed %d\n",
			report.Moved, report.Deleted, report.Compacted, report.Failed)
	}
	return nil
}

func openManager() (*lifecycle.Manager, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return lifecycle.NewManager(db, cfg.Tiers), func() { db.Close() }, nil
}

func printReport(report *lifecycle.Report) {
	fmt.Printf("tiers: working %d, short-term %d, long-term %d\n",
		report.Before.Working, report.Before.ShortTerm, report.Before.LongTerm)

	printMoves := func(label string, moves []lifecycle.Move) {
		if len(moves) == 0 {
			return
		}
		fmt.Printf("%s (%d):\n", label, len(moves))
		for _, m := range moves {
			fmt.Printf("  %s  %s  quality %.2f  age %.1fd\n", m.MemoryID, m.Reason, m.Quality, m.AgeDays)
		}
	}
	printMoves("working -> short-term", report.WorkingPromote)
	printMoves("short-term -> long-term", report.ShortTermPromote)
	printMoves("short-term -> delete", report.ShortTermDelete)

	if len(report.WorkingPromote)+len(report.ShortTermPromote)+len(report.ShortTermDelete) == 0 {
		fmt.Println("nothing to do")
		return
	}
	fmt.Printf("projected: working %d, short-term %d, long-term %d\n",
		report.After.Working, report.After.ShortTerm, report.After.LongTerm)
	for _, e := range report.Errors {
		fmt.Printf("error: %s\n", e)
	}
}

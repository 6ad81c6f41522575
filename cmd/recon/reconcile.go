package main

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/halcyon-labs/recon/internal/config"
	"github.com/halcyon-labs/recon/internal/engine"
	"github.com/halcyon-labs/recon/internal/expect"
	"github.com/halcyon-labs/recon/internal/finder"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a full reconciliation pass over a date range",
		Long: `Find candidates for every unmatched item in the range, automatically
link the pairs that clear the auto-link threshold, and attach any
expected occurrence the newly linked items satisfy. Pairs in the
suggest band are printed for review.`,
		RunE: runReconcile,
	}

	cmd.Flags().String("from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "range end (YYYY-MM-DD)")
	cmd.Flags().Bool("dry-run", false, "score and report without creating matches")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	from, err := parseDate(fromStr, "from")
	if err != nil {
		return err
	}
	to, err := parseDate(toStr, "to")
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	finderCfg, err := config.LoadFinderConfig()
	if err != nil {
		return err
	}
	f, err := finder.New(store, finderCfg)
	if err != nil {
		return err
	}

	trackerCfg, err := config.LoadTrackerConfig()
	if err != nil {
		return err
	}
	tracker, err := expect.NewTracker(store, trackerCfg)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	engineCfg := engine.Config{
		AutoLink: !dryRun,
		Progress: func(processed, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Reconciling..."),
				)
			}
			_ = bar.Set(processed)
		},
	}

	stats, err := engine.NewWithConfig(store, f, tracker, engineCfg).Reconcile(ctx, owner, from, to)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Seeds processed:      %d\n", stats.SeedsProcessed)
	fmt.Printf("Auto-linked:          %d\n", stats.AutoLinked)
	fmt.Printf("Conflicts skipped:    %d\n", stats.Conflicts)
	fmt.Printf("Expectations linked:  %d\n", stats.ExpectationsLinked)
	fmt.Printf("Elapsed:              %s\n", stats.Elapsed.Round(time.Millisecond))

	if len(stats.Suggestions) > 0 {
		fmt.Printf("\n%d pairs need review:\n", len(stats.Suggestions))
		for _, c := range stats.Suggestions {
			fmt.Printf("  %s <-> %s (%.4f, %s)\n", c.SeedItemID, c.CandidateItemID, c.Confidence, c.Tier)
		}
	}

	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyon-labs/recon/internal/config"
	"github.com/halcyon-labs/recon/internal/expect"
	"github.com/halcyon-labs/recon/internal/storage"
)

func expectationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "expectations",
		Aliases: []string{"expect"},
		Short:   "Track expected occurrences",
	}

	cmd.AddCommand(expectationsMissingCmd())
	cmd.AddCommand(expectationsSweepCmd())
	cmd.AddCommand(expectationsSkipCmd())
	cmd.AddCommand(expectationsLinkCmd())

	return cmd
}

func newTracker(store *storage.SQLiteStorage) (*expect.Tracker, error) {
	cfg, err := config.LoadTrackerConfig()
	if err != nil {
		return nil, err
	}
	return expect.NewTracker(store, cfg)
}

// asOfFlag parses --as-of, defaulting to today.
func asOfFlag(cmd *cobra.Command) (time.Time, error) {
	value, _ := cmd.Flags().GetString("as-of")
	if value == "" {
		return time.Now(), nil
	}
	return parseDate(value, "as-of")
}

func expectationsMissingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "missing",
		Short: "List occurrences that should have happened by now",
		RunE:  runExpectationsMissing,
	}

	cmd.Flags().String("as-of", "", "cutoff date (YYYY-MM-DD, default today)")

	return cmd
}

func runExpectationsMissing(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}
	asOf, err := asOfFlag(cmd)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tracker, err := newTracker(store)
	if err != nil {
		return err
	}

	missing, err := tracker.MissingOccurrences(ctx, owner, asOf)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		fmt.Println("Nothing missing.")
		return nil
	}

	fmt.Printf("%-38s %-12s %-10s %-28s %s\n", "ID", "EXPECTED", "AMOUNT", "PARTY", "STATUS")
	for _, occ := range missing {
		fmt.Printf("%-38s %-12s %-10.2f %-28s %s\n",
			occ.ID, occ.ExpectedDate.Format(dateLayout), occ.ExpectedAmount, occ.PartyName, occ.Status)
	}
	return nil
}

func expectationsSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flip lapsed upcoming occurrences to missing",
		Long: `Mark every upcoming occurrence whose expected date has passed with no
linked item as missing. Safe to run repeatedly and concurrently; rows
that were linked in the meantime are left alone.`,
		RunE: runExpectationsSweep,
	}

	cmd.Flags().String("as-of", "", "cutoff date (YYYY-MM-DD, default today)")

	return cmd
}

func runExpectationsSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	asOf, err := asOfFlag(cmd)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tracker, err := newTracker(store)
	if err != nil {
		return err
	}

	count, err := tracker.RunMissingSweep(ctx, asOf)
	if err != nil {
		return err
	}

	fmt.Printf("Marked %d occurrence(s) missing.\n", count)
	return nil
}

func expectationsSkipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip <occurrence-id>",
		Short: "Mark an occurrence as not expected after all",
		Args:  cobra.ExactArgs(1),
		RunE:  runExpectationsSkip,
	}
}

func runExpectationsSkip(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tracker, err := newTracker(store)
	if err != nil {
		return err
	}

	occ, err := tracker.Skip(ctx, owner, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Skipped occurrence %s (%s expected %s)\n",
		occ.ID, occ.PartyName, occ.ExpectedDate.Format(dateLayout))
	return nil
}

func expectationsLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <occurrence-id> <item-id>",
		Short: "Link an occurrence to the item that fulfilled it",
		Long: `Confirm that an observed item fulfills an expected occurrence. Within
tolerance the occurrence becomes matched_manual; with --force an
out-of-tolerance item can still be linked and the occurrence is marked
as a variance. The account and party identity check always applies.`,
		Args: cobra.ExactArgs(2),
		RunE: runExpectationsLink,
	}

	cmd.Flags().Bool("force", false, "link even when amount or date is outside tolerance")

	return cmd
}

func runExpectationsLink(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	force, _ := cmd.Flags().GetBool("force")

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tracker, err := newTracker(store)
	if err != nil {
		return err
	}

	item, err := store.GetItem(ctx, owner, args[1])
	if err != nil {
		return err
	}

	occ, err := tracker.LinkManual(ctx, owner, args[0], *item, force)
	if err != nil {
		return err
	}

	fmt.Printf("Occurrence %s is now %s", occ.ID, occ.Status)
	if occ.Variance != nil && *occ.Variance != 0 {
		fmt.Printf(" (variance %+.2f)", *occ.Variance)
	}
	fmt.Println()
	return nil
}

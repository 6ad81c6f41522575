package main

import (
	"github.com/spf13/cobra"

	"github.com/halcyon-labs/recon/internal/config"
	"github.com/halcyon-labs/recon/internal/finder"
	"github.com/halcyon-labs/recon/internal/model"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates <item-id>",
		Short: "Rank potential match partners for an item",
		Long: `Score every plausible counterpart for the given item and print the
ranked candidates. Candidates below the manual-review floor are omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: runCandidates,
	}

	cmd.Flags().Bool("conversion", false, "search cross-currency candidates in the same account family")

	return cmd
}

func runCandidates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conversion, _ := cmd.Flags().GetBool("conversion")

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cfg, err := config.LoadFinderConfig()
	if err != nil {
		return err
	}

	f, err := finder.New(store, cfg)
	if err != nil {
		return err
	}

	var candidates []model.MatchCandidate
	if conversion {
		candidates, err = f.FindConversionCandidates(ctx, owner, args[0])
	} else {
		candidates, err = f.FindCandidates(ctx, owner, args[0])
	}
	if err != nil {
		return err
	}

	printCandidates(candidates)
	return nil
}

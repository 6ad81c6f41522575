package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/halcyon-labs/recon/internal/config"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/storage"
)

const dateLayout = "2006-01-02"

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// requireOwner resolves the owner scope from the --owner flag or config.
func requireOwner() (string, error) {
	owner := viper.GetString("owner")
	if owner == "" {
		return "", fmt.Errorf("an owner is required: pass --owner or set owner in the config file")
	}
	return owner, nil
}

// parseDate parses a YYYY-MM-DD flag value.
func parseDate(value, flag string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: expected YYYY-MM-DD", flag, value)
	}
	return t, nil
}

// printCandidates renders a ranked candidate list.
func printCandidates(candidates []model.MatchCandidate) {
	if len(candidates) == 0 {
		fmt.Println("No candidates found.")
		return
	}

	fmt.Printf("%-4s %-24s %-10s %-10s %s\n", "#", "CANDIDATE", "CONFIDENCE", "TIER", "DETAIL")
	for i, c := range candidates {
		detail := fmt.Sprintf("Δamount=%.2f Δdays=%d", c.Details.AmountDiff, c.Details.DateDiffDays)
		if c.Details.ImpliedRate != 0 {
			detail += fmt.Sprintf(" rate=%.4f", c.Details.ImpliedRate)
		}
		fmt.Printf("%-4d %-24s %-10.4f %-10s %s\n", i+1, c.CandidateItemID, c.Confidence, c.Tier, detail)
	}
}

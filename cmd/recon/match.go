package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyon-labs/recon/internal/config"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/score"
	"github.com/halcyon-labs/recon/internal/storage"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Create, break, and inspect matches",
	}

	cmd.AddCommand(matchCreateCmd())
	cmd.AddCommand(matchUnmatchCmd())
	cmd.AddCommand(matchAuditCmd())
	cmd.AddCommand(matchLowConfidenceCmd())

	return cmd
}

func matchCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Manually link items from the two sources",
		Long: `Create a match between one or more items on each side. The feature
scores are computed at creation time and stored on the match as an
explanation snapshot. Items already held by an active exclusive match
are rejected with a conflict.`,
		RunE: runMatchCreate,
	}

	cmd.Flags().StringSlice("source1", nil, "source-1 item ids (comma separated or repeated)")
	cmd.Flags().StringSlice("source2", nil, "source-2 item ids")
	cmd.Flags().String("by", "", "who is creating the match")
	cmd.Flags().Bool("force", false, "record the match as forced rather than manual")
	_ = cmd.MarkFlagRequired("source1")
	_ = cmd.MarkFlagRequired("source2")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func runMatchCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	source1, _ := cmd.Flags().GetStringSlice("source1")
	source2, _ := cmd.Flags().GetStringSlice("source2")
	createdBy, _ := cmd.Flags().GetString("by")
	force, _ := cmd.Flags().GetBool("force")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	match, err := buildManualMatch(ctx, store, owner, source1, source2, createdBy, force)
	if err != nil {
		return err
	}

	if err := store.CreateMatch(ctx, match); err != nil {
		return err
	}

	fmt.Printf("Created match %s (%s, confidence %.4f)\n", match.ID, match.Cardinality, match.Confidence)
	return nil
}

// buildManualMatch loads both sides, scores them as aggregates, and
// assembles the match for persistence.
func buildManualMatch(ctx context.Context, store *storage.SQLiteStorage, owner string, source1, source2 []string, createdBy string, force bool) (*model.Match, error) {
	finderCfg, err := config.LoadFinderConfig()
	if err != nil {
		return nil, err
	}

	items1, err := loadItems(ctx, store, owner, source1)
	if err != nil {
		return nil, err
	}
	items2, err := loadItems(ctx, store, owner, source2)
	if err != nil {
		return nil, err
	}

	scores := map[model.Feature]float64{
		model.FeatureAmount: score.Amount(sumAmounts(items1), sumAmounts(items2), finderCfg.AmountTolerance),
		model.FeatureDate:   score.Date(earliestDate(items1), earliestDate(items2), finderCfg.DateWindowDays),
		model.FeatureParty:  score.Name(items1[0].PartyName, items2[0].PartyName),
		model.FeatureText:   score.Text(items1[0].Description, items2[0].Description),
	}
	confidence, err := score.Aggregate(scores, finderCfg.Weights)
	if err != nil {
		return nil, err
	}

	method := model.MethodManual
	if force {
		method = model.MethodForced
	}

	return &model.Match{
		OwnerID:        owner,
		Source1ItemIDs: source1,
		Source2ItemIDs: source2,
		Cardinality:    model.CardinalityFor(len(source1), len(source2)),
		Method:         method,
		CreatedBy:      &createdBy,
		Confidence:     confidence,
		FeatureScores:  scores,
	}, nil
}

func loadItems(ctx context.Context, store *storage.SQLiteStorage, owner string, ids []string) ([]model.Item, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one item id is required per side")
	}
	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		item, err := store.GetItem(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func sumAmounts(items []model.Item) float64 {
	var total float64
	for _, item := range items {
		total += item.Amount
	}
	return total
}

func earliestDate(items []model.Item) time.Time {
	earliest := items[0].Date
	for _, item := range items[1:] {
		if item.Date.Before(earliest) {
			earliest = item.Date
		}
	}
	return earliest
}

func matchUnmatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatch <match-id>",
		Short: "Break an active match",
		Long: `Deactivate a match and release its items for rematching. The match row
is kept with the unmatch audit fields filled in; history is never
deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: runMatchUnmatch,
	}

	cmd.Flags().String("by", "", "who is breaking the match")
	cmd.Flags().String("reason", "", "why the match is being broken")
	_ = cmd.MarkFlagRequired("by")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runMatchUnmatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	by, _ := cmd.Flags().GetString("by")
	reason, _ := cmd.Flags().GetString("reason")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	match, err := store.Unmatch(ctx, owner, args[0], by, reason)
	if err != nil {
		return err
	}

	fmt.Printf("Unmatched %s (%s)\n", match.ID, reason)
	return nil
}

func matchAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <item-id>",
		Short: "Show the full match history of an item",
		Args:  cobra.ExactArgs(1),
		RunE:  runMatchAudit,
	}
}

func runMatchAudit(cmd *cobra.Command, args []string) error {
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

	trail, err := store.AuditTrail(ctx, owner, args[0])
	if err != nil {
		return err
	}
	if len(trail) == 0 {
		fmt.Println("No match history.")
		return nil
	}

	for _, m := range trail {
		state := "active"
		if !m.IsActive {
			state = fmt.Sprintf("unmatched %s by %s: %s",
				m.UnmatchedAt.Format(dateLayout), m.UnmatchedBy, m.UnmatchReason)
		}
		fmt.Printf("%s  %s  %-6s  %.4f  [%s | %s]  %s\n",
			m.CreatedAt.Format(dateLayout), m.ID, m.Method, m.Confidence,
			strings.Join(m.Source1ItemIDs, ","), strings.Join(m.Source2ItemIDs, ","), state)
	}
	return nil
}

func matchLowConfidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "low-confidence",
		Short: "List active matches below a confidence threshold",
		RunE:  runMatchLowConfidence,
	}

	cmd.Flags().Float64("threshold", 0.8, "confidence ceiling")

	return cmd
}

func runMatchLowConfidence(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	matches, err := store.FindLowConfidenceMatches(ctx, owner, threshold)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No matches below threshold.")
		return nil
	}

	for _, m := range matches {
		fmt.Printf("%s  %.4f  %-6s  [%s | %s]\n",
			m.ID, m.Confidence, m.Method,
			strings.Join(m.Source1ItemIDs, ","), strings.Join(m.Source2ItemIDs, ","))
	}
	return nil
}

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/halcyon-labs/recon/internal/model"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import normalized items from a CSV file",
		Long: `Load items exported by the upstream normalization layer. The file must
have a header row with the columns:

  id,date,amount,currency,account_id,party,description

Dates are YYYY-MM-DD. Re-importing a file is safe; rows are upserted
by id.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("source", "", "which source the file came from (source1 or source2)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := requireOwner()
	if err != nil {
		return err
	}

	source, err := parseSource(cmd)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = file.Close() }()

	items, err := parseItemsCSV(file, owner, source)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Nothing to import.")
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveItems(ctx, items); err != nil {
		return err
	}

	fmt.Printf("Imported %d item(s) from %s.\n", len(items), args[0])
	return nil
}

func parseSource(cmd *cobra.Command) (model.ItemSource, error) {
	value, _ := cmd.Flags().GetString("source")
	switch value {
	case "source1", "1":
		return model.SourceOne, nil
	case "source2", "2":
		return model.SourceTwo, nil
	default:
		return "", fmt.Errorf("invalid --source %q: expected source1 or source2", value)
	}
}

// parseItemsCSV reads the whole file, failing on the first malformed row
// with its line number so the bad input can be fixed.
func parseItemsCSV(r io.Reader, owner string, source model.ItemSource) ([]model.Item, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 7 {
		return nil, fmt.Errorf("expected 7 columns (id,date,amount,currency,account_id,party,description), got %d", len(header))
	}

	var items []model.Item
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := parseDate(record[1], "date")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		amount, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q", line, record[2])
		}

		item := model.Item{
			ID:          record[0],
			OwnerID:     owner,
			Source:      source,
			Date:        date,
			Amount:      amount,
			Currency:    record[3],
			AccountID:   record[4],
			PartyName:   record[5],
			Description: record[6],
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}

	return items, nil
}

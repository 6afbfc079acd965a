package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Veraticus/factorflow/internal/cli"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/spf13/cobra"
)

type recordJSON struct {
	Date         time.Time `json:"date"`
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	Unit         string    `json:"unit"`
	Notes        string    `json:"notes,omitempty"`
	CategoryPath []string  `json:"categoryPath"`
	Quantity     float64   `json:"quantity"`
	Scope        int       `json:"scope"`
}

type factorJSON struct {
	ConversionValue    *float64                  `json:"conversionValue"`
	ID                 string                    `json:"id"`
	ExternalID         string                    `json:"externalId,omitempty"`
	Version            string                    `json:"version,omitempty"`
	Unit               string                    `json:"unit"`
	Source             string                    `json:"source"`
	Region             string                    `json:"region,omitempty"`
	OutputUnit         string                    `json:"outputUnit,omitempty"`
	CategoryPath       []string                  `json:"categoryPath"`
	AcceptedParameters []model.Parameter         `json:"acceptedParameters,omitempty"`
	Constituents       []model.ConstituentFactor `json:"constituents,omitempty"`
	Year               int                       `json:"year"`
	Scope              int                       `json:"scope"`
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load usage records or catalog factors from JSON files",
		Long: `Upsert records and factors into the local database. Each file holds a JSON
array. Reloading a record keeps its match status; reloading a factor replaces it.`,
		RunE: runLoad,
	}

	cmd.Flags().String("records", "", "JSON file of usage records")
	cmd.Flags().String("factors", "", "JSON file of reference factors")

	return cmd
}

func runLoad(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	recordsPath, _ := cmd.Flags().GetString("records")
	factorsPath, _ := cmd.Flags().GetString("factors")
	if recordsPath == "" && factorsPath == "" {
		return common.NewUserError("give --records and/or --factors", common.ErrInvalidInput)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()

	if factorsPath != "" {
		var raw []factorJSON
		if err := readJSON(factorsPath, &raw); err != nil {
			return err
		}
		factors := make([]model.ReferenceFactor, 0, len(raw))
		for _, f := range raw {
			factors = append(factors, model.ReferenceFactor{
				ConversionValue:    f.ConversionValue,
				ID:                 f.ID,
				ExternalID:         f.ExternalID,
				Version:            f.Version,
				Unit:               f.Unit,
				Source:             f.Source,
				Region:             f.Region,
				OutputUnit:         f.OutputUnit,
				CategoryPath:       f.CategoryPath,
				AcceptedParameters: f.AcceptedParameters,
				Constituents:       f.Constituents,
				Year:               f.Year,
				Scope:              model.Scope(f.Scope),
			})
		}
		if err := store.SaveFactors(ctx, factors); err != nil {
			return fmt.Errorf("failed to save factors: %w", err)
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Loaded %d factors", len(factors))))
	}

	if recordsPath != "" {
		var raw []recordJSON
		if err := readJSON(recordsPath, &raw); err != nil {
			return err
		}
		records := make([]model.UsageRecord, 0, len(raw))
		for _, r := range raw {
			records = append(records, model.UsageRecord{
				Date:         r.Date,
				ID:           r.ID,
				AccountID:    r.AccountID,
				Unit:         r.Unit,
				Notes:        r.Notes,
				CategoryPath: r.CategoryPath,
				Quantity:     r.Quantity,
				Scope:        model.Scope(r.Scope),
			})
		}
		if err := store.SaveRecords(ctx, records); err != nil {
			return fmt.Errorf("failed to save records: %w", err)
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Loaded %d records", len(records))))
	}

	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return common.NewUserError(fmt.Sprintf("%s is not a JSON array", path), err)
	}
	return nil
}

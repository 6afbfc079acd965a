package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/factorflow/internal/catalog"
	"github.com/Veraticus/factorflow/internal/cli"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/config"
	"github.com/Veraticus/factorflow/internal/match"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [category...]",
		Short: "Show how a record or category text matches the catalog",
		Long: `Run the matcher without writing anything. Either pass --record to diagnose a
stored record or give the category levels as arguments:

  factorflow match Electricity Grid --unit kWh --scope 2

When nothing matches, the nearest candidates under the diagnostic threshold are listed.`,
		RunE: runMatch,
	}

	cmd.Flags().String("record", "", "ID of a stored record to diagnose")
	cmd.Flags().String("unit", "", "Unit of the usage")
	cmd.Flags().Int("scope", 0, "Reporting scope (1, 2 or 3)")
	cmd.Flags().Bool("semantic", false, "Try the embedding matcher when fuzzy matching fails")

	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recordID, _ := cmd.Flags().GetString("record")
	unit, _ := cmd.Flags().GetString("unit")
	scope, _ := cmd.Flags().GetInt("scope")
	useSemantic, _ := cmd.Flags().GetBool("semantic")

	if recordID == "" && len(args) == 0 {
		return common.NewUserError("give category text or --record", common.ErrInvalidInput)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec := model.UsageRecord{
		ID:           "adhoc",
		CategoryPath: args,
		Unit:         unit,
		Scope:        model.Scope(scope),
	}
	if recordID != "" {
		stored, err := store.GetRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("failed to load record %s: %w", recordID, err)
		}
		rec = *stored
	}

	v := viper.GetViper()
	preferred := v.GetString("catalog.preferred_source")
	factors, err := store.FetchFactors(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	n := normalize.Default()
	idx := catalog.Build(factors, n, catalog.WithPreferredSource(preferred))
	matcher := match.New(idx, n, config.LoadMatchConfig(v))
	if src := idx.PreferredSource(); src != "" {
		slog.Debug("Preferring catalog source", "source", src, "factors", idx.Len())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Matching %q (%s, %s)",
		strings.Join(rec.CategoryPath, " > "), rec.Unit, rec.Scope)))

	cand, err := matcher.Match(rec)
	switch {
	case err == nil:
		printCandidate(cmd, cand)
		return nil
	case !errors.Is(err, common.ErrNoMatchFound):
		return err
	}

	fmt.Fprintln(out, cli.FormatWarning("No fuzzy match"))
	near, err := matcher.Diagnose(rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, cli.RenderCandidates(near))

	if !useSemantic {
		return nil
	}

	v.Set("embedding.enabled", true)
	sem, cleanup, err := initSemantic(ctx, n)
	if err != nil {
		return err
	}
	defer cleanup()

	cand, err = sem.MatchRecord(ctx, &rec, idx.Factors())
	if err != nil {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("No semantic match: %v", err)))
		return nil
	}
	printCandidate(cmd, cand)
	return nil
}

func printCandidate(cmd *cobra.Command, cand *model.MatchCandidate) {
	f := &cand.Factor
	value := "requires estimation"
	if f.HasDirectValue() {
		value = fmt.Sprintf("%g %s per %s", *f.ConversionValue, f.ResultUnit(), f.Unit)
	}

	content := fmt.Sprintf("Factor: %s\nCategory: %s\nSource: %s %d (%s)\nValue: %s\nMethod: %s  score %.3f (raw %.3f)",
		f.ID, f.CategoryText(), f.Source, f.Year, f.Region, value, cand.Method, cand.Score, cand.RawScore)
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.SuccessIcon+" Match", content))
}

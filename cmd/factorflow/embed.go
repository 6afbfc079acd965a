package main

import (
	"fmt"

	"github.com/Veraticus/factorflow/internal/cli"
	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/config"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
	"github.com/Veraticus/factorflow/internal/semantic"
	"github.com/Veraticus/factorflow/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func embedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Precompute embeddings for the catalog and unmatched records",
		Long: `Embed every catalog factor, and the unmatched records of --account if given,
into the vector cache so batch runs can use the semantic fallback without
embedding the whole catalog on demand. Requires cache.redis_addr so the vectors
outlive this command.`,
		RunE: runEmbed,
	}

	cmd.Flags().String("account", "", "Also embed this account's unmatched records")
	cmd.Flags().Int("limit", 10000, "Maximum records to embed")

	return cmd
}

func runEmbed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	account, _ := cmd.Flags().GetString("account")
	limit, _ := cmd.Flags().GetInt("limit")

	v := viper.GetViper()
	embCfg, err := config.LoadEmbedderConfig(v)
	if err != nil {
		return common.NewUserError("embedding endpoint is not configured", err)
	}
	embedder, err := semantic.NewHTTPEmbedder(embCfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	vc, err := initVectorCache(ctx)
	if err != nil {
		return err
	}
	defer vc.closeFn()
	if !vc.shared {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("cache.redis_addr is not set; embeddings will be lost when this command exits"))
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	factors, err := store.FetchFactors(ctx, v.GetString("catalog.preferred_source"))
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(factors) == 0 {
		if factors, err = store.FetchFactors(ctx, ""); err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
	}

	var records []model.UsageRecord
	if account != "" {
		records, err = store.FetchUnmatched(ctx, service.RecordSelector{AccountID: account}.Filter(limit))
		if err != nil {
			return fmt.Errorf("failed to fetch records: %w", err)
		}
	}

	matcher := semantic.NewMatcher(embedder, vc.cache, normalize.Default(), config.LoadSemanticConfig(v))
	stats, err := matcher.Precompute(ctx, factors, records)
	if err != nil {
		return fmt.Errorf("precompute stopped: %w", err)
	}

	content := fmt.Sprintf("Factors: %d\nRecords: %d\nEmbedded: %d\nAlready cached: %d\nFailed: %d",
		stats.Factors, stats.Records, stats.Embedded, stats.Cached, stats.Failed)
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.ChartIcon+" Embeddings", content))
	return nil
}

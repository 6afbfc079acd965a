package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/factorflow/internal/cli"
	"github.com/Veraticus/factorflow/internal/config"
	"github.com/Veraticus/factorflow/internal/engine"
	"github.com/Veraticus/factorflow/internal/metrics"
	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Resolve and calculate a batch of usage records",
		Long: `Fetch records for an account, match each against the reference catalog and
store the calculated result. Records are processed in chunks; an interrupt stops
the batch after the current chunk and everything finished so far stays saved.

Exits non-zero when any record fails.`,
		RunE: runBatch,
	}

	cmd.Flags().String("account", "", "Account whose records are processed (required)")
	cmd.Flags().Int("concurrency", 0, "Records processed concurrently per chunk (default batch.concurrency)")
	cmd.Flags().String("selector", "unmatched", "Records to pick up: unmatched, failed, source-changed")
	cmd.Flags().String("source", "", "Preferred source for the source-changed selector")
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	account, _ := cmd.Flags().GetString("account")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	selector, _ := cmd.Flags().GetString("selector")
	source, _ := cmd.Flags().GetString("source")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	kind, err := service.ParseSelectorKind(selector)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = config.LoadBatchSettings(viper.GetViper()).Concurrency
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	progress := cli.NewProgress(cmd.ErrOrStderr())
	opts := []engine.Option{engine.WithMetrics(metrics.New(prometheus.NewRegistry()))}
	if !noProgress {
		opts = append(opts, engine.WithStart(progress.Start), engine.WithProgress(progress.Observe))
	}

	orch, cleanup, err := initOrchestrator(ctx, store, opts...)
	if err != nil {
		return err
	}
	defer cleanup()

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	runCtx := interrupts.HandleInterrupts(ctx)
	defer interrupts.Stop()

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Processing %s records for %s", kind, account)))

	run, err := orch.RunBatch(runCtx, service.RecordSelector{
		AccountID: account,
		Source:    source,
		Kind:      kind,
	}, concurrency)
	progress.Finish()
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}

	if run.Processed == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No records to process"))
		return nil
	}

	fmt.Fprintln(out, cli.RenderBatchSummary(run))
	if counts, err := store.CountRecords(ctx, account); err != nil {
		slog.Warn("Failed to count remaining records", "account", account, "error", err)
	} else {
		remaining := counts[model.StatusUnmatched] + counts[""]
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d record(s) remain unmatched for %s", remaining, account)))
	}
	if failures := run.Failures(); len(failures) > 0 {
		fmt.Fprintln(out, cli.RenderFailures(failures))
		slog.Debug("Batch finished with failures", "batch_id", run.ID, "failed", run.Failed)
		return errRecordsFailed
	}
	return nil
}

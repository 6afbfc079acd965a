package main

import (
	"github.com/Veraticus/factorflow/internal/engine"
	"github.com/Veraticus/factorflow/internal/metrics"
	"github.com/Veraticus/factorflow/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch trigger over HTTP",
		Long: `Start an HTTP server exposing:

  POST /v1/batches  run a batch for {"scope": "<account>", "concurrencyLimit": N}
  GET  /healthz     database connectivity
  GET  /metrics     Prometheus metrics

Only one batch runs at a time; concurrent requests receive 409.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	orch, cleanup, err := initOrchestrator(ctx, store,
		engine.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
	if err != nil {
		return err
	}
	defer cleanup()

	if viper.GetString("logging.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	return server.New(orch, store).Run(ctx, viper.GetString("server.addr"))
}

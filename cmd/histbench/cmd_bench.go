package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/config"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/harness"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/observability"
)

var benchCmd = &cobra.Command{
	Use:   "bench [path...]",
	Short: "Time history queries under every client-allocation strategy",
	Long: `Query the history of every path under four strategies and print the mean
wall-clock time of each:

  Parallel Pre-Alloc       one connection per path, opened before timing
  Parallel Alloc OnDemand  one connection per path, opened inside the timed region
  Parallel SameClient      one connection shared by every parallel query
  Serial                   one connection, paths queried one after another

Paths come from positional arguments, --paths and --paths-file.`,
	SilenceUsage: true,
	RunE:         runBench,
}

func init() {
	addClientFlags(benchCmd)
	f := benchCmd.Flags()
	f.StringSlice(config.KeyPaths, nil, "Comma-separated server paths to query")
	f.String(config.KeyPathsFile, "", "Path manifest (JSON) or text file with one path per line")
	f.Int(config.KeyRepetitions, harness.DefaultRepetitions, "Timed runs per strategy")
	f.Int(config.KeyConcurrency, 0, "Max parallel queries per run (0 = one per path)")
	f.Duration(config.KeyRunTimeout, 0, "Abort a run that takes longer than this (0 = no limit)")
	f.Duration(config.KeyRepeatPause, 0, "Pause between runs of a strategy")
	f.StringSlice(config.KeyStrategies, nil, "Strategies to run: pre-alloc, on-demand, shared, serial (default all)")
	f.Bool(config.KeyDetail, false, "Print per-run durations and query latency percentiles")
	f.String(config.KeyMetricsAddr, "", "Serve Prometheus metrics on this address during the run (e.g. :9100)")
	f.Bool(config.KeyOtelEnabled, false, "Enable OpenTelemetry tracing")
	f.String(config.KeyOtelEndpoint, "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stderr exporter")
}

func runBench(cmd *cobra.Command, args []string) error {
	b, err := loadBench(cmd)
	if err != nil {
		return err
	}
	b.Paths = append(b.Paths, args...)

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		Enabled:  b.OtelEnabled,
		Service:  "histbench",
		Version:  version,
		Endpoint: b.OtelEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector, err := b.Connector()
	if err != nil {
		return err
	}

	var opts []harness.Option
	if b.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, harness.WithMetrics(harness.NewMetrics(reg)))
		startMetricsServer(ctx, b.MetricsAddr, reg)
	}
	if b.Detail {
		opts = append(opts, harness.WithDetail(cmd.OutOrStdout()))
	}

	h, err := harness.New(b.HarnessConfig(), connector, opts...)
	if err != nil {
		return err
	}

	hc := h.Config()
	slog.Info("benchmark starting",
		"server", b.Server,
		"transport", b.Transport,
		"paths", len(hc.Paths),
		"repetitions", hc.Repetitions,
		"concurrency", hc.Concurrency,
	)
	_, err = h.Run(ctx, cmd.OutOrStdout())
	return err
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/config"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// addClientFlags registers the flags shared by commands that talk to a
// history service. Values are read back through viper, so env vars and the
// config file apply as well.
func addClientFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().String(config.KeyServer, "", "History service URL, e.g. http://localhost:8080 (required here, in HISTBENCH_SERVER, the config file or the paths manifest)")
		cmd.Flags().String(config.KeyTransport, vcs.TransportHTTP, "Client transport: http or rpc")
		cmd.Flags().Bool(config.KeyProtoJSON, false, "Use JSON instead of binary protobuf on the rpc transport")
		cmd.Flags().String(config.KeyUser, "", "User name for basic authentication")
		cmd.Flags().String(config.KeyPassword, "", "Password for basic authentication (prefer HISTBENCH_PASSWORD)")
		cmd.Flags().Duration(config.KeyConnectTimeout, 0, "Per-request timeout (http) or dial timeout (rpc); 0 keeps the transport default")
	}
}

// loadBench resolves the configuration of cmd from flags, env and file.
func loadBench(cmd *cobra.Command) (*config.Bench, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return config.Load(v)
}

// startMetricsServer exposes reg on addr/metrics until ctx is done.
func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

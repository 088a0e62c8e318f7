package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/observability"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/server"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the reference history service",
	SilenceUsage: true,
	RunE:         runServe,
}

var (
	bindAddr        string
	dataDir         string
	storeBackend    string
	queryLatency    time.Duration
	queryJitter     time.Duration
	authLatency     time.Duration
	rateLimit       float64
	rateBurst       float64
	serveUsers      []string
	tokenSecret     string
	tokenTTL        time.Duration
	seedIfEmpty     int
	shutdownTimeout = 5 * time.Second
	otelEnabled     bool
	otelEndpoint    string
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&bindAddr, "bind", ":8080", "HTTP server bind address")
	f.StringVar(&dataDir, "data-dir", "data", "Directory for the changeset store")
	f.StringVar(&storeBackend, "store", store.BackendSQLite, "Store backend: sqlite, badger or pebble")
	f.DurationVar(&queryLatency, "latency", 0, "Added delay per history query")
	f.DurationVar(&queryJitter, "jitter", 0, "Random extra delay per history query, uniform in [0, jitter)")
	f.DurationVar(&authLatency, "auth-latency", 0, "Added delay per authentication")
	f.Float64Var(&rateLimit, "rate-limit", 0, "Per-user history queries per second (0 = unlimited)")
	f.Float64Var(&rateBurst, "rate-burst", 10, "Per-user query burst when --rate-limit is set")
	f.StringArrayVar(&serveUsers, "user", nil, "Accepted credentials as name:password (repeatable); none accepts any user")
	f.StringVar(&tokenSecret, "token-secret", "", "HMAC secret for session tokens (or set HISTBENCH_TOKEN_SECRET); random if empty")
	f.DurationVar(&tokenTTL, "token-ttl", time.Hour, "Session token lifetime")
	f.IntVar(&seedIfEmpty, "seed-if-empty", 0, "Seed this many synthetic changesets when the store is empty")
	f.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful HTTP shutdown timeout before force-close")
	f.BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	f.StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stderr exporter")
}

func parseUsers(specs []string) (map[string]string, error) {
	users := make(map[string]string, len(specs))
	for _, u := range specs {
		name, pw, ok := strings.Cut(u, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --user %q (expected name:password)", u)
		}
		users[name] = pw
	}
	return users, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	users, err := parseUsers(serveUsers)
	if err != nil {
		return err
	}

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		Enabled:  otelEnabled,
		Service:  "histbench-server",
		Version:  version,
		Endpoint: otelEndpoint,
	})
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	st, err := store.Open(storeBackend, dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if seedIfEmpty > 0 {
		paths, err := st.Paths(cmd.Context())
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			if _, err := store.Seed(cmd.Context(), st, store.SeedOptions{Changesets: seedIfEmpty}); err != nil {
				return err
			}
		}
	}

	secret := strings.TrimSpace(tokenSecret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("HISTBENCH_TOKEN_SECRET"))
	}
	opts := []server.Option{
		server.WithUsers(users),
		server.WithLatency(queryLatency, queryJitter),
		server.WithAuthLatency(authLatency),
		server.WithTokenTTL(tokenTTL),
		server.WithRateLimit(rateLimit, rateBurst),
	}
	if secret != "" {
		opts = append(opts, server.WithTokenSecret([]byte(secret)))
	}
	if len(users) == 0 {
		slog.Warn("no --user configured; any user name is accepted")
	}

	srv := server.New(st, bindAddr, opts...)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("history server ready",
		"bind", bindAddr,
		"store", storeBackend,
		"data_dir", dataDir,
		"latency", queryLatency,
		"jitter", queryJitter,
		"auth_latency", authLatency,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error; forcing close", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			slog.Error("HTTP force close error", "error", closeErr)
		}
	}

	slog.Info("history server stopped")
	return nil
}

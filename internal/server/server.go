// Package server implements the reference history service the benchmark
// queries: a JSON API and a Connect RPC service over one h2c listener, both
// backed by a store.Store.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// Server is the HTTP server for the history service.
type Server struct {
	store      store.Store
	auth       *tokenAuth
	users      map[string]string
	latency    time.Duration
	jitter     time.Duration
	authDelay  time.Duration
	limiter    *rateLimiter
	registry   *prometheus.Registry
	metrics    *serverMetrics
	httpServer *http.Server
	router     chi.Router
	handler    http.Handler
}

// Option configures optional server behavior.
type Option func(*Server)

// WithUsers restricts authentication to the given name/password pairs.
// Without it any non-empty user name is accepted.
func WithUsers(users map[string]string) Option {
	return func(s *Server) {
		for name, pw := range users {
			s.users[name] = pw
		}
	}
}

// WithTokenSecret sets the HMAC key for issued tokens. A random key is
// generated otherwise, so tokens do not survive a restart.
func WithTokenSecret(secret []byte) Option {
	return func(s *Server) {
		if len(secret) > 0 {
			s.auth.secret = secret
		}
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.auth.ttl = ttl
		}
	}
}

// WithLatency delays every history query by base plus a uniform random
// duration in [0, jitter).
func WithLatency(base, jitter time.Duration) Option {
	return func(s *Server) {
		s.latency = base
		s.jitter = jitter
	}
}

// WithAuthLatency delays every authentication.
func WithAuthLatency(d time.Duration) Option {
	return func(s *Server) { s.authDelay = d }
}

// WithRateLimit throttles history queries per user with a token bucket
// refilled at rps up to burst.
func WithRateLimit(rps, burst float64) Option {
	return func(s *Server) {
		s.limiter.cfg = RateLimitConfig{Enabled: rps > 0, RPS: rps, Burst: burst}
	}
}

// WithRegistry registers server metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// New creates a new Server.
func New(st store.Store, bindAddr string, opts ...Option) *Server {
	srv := &Server{
		store:    st,
		auth:     newTokenAuth(),
		users:    map[string]string{},
		limiter:  newRateLimiter(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.metrics = newServerMetrics(srv.registry)
	srv.router = srv.buildRouter()
	srv.handler = h2c.NewHandler(srv.router, &http2.Server{})
	srv.httpServer = &http.Server{
		Addr:              bindAddr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger)
	r.Use(tracing)
	r.Use(s.metrics.middleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Get("/history", s.handleHistory)
			r.Get("/paths", s.handlePaths)
		})
	})

	s.mountRPC(r)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.handler(s.registry))

	return r
}

// Start begins listening for HTTP/1.1 and cleartext HTTP/2 requests.
func (s *Server) Start() error {
	slog.Info("history server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("history server shutting down")
	s.limiter.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.limiter.close()
	return s.httpServer.Close()
}

// Handler returns the http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON response helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code vcs.ErrorCode) {
	writeJSON(w, status, vcs.ErrorResponse{Error: msg, Code: string(code)})
}

// Middleware

func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"proto", r.Proto,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

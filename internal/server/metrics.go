package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var requestDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

type serverMetrics struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	inflight         prometheus.Gauge
	tokensIssued     prometheus.Counter
	authFailures     prometheus.Counter
	changesetsServed prometheus.Counter
	throttled        prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "histbench_server_requests_total",
			Help: "Requests handled, by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "histbench_server_request_duration_seconds",
			Help:    "Request latency by route.",
			Buckets: requestDurationBuckets,
		}, []string{"route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "histbench_server_inflight_queries",
			Help: "History queries currently being served.",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "histbench_server_tokens_issued_total",
			Help: "Session tokens issued.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "histbench_server_auth_failures_total",
			Help: "Rejected authentication attempts.",
		}),
		changesetsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "histbench_server_changesets_served_total",
			Help: "Changesets returned by history queries.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "histbench_server_throttled_queries_total",
			Help: "History queries rejected by the per-user rate limit.",
		}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.inflight, m.tokensIssued, m.authFailures, m.changesetsServed, m.throttled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *serverMetrics) handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

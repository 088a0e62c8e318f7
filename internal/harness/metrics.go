package harness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// Metrics exports benchmark progress. A nil *Metrics records nothing.
type Metrics struct {
	runDuration *prometheus.HistogramVec
	queries     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "histbench_run_duration_seconds",
			Help:    "Wall-clock time of one timed pass, by strategy.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"strategy"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "histbench_queries_total",
			Help: "History queries issued, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
	}
	reg.MustRegister(m.runDuration, m.queries)
	return m
}

func (m *Metrics) observeRun(s Strategy, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(s.Key()).Observe(d.Seconds())
}

func (m *Metrics) observeQuery(s Strategy, err error) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(s.Key(), outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case vcs.IsConnectionError(err):
		return "connection_error"
	case vcs.IsQueryError(err):
		return "query_error"
	}
	return "error"
}

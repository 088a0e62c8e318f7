package harness

import (
	"fmt"
	"io"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency histogram range in microseconds: 1µs to 10 minutes.
const (
	histMinMicros = 1
	histMaxMicros = int64(10 * time.Minute / time.Microsecond)
	histSigFigs   = 3
)

// Report summarizes the runs of one strategy.
type Report struct {
	Strategy Strategy
	Runs     []time.Duration
	// MeanMs is the arithmetic mean of Runs in milliseconds.
	MeanMs  float64
	Latency LatencySummary
}

// LatencySummary describes individual query latencies across all runs.
type LatencySummary struct {
	Count int64
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("%s: Execution Time Average (ms): %.3f", r.Strategy, r.MeanMs)
}

// WriteDetail writes each run's duration and the latency percentiles.
func (r Report) WriteDetail(w io.Writer) error {
	for i, d := range r.Runs {
		if _, err := fmt.Fprintf(w, "  run %d: %.3f ms\n", i+1, millis(d)); err != nil {
			return err
		}
	}
	if r.Latency.Count == 0 {
		return nil
	}
	_, err := fmt.Fprintf(w, "  queries: %d  p50=%.3f ms  p90=%.3f ms  p99=%.3f ms  max=%.3f ms\n",
		r.Latency.Count, millis(r.Latency.P50), millis(r.Latency.P90), millis(r.Latency.P99), millis(r.Latency.Max))
	return err
}

// MeanMillis returns the arithmetic mean of durations in milliseconds.
func MeanMillis(durations []time.Duration) (float64, error) {
	if len(durations) == 0 {
		return 0, &ConfigError{Field: "durations", Msg: "cannot average an empty list"}
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return float64(total) / float64(len(durations)) / float64(time.Millisecond), nil
}

func newReport(s Strategy, results []RunResult) (Report, error) {
	rep := Report{Strategy: s, Runs: make([]time.Duration, len(results))}
	hist := hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs)
	for i, r := range results {
		rep.Runs[i] = r.Elapsed
		for _, lat := range r.Latencies {
			us := int64(lat / time.Microsecond)
			if us < histMinMicros {
				us = histMinMicros
			}
			if us > histMaxMicros {
				us = histMaxMicros
			}
			if err := hist.RecordValue(us); err != nil {
				return Report{}, fmt.Errorf("record latency: %w", err)
			}
		}
	}
	mean, err := MeanMillis(rep.Runs)
	if err != nil {
		return Report{}, err
	}
	rep.MeanMs = mean
	if n := hist.TotalCount(); n > 0 {
		rep.Latency = LatencySummary{
			Count: n,
			P50:   time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
			P90:   time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
			P99:   time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
			Max:   time.Duration(hist.Max()) * time.Microsecond,
		}
	}
	return rep, nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

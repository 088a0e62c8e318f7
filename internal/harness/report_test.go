package harness

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanMillis(t *testing.T) {
	mean, err := MeanMillis([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 20.0, mean)

	mean, err = MeanMillis([]time.Duration{1500 * time.Microsecond})
	require.NoError(t, err)
	assert.Equal(t, 1.5, mean)

	_, err = MeanMillis(nil)
	assert.True(t, IsConfigError(err))
}

func TestReportString(t *testing.T) {
	r := Report{Strategy: ParallelOnDemand, MeanMs: 20}
	assert.Equal(t, "Parallel Alloc OnDemand: Execution Time Average (ms): 20.000", r.String())
}

func TestNewReport(t *testing.T) {
	results := []RunResult{
		{Elapsed: 10 * time.Millisecond, Latencies: []time.Duration{time.Millisecond, 2 * time.Millisecond}},
		{Elapsed: 30 * time.Millisecond, Latencies: []time.Duration{4 * time.Millisecond, 0}},
	}
	rep, err := newReport(Serial, results)
	require.NoError(t, err)
	assert.Equal(t, 20.0, rep.MeanMs)
	assert.Equal(t, int64(4), rep.Latency.Count)
	assert.InDelta(t, float64(4*time.Millisecond), float64(rep.Latency.Max), float64(10*time.Microsecond))

	var buf bytes.Buffer
	require.NoError(t, rep.WriteDetail(&buf))
	assert.Contains(t, buf.String(), "run 1: 10.000 ms")
	assert.Contains(t, buf.String(), "run 2: 30.000 ms")
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, []string{"Parallel Pre-Alloc", "Parallel Alloc OnDemand", "Parallel SameClient", "Serial"},
		[]string{ParallelPreAlloc.String(), ParallelOnDemand.String(), ParallelShared.String(), Serial.String()})

	for _, s := range AllStrategies() {
		got, err := ParseStrategy(s.Key())
		require.NoError(t, err)
		assert.Equal(t, s, got)
		got, err = ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStrategy("random")
	assert.True(t, IsConfigError(err))

	list, err := ParseStrategies([]string{"serial", "pre-alloc", "serial", ""})
	require.NoError(t, err)
	assert.Equal(t, []Strategy{ParallelPreAlloc, Serial}, list)
}

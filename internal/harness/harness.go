// Package harness times history queries under the four client-allocation
// strategies and reports the mean wall-clock time of each.
//
// Each run prepares its work items outside the timed region, then measures
// only the dispatch of the queries. Pre-Alloc and SameClient therefore
// exclude connection cost from the measurement while OnDemand includes it.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// WorkItem is one query of a run. A nil Handle connects before querying.
type WorkItem struct {
	Path   string
	Handle vcs.Handle
}

// RunResult is the outcome of one timed pass over all paths.
type RunResult struct {
	Strategy Strategy
	Elapsed  time.Duration
	// PerPath holds the ids returned for Paths[i].
	PerPath [][]int
	// IDs is the concatenation of PerPath.
	IDs       []int
	Latencies []time.Duration
}

type runFunc func(ctx context.Context) (RunResult, error)

// Harness runs strategies against a connector.
type Harness struct {
	cfg       Config
	connector vcs.Connector
	metrics   *Metrics
	detail    io.Writer
	runs      map[Strategy]runFunc

	// beforeDispatch runs after setup, immediately before the timer starts.
	beforeDispatch func(Strategy)
}

type Option func(*Harness)

// WithMetrics records run durations and query outcomes.
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// WithDetail writes per-run durations and latency percentiles to w after
// each strategy's report line.
func WithDetail(w io.Writer) Option {
	return func(h *Harness) { h.detail = w }
}

// New validates cfg and returns a Harness.
func New(cfg Config, c vcs.Connector, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &ConfigError{Field: "server", Msg: "no connector configured"}
	}
	h := &Harness{cfg: cfg, connector: c}
	for _, opt := range opts {
		opt(h)
	}
	h.runs = map[Strategy]runFunc{
		ParallelPreAlloc: h.runPreAlloc,
		ParallelOnDemand: h.runOnDemand,
		ParallelShared:   h.runShared,
		Serial:           h.runSerial,
	}
	return h, nil
}

// Config returns the validated configuration the harness runs with.
func (h *Harness) Config() Config {
	return h.cfg
}

func (h *Harness) strategies() []Strategy {
	if len(h.cfg.Strategies) == 0 {
		return AllStrategies()
	}
	// Normalize to report order.
	keys := make([]string, len(h.cfg.Strategies))
	for i, s := range h.cfg.Strategies {
		keys[i] = s.Key()
	}
	out, _ := ParseStrategies(keys)
	return out
}

// RunOnce performs one timed pass of s.
func (h *Harness) RunOnce(ctx context.Context, s Strategy) (RunResult, error) {
	run, ok := h.runs[s]
	if !ok {
		return RunResult{}, &ConfigError{Field: "strategies", Msg: fmt.Sprintf("unknown strategy %d", int(s))}
	}
	if h.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RunTimeout)
		defer cancel()
	}
	res, err := run(ctx)
	if err != nil {
		return RunResult{}, err
	}
	h.metrics.observeRun(s, res.Elapsed)
	return res, nil
}

// RunStrategy runs s Repetitions times sequentially and returns the elapsed
// time of each run.
func (h *Harness) RunStrategy(ctx context.Context, s Strategy) ([]time.Duration, error) {
	results, err := h.repeat(ctx, s)
	if err != nil {
		return nil, err
	}
	durations := make([]time.Duration, len(results))
	for i, r := range results {
		durations[i] = r.Elapsed
	}
	return durations, nil
}

func (h *Harness) repeat(ctx context.Context, s Strategy) ([]RunResult, error) {
	results := make([]RunResult, 0, h.cfg.Repetitions)
	for i := 0; i < h.cfg.Repetitions; i++ {
		if i > 0 && h.cfg.RepeatPause > 0 {
			if err := sleep(ctx, h.cfg.RepeatPause); err != nil {
				return nil, err
			}
		}
		res, err := h.RunOnce(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("%s run %d: %w", s, i+1, err)
		}
		slog.Debug("run complete",
			"strategy", s.Key(),
			"run", i+1,
			"elapsed_ms", float64(res.Elapsed)/float64(time.Millisecond),
			"changesets", len(res.IDs),
		)
		// The aggregate is a by-product; only the timing is kept.
		res.IDs, res.PerPath = nil, nil
		results = append(results, res)
	}
	return results, nil
}

// Measure runs s Repetitions times and summarizes the runs.
func (h *Harness) Measure(ctx context.Context, s Strategy) (Report, error) {
	results, err := h.repeat(ctx, s)
	if err != nil {
		return Report{}, err
	}
	return newReport(s, results)
}

// Run measures every configured strategy in report order and writes each
// report line to w as soon as it is known. The first failure stops the run;
// lines already written stay written.
func (h *Harness) Run(ctx context.Context, w io.Writer) ([]Report, error) {
	var reports []Report
	for _, s := range h.strategies() {
		rep, err := h.Measure(ctx, s)
		if err != nil {
			return reports, err
		}
		if _, err := fmt.Fprintln(w, rep.String()); err != nil {
			return reports, err
		}
		if h.detail != nil {
			if err := rep.WriteDetail(h.detail); err != nil {
				return reports, err
			}
		}
		slog.Info("strategy complete",
			"strategy", s.Key(),
			"parallel", s.parallel(),
			"runs", len(rep.Runs),
			"mean_ms", rep.MeanMs,
		)
		reports = append(reports, rep)
	}
	return reports, nil
}

func (h *Harness) runPreAlloc(ctx context.Context) (RunResult, error) {
	items := make([]WorkItem, len(h.cfg.Paths))
	var opened []vcs.Handle
	defer func() { closeAll(opened) }()
	for i, p := range h.cfg.Paths {
		hd, err := h.connector.Connect(ctx)
		if err != nil {
			return RunResult{}, err
		}
		opened = append(opened, hd)
		items[i] = WorkItem{Path: p, Handle: hd}
	}
	return h.dispatchParallel(ctx, ParallelPreAlloc, items)
}

func (h *Harness) runOnDemand(ctx context.Context) (RunResult, error) {
	items := make([]WorkItem, len(h.cfg.Paths))
	for i, p := range h.cfg.Paths {
		items[i] = WorkItem{Path: p}
	}
	return h.dispatchParallel(ctx, ParallelOnDemand, items)
}

// runShared hands one handle to every task with no lock around it;
// vcs.Handle implementations are safe for concurrent queries.
func (h *Harness) runShared(ctx context.Context) (RunResult, error) {
	hd, err := h.connector.Connect(ctx)
	if err != nil {
		return RunResult{}, err
	}
	defer hd.Close()
	items := make([]WorkItem, len(h.cfg.Paths))
	for i, p := range h.cfg.Paths {
		items[i] = WorkItem{Path: p, Handle: hd}
	}
	return h.dispatchParallel(ctx, ParallelShared, items)
}

func (h *Harness) runSerial(ctx context.Context) (RunResult, error) {
	hd, err := h.connector.Connect(ctx)
	if err != nil {
		return RunResult{}, err
	}
	defer hd.Close()
	items := make([]WorkItem, len(h.cfg.Paths))
	for i, p := range h.cfg.Paths {
		items[i] = WorkItem{Path: p, Handle: hd}
	}

	h.startTimer(Serial)
	slots := make([]slot, len(items))
	start := time.Now()
	for i, it := range items {
		ids, lat, err := h.query(ctx, Serial, it)
		if err != nil {
			return RunResult{}, err
		}
		slots[i] = slot{ids: ids, latency: lat}
	}
	elapsed := time.Since(start)
	return merge(Serial, elapsed, slots), nil
}

// slot is written by exactly one task.
type slot struct {
	ids     []int
	latency time.Duration
}

func (h *Harness) dispatchParallel(ctx context.Context, s Strategy, items []WorkItem) (RunResult, error) {
	h.startTimer(s)
	slots := make([]slot, len(items))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if h.cfg.Concurrency > 0 {
		g.SetLimit(h.cfg.Concurrency)
	}
	for i, it := range items {
		g.Go(func() error {
			ids, lat, err := h.query(gctx, s, it)
			if err != nil {
				return err
			}
			slots[i] = slot{ids: ids, latency: lat}
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return RunResult{}, err
	}
	return merge(s, elapsed, slots), nil
}

func (h *Harness) query(ctx context.Context, s Strategy, it WorkItem) ([]int, time.Duration, error) {
	start := time.Now()
	ids, err := vcs.QueryChangesetIDs(ctx, h.connector, it.Path, it.Handle)
	lat := time.Since(start)
	h.metrics.observeQuery(s, err)
	return ids, lat, err
}

func (h *Harness) startTimer(s Strategy) {
	if h.beforeDispatch != nil {
		h.beforeDispatch(s)
	}
}

func merge(s Strategy, elapsed time.Duration, slots []slot) RunResult {
	res := RunResult{
		Strategy:  s,
		Elapsed:   elapsed,
		PerPath:   make([][]int, len(slots)),
		Latencies: make([]time.Duration, len(slots)),
	}
	n := 0
	for _, sl := range slots {
		n += len(sl.ids)
	}
	res.IDs = make([]int, 0, n)
	for i, sl := range slots {
		res.PerPath[i] = sl.ids
		res.Latencies[i] = sl.latency
		res.IDs = append(res.IDs, sl.ids...)
	}
	return res
}

func closeAll(handles []vcs.Handle) {
	for _, hd := range handles {
		if err := hd.Close(); err != nil {
			slog.Debug("close handle", "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

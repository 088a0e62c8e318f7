package harness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// fakeConnector serves a fixed history from memory.
type fakeConnector struct {
	history map[string][]int
	delay   time.Duration
	// failOnCall fails the n-th Connect (1-based). Zero never fails.
	failOnCall int32
	// armed fails every Connect while set.
	armed atomic.Bool

	connects atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32

	mu      sync.Mutex
	handles []*fakeHandle
}

func newFakeConnector(history map[string][]int) *fakeConnector {
	return &fakeConnector{history: history}
}

func (f *fakeConnector) Connect(ctx context.Context) (vcs.Handle, error) {
	n := f.connects.Add(1)
	if f.armed.Load() || (f.failOnCall > 0 && n == f.failOnCall) {
		return nil, &vcs.ConnectionError{Endpoint: "fake", Err: errors.New("connection refused")}
	}
	h := &fakeHandle{f: f}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeConnector) openHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if !h.closed.Load() {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	f      *fakeConnector
	closed atomic.Bool
}

func (h *fakeHandle) QueryHistory(ctx context.Context, q vcs.HistoryQuery) ([]vcs.Changeset, error) {
	cur := h.f.inflight.Add(1)
	defer h.f.inflight.Add(-1)
	for {
		p := h.f.peak.Load()
		if cur <= p || h.f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if h.closed.Load() {
		return nil, &vcs.QueryError{Path: q.Path, Code: vcs.CodeUnauthorized, Err: errors.New("handle closed")}
	}
	if h.f.delay > 0 {
		select {
		case <-time.After(h.f.delay):
		case <-ctx.Done():
			return nil, &vcs.QueryError{Path: q.Path, Code: vcs.CodeUnavailable, Err: ctx.Err()}
		}
	}
	ids, ok := h.f.history[q.Path]
	if !ok {
		return nil, &vcs.QueryError{Path: q.Path, Code: vcs.CodeNotFound, Err: errors.New("no such path")}
	}
	out := make([]vcs.Changeset, len(ids))
	for i, id := range ids {
		out[i] = vcs.Changeset{ID: id}
	}
	return out, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

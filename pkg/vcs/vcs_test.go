package vcs_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/server"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

func startService(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	st, err := store.Open(store.BackendSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var recs []store.Record
	for id := 1; id <= 5; id++ {
		recs = append(recs, store.Record{
			Path:      "$/P/a.cs",
			Changeset: vcs.Changeset{ID: id * 10, Owner: "dev", Comment: "c", CreationDate: time.Unix(int64(id), 0).UTC()},
		})
	}
	recs = append(recs, store.Record{Path: "$/P/sub/b.cs", Changeset: vcs.Changeset{ID: 60, CreationDate: time.Unix(6, 0).UTC()}})
	require.NoError(t, st.Put(context.Background(), recs))

	opts = append([]server.Option{server.WithUsers(map[string]string{"bench": "pw"})}, opts...)
	srv := server.New(st, ":0", opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func connectors(url, user, password string) map[string]vcs.Connector {
	return map[string]vcs.Connector{
		vcs.TransportHTTP: vcs.NewHTTPConnector(url, user, password),
		vcs.TransportRPC:  vcs.NewRPCConnector(url, user, password),
		"rpc-json":        &vcs.RPCConnector{URL: url, Username: user, Password: password, UseJSON: true},
	}
}

func TestQueryChangesetIDs(t *testing.T) {
	ts := startService(t)
	for name, c := range connectors(ts.URL, "bench", "pw") {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Connect(ctx)
			require.NoError(t, err)
			defer h.Close()

			ids, err := vcs.QueryChangesetIDs(ctx, c, "$/P/a.cs", h)
			require.NoError(t, err)
			assert.Equal(t, []int{50, 40, 30, 20, 10}, ids)

			// Nil handle connects on demand.
			ids, err = vcs.QueryChangesetIDs(ctx, c, "$/P/a.cs", nil)
			require.NoError(t, err)
			assert.Equal(t, []int{50, 40, 30, 20, 10}, ids)
		})
	}
}

func TestQueryHistoryOptions(t *testing.T) {
	ts := startService(t)
	for name, c := range connectors(ts.URL, "bench", "pw") {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Connect(ctx)
			require.NoError(t, err)
			defer h.Close()

			history, err := h.QueryHistory(ctx, vcs.HistoryQuery{
				Path:     "$/P/a.cs",
				Version:  vcs.ChangesetVersion(40),
				MaxCount: 2,
			})
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, 40, history[0].ID)
			assert.Equal(t, 30, history[1].ID)
			assert.Equal(t, "dev", history[0].Owner)
			assert.True(t, history[0].CreationDate.Equal(time.Unix(4, 0)))

			history, err = h.QueryHistory(ctx, vcs.HistoryQuery{Path: "$/P", Recursion: vcs.RecursionFull})
			require.NoError(t, err)
			assert.Len(t, history, 6)
		})
	}
}

func TestConnectBadCredentials(t *testing.T) {
	ts := startService(t)
	for name, c := range connectors(ts.URL, "bench", "nope") {
		t.Run(name, func(t *testing.T) {
			_, err := c.Connect(context.Background())
			require.Error(t, err)
			assert.True(t, vcs.IsConnectionError(err), "err = %v", err)
		})
	}
}

func TestConnectUnreachable(t *testing.T) {
	ts := startService(t)
	url := ts.URL
	ts.Close()

	for name, c := range connectors(url, "bench", "pw") {
		t.Run(name, func(t *testing.T) {
			_, err := c.Connect(context.Background())
			assert.True(t, vcs.IsConnectionError(err), "err = %v", err)
		})
	}
}

func TestQueryErrorCodes(t *testing.T) {
	ts := startService(t)
	for name, c := range connectors(ts.URL, "bench", "pw") {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Connect(ctx)
			require.NoError(t, err)
			defer h.Close()

			_, err = h.QueryHistory(ctx, vcs.LatestFileHistory("$/P/missing.cs"))
			code, ok := vcs.QueryErrorCode(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, vcs.CodeNotFound, code)

			_, err = h.QueryHistory(ctx, vcs.HistoryQuery{Path: "$/P/a.cs", Version: "Z9"})
			code, ok = vcs.QueryErrorCode(err)
			require.True(t, ok, "err = %v", err)
			assert.Equal(t, vcs.CodeBadRequest, code)
		})
	}
}

func TestSharedHandleConcurrentQueries(t *testing.T) {
	ts := startService(t, server.WithLatency(5*time.Millisecond, 5*time.Millisecond))
	for name, c := range connectors(ts.URL, "bench", "pw") {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := c.Connect(ctx)
			require.NoError(t, err)
			defer h.Close()

			var wg sync.WaitGroup
			errs := make([]error, 16)
			counts := make([]int, 16)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids, err := vcs.QueryChangesetIDs(ctx, c, "$/P/a.cs", h)
					errs[i] = err
					counts[i] = len(ids)
				}(i)
			}
			wg.Wait()
			for i := range errs {
				require.NoError(t, errs[i])
				assert.Equal(t, 5, counts[i])
			}
		})
	}
}

func TestNewConnector(t *testing.T) {
	c, err := vcs.NewConnector(vcs.Options{URL: "http://x", Timeout: time.Second})
	require.NoError(t, err)
	hc, ok := c.(*vcs.HTTPConnector)
	require.True(t, ok)
	assert.Equal(t, time.Second, hc.Timeout)

	c, err = vcs.NewConnector(vcs.Options{URL: "http://x", Transport: vcs.TransportRPC, ProtoJSON: true})
	require.NoError(t, err)
	rc, ok := c.(*vcs.RPCConnector)
	require.True(t, ok)
	assert.True(t, rc.UseJSON)

	_, err = vcs.NewConnector(vcs.Options{Transport: "soap"})
	assert.Error(t, err)
}

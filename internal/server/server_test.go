package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

func testServer(t *testing.T, opts ...Option) (*Server, store.Store) {
	t.Helper()
	st, err := store.Open(store.BackendSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = st.Put(context.Background(), []store.Record{
		{Path: "$/P/a.cs", Changeset: vcs.Changeset{ID: 3, Owner: "dev", CreationDate: time.Unix(300, 0)}},
		{Path: "$/P/a.cs", Changeset: vcs.Changeset{ID: 7, Owner: "dev", CreationDate: time.Unix(700, 0)}},
		{Path: "$/P/b.cs", Changeset: vcs.Changeset{ID: 5, Owner: "dev", CreationDate: time.Unix(500, 0)}},
	})
	require.NoError(t, err)

	opts = append([]Option{WithUsers(map[string]string{"alice": "secret"})}, opts...)
	return New(st, ":0", opts...), st
}

func doRequest(srv *Server, method, path string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if prepare != nil {
		prepare(req)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), "body: %s", rr.Body.String())
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	rr := doRequest(srv, http.MethodPost, vcs.TokenPath, func(r *http.Request) {
		r.SetBasicAuth("alice", "secret")
	})
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var tok vcs.TokenResponse
	decodeResponse(t, rr, &tok)
	require.NotEmpty(t, tok.Token)
	return tok.Token
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	srv, _ := testServer(t)

	rr := doRequest(srv, http.MethodPost, vcs.TokenPath, func(r *http.Request) {
		r.SetBasicAuth("alice", "wrong")
	})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
	var body vcs.ErrorResponse
	decodeResponse(t, rr, &body)
	assert.Equal(t, string(vcs.CodeUnauthorized), body.Code)

	rr = doRequest(srv, http.MethodPost, vcs.TokenPath, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "no credentials")
}

func TestOpenModeAcceptsAnyUser(t *testing.T) {
	st, err := store.Open(store.BackendSQLite, t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	srv := New(st, ":0")

	rr := doRequest(srv, http.MethodPost, vcs.TokenPath, func(r *http.Request) {
		r.SetBasicAuth("anyone", "")
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHistory(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)

	rr := doRequest(srv, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs&version=T", bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var resp vcs.HistoryResponse
	decodeResponse(t, rr, &resp)
	require.Equal(t, 2, resp.Count)
	require.Len(t, resp.Changesets, 2)
	assert.Equal(t, 7, resp.Changesets[0].ID)
	assert.Equal(t, 3, resp.Changesets[1].ID)
}

func TestHistoryErrors(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)

	tests := []struct {
		name   string
		url    string
		auth   func(*http.Request)
		status int
		code   vcs.ErrorCode
	}{
		{"missing token", vcs.HistoryPath + "?path=$/P/a.cs", nil, http.StatusUnauthorized, vcs.CodeUnauthorized},
		{"forged token", vcs.HistoryPath + "?path=$/P/a.cs", bearer("abc.def.ghi"), http.StatusUnauthorized, vcs.CodeUnauthorized},
		{"missing path", vcs.HistoryPath, bearer(token), http.StatusBadRequest, vcs.CodeBadRequest},
		{"bad version", vcs.HistoryPath + "?path=$/P/a.cs&version=X1", bearer(token), http.StatusBadRequest, vcs.CodeBadRequest},
		{"bad recursion", vcs.HistoryPath + "?path=$/P/a.cs&recursion=sideways", bearer(token), http.StatusBadRequest, vcs.CodeBadRequest},
		{"unknown path", vcs.HistoryPath + "?path=$/P/nope.cs", bearer(token), http.StatusNotFound, vcs.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(srv, http.MethodGet, tt.url, tt.auth)
			require.Equal(t, tt.status, rr.Code, "body: %s", rr.Body.String())
			var body vcs.ErrorResponse
			decodeResponse(t, rr, &body)
			assert.Equal(t, string(tt.code), body.Code)
		})
	}
}

func TestTokenFromAnotherServerIsRejected(t *testing.T) {
	a, _ := testServer(t)
	b, _ := testServer(t)
	token := login(t, a)

	rr := doRequest(b, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs", bearer(token))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSharedTokenSecret(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a, _ := testServer(t, WithTokenSecret(secret))
	b, _ := testServer(t, WithTokenSecret(secret))
	token := login(t, a)

	rr := doRequest(b, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs", bearer(token))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)
	srv.auth.now = func() time.Time { return time.Now().Add(2 * defaultTTL) }

	rr := doRequest(srv, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs", bearer(token))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPaths(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)

	rr := doRequest(srv, http.MethodGet, vcs.PathsPath, bearer(token))
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var resp struct {
		Paths []string `json:"paths"`
		Count int      `json:"count"`
	}
	decodeResponse(t, rr, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"$/P/a.cs", "$/P/b.cs"}, resp.Paths)
}

func TestLatencySimulation(t *testing.T) {
	srv, _ := testServer(t, WithLatency(40*time.Millisecond, 0))
	token := login(t, srv)

	start := time.Now()
	rr := doRequest(srv, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs", bearer(token))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	token := login(t, srv)
	doRequest(srv, http.MethodGet, vcs.HistoryPath+"?path=$/P/a.cs", bearer(token))

	rr := doRequest(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "histbench_server_tokens_issued_total 1")
	assert.Contains(t, body, `histbench_server_requests_total{code="200",route="/api/v1/history"} 1`)
	assert.Contains(t, body, "histbench_server_changesets_served_total 2")
}

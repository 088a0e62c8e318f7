package server

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// serviceError carries the error code shared by both transports.
type serviceError struct {
	code vcs.ErrorCode
	err  error
}

func (e *serviceError) Error() string { return e.err.Error() }

func (e *serviceError) Unwrap() error { return e.err }

func errorCodeOf(err error) vcs.ErrorCode {
	var se *serviceError
	if errors.As(err, &se) {
		return se.code
	}
	return vcs.CodeInternal
}

func httpStatus(code vcs.ErrorCode) int {
	switch code {
	case vcs.CodeBadRequest:
		return http.StatusBadRequest
	case vcs.CodeUnauthorized:
		return http.StatusUnauthorized
	case vcs.CodeNotFound:
		return http.StatusNotFound
	case vcs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case vcs.CodeThrottled:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := errorCodeOf(err)
	writeError(w, httpStatus(code), err.Error(), code)
}

// pause blocks for d, returning early with an UNAVAILABLE error if ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return &serviceError{code: vcs.CodeUnavailable, err: ctx.Err()}
	}
}

func (s *Server) queryDelay() time.Duration {
	d := s.latency
	if s.jitter > 0 {
		d += rand.N(s.jitter)
	}
	return d
}

// authenticate validates credentials and issues a token.
func (s *Server) authenticate(ctx context.Context, user, password string, ok bool) (vcs.TokenResponse, error) {
	if err := pause(ctx, s.authDelay); err != nil {
		return vcs.TokenResponse{}, err
	}
	if !ok || !s.checkCredentials(user, password) {
		s.metrics.authFailures.Inc()
		return vcs.TokenResponse{}, &serviceError{code: vcs.CodeUnauthorized, err: errors.New("invalid credentials")}
	}
	token, exp, err := s.auth.issue(user)
	if err != nil {
		return vcs.TokenResponse{}, &serviceError{code: vcs.CodeInternal, err: err}
	}
	s.metrics.tokensIssued.Inc()
	slog.Debug("token issued", "user", user, "expires_at", exp)
	return vcs.TokenResponse{Token: token, ExpiresAt: exp}, nil
}

// history runs a client history query against the store.
func (s *Server) history(ctx context.Context, q vcs.HistoryQuery) (vcs.HistoryResponse, error) {
	sq, err := store.HistoryQueryFor(q)
	if err != nil {
		return vcs.HistoryResponse{}, &serviceError{code: vcs.CodeBadRequest, err: err}
	}

	if !s.limiter.allow(userFromContext(ctx), time.Now()) {
		s.metrics.throttled.Inc()
		return vcs.HistoryResponse{}, &serviceError{code: vcs.CodeThrottled, err: errors.New("query rate limit exceeded")}
	}

	s.metrics.inflight.Inc()
	defer s.metrics.inflight.Dec()

	if err := pause(ctx, s.queryDelay()); err != nil {
		return vcs.HistoryResponse{}, err
	}
	changesets, err := s.store.History(ctx, sq)
	if err != nil {
		if store.IsNotFound(err) {
			return vcs.HistoryResponse{}, &serviceError{code: vcs.CodeNotFound, err: err}
		}
		slog.Error("history query failed", "path", q.Path, "user", userFromContext(ctx), "error", err)
		return vcs.HistoryResponse{}, &serviceError{code: vcs.CodeInternal, err: err}
	}
	if changesets == nil {
		changesets = []vcs.Changeset{}
	}
	s.metrics.changesetsServed.Add(float64(len(changesets)))
	return vcs.HistoryResponse{Path: q.Path, Changesets: changesets, Count: len(changesets)}, nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	user, password, ok := r.BasicAuth()
	tok, err := s.authenticate(r.Context(), user, password, ok)
	if err != nil {
		if errorCodeOf(err) == vcs.CodeUnauthorized {
			w.Header().Set("WWW-Authenticate", `Basic realm="histbench"`)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := vcs.HistoryQueryFromValues(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), vcs.CodeBadRequest)
		return
	}
	resp, err := s.history(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	paths, err := s.store.Paths(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), vcs.CodeInternal)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths, "count": len(paths)})
}

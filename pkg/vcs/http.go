package vcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPConnector connects to the history service's JSON API. Every Connect
// builds its own transport, so handles never share a connection pool.
type HTTPConnector struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// NewHTTPConnector creates a connector for a history service base URL.
func NewHTTPConnector(url, username, password string) *HTTPConnector {
	return &HTTPConnector{
		URL:      url,
		Username: username,
		Password: password,
		Timeout:  60 * time.Second,
	}
}

// Connect authenticates with basic credentials and returns a token-bearing handle.
func (c *HTTPConnector) Connect(ctx context.Context) (Handle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vcs.connect")
	defer span.End()

	base := strings.TrimRight(c.URL, "/")
	tr := http.DefaultTransport.(*http.Transport).Clone()
	h := &httpHandle{
		url: base,
		tr:  tr,
		hc:  &http.Client{Timeout: c.Timeout, Transport: tr},
	}

	var tok TokenResponse
	err := h.do(ctx, http.MethodPost, TokenPath, func(req *http.Request) {
		req.SetBasicAuth(c.Username, c.Password)
	}, &tok)
	if err == nil && tok.Token == "" {
		err = errors.New("empty token in response")
	}
	if err != nil {
		tr.CloseIdleConnections()
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return nil, &ConnectionError{Endpoint: base, Err: err}
	}
	h.token = tok.Token
	return h, nil
}

type httpHandle struct {
	url   string
	tr    *http.Transport
	hc    *http.Client
	token string
}

func (h *httpHandle) QueryHistory(ctx context.Context, q HistoryQuery) ([]Changeset, error) {
	var resp HistoryResponse
	err := h.do(ctx, http.MethodGet, HistoryPath+"?"+q.Values().Encode(), func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}, &resp)
	if err != nil {
		return nil, &QueryError{Path: q.Path, Code: errorCode(err), Err: err}
	}
	return resp.Changesets, nil
}

func (h *httpHandle) Close() error {
	h.tr.CloseIdleConnections()
	return nil
}

// apiError is a non-2xx response decoded from the service's error body.
type apiError struct {
	Status  int
	Code    ErrorCode
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errorCode(err error) ErrorCode {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnavailable
}

func (h *httpHandle) do(ctx context.Context, method, path string, prepare func(*http.Request), result any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.url+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if prepare != nil {
		prepare(req)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var body ErrorResponse
		json.Unmarshal(data, &body)
		ae := &apiError{Status: resp.StatusCode, Code: ErrorCode(body.Code), Message: body.Error}
		if ae.Code == "" {
			ae.Code = codeForStatus(resp.StatusCode)
		}
		if ae.Message == "" {
			ae.Message = strings.TrimSpace(string(data))
		}
		return ae
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeUnauthorized
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeThrottled
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return CodeUnavailable
	}
	return CodeInternal
}

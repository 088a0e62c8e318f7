package vcs

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/net/http2"
	"google.golang.org/protobuf/types/known/structpb"
)

// RPCConnector connects to the history service over Connect RPC. Every
// Connect dials its own HTTP/2 cleartext connection; concurrent queries on
// one handle are multiplexed as streams on that connection.
type RPCConnector struct {
	URL         string
	Username    string
	Password    string
	DialTimeout time.Duration
	UseJSON     bool
}

// NewRPCConnector creates a Connect RPC connector for a history service base URL.
func NewRPCConnector(url, username, password string) *RPCConnector {
	return &RPCConnector{
		URL:         url,
		Username:    username,
		Password:    password,
		DialTimeout: 5 * time.Second,
	}
}

func (c *RPCConnector) Connect(ctx context.Context) (Handle, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vcs.connect")
	defer span.End()

	base := strings.TrimRight(c.URL, "/")
	tr := newH2CTransport(c.DialTimeout)
	hc := &http.Client{Transport: tr}

	var opts []connect.ClientOption
	if c.UseJSON {
		opts = append(opts, connect.WithProtoJSON())
	}
	h := &rpcHandle{
		tr:      tr,
		history: connect.NewClient[structpb.Struct, structpb.Struct](hc, base+QueryHistoryProcedure, opts...),
	}
	auth := connect.NewClient[structpb.Struct, structpb.Struct](hc, base+AuthenticateProcedure, opts...)

	req := connect.NewRequest(&structpb.Struct{})
	creds := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	req.Header().Set("Authorization", "Basic "+creds)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header()))

	resp, err := auth.CallUnary(ctx, req)
	var tok TokenResponse
	if err == nil {
		tok, err = TokenFromStruct(resp.Msg)
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

type rpcHandle struct {
	tr      *http2.Transport
	history *connect.Client[structpb.Struct, structpb.Struct]
	token   string
}

func (h *rpcHandle) QueryHistory(ctx context.Context, q HistoryQuery) ([]Changeset, error) {
	msg, err := q.Struct()
	if err != nil {
		return nil, &QueryError{Path: q.Path, Code: CodeBadRequest, Err: err}
	}
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+h.token)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header()))

	resp, err := h.history.CallUnary(ctx, req)
	if err != nil {
		return nil, &QueryError{Path: q.Path, Code: rpcErrorCode(err), Err: err}
	}
	history, err := HistoryFromStruct(resp.Msg)
	if err != nil {
		return nil, &QueryError{Path: q.Path, Code: CodeInternal, Err: err}
	}
	return history, nil
}

func (h *rpcHandle) Close() error {
	h.tr.CloseIdleConnections()
	return nil
}

func rpcErrorCode(err error) ErrorCode {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return CodeUnavailable
	}
	switch ce.Code() {
	case connect.CodeInvalidArgument:
		return CodeBadRequest
	case connect.CodeUnauthenticated, connect.CodePermissionDenied:
		return CodeUnauthorized
	case connect.CodeNotFound:
		return CodeNotFound
	case connect.CodeResourceExhausted:
		return CodeThrottled
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled:
		return CodeUnavailable
	}
	return CodeInternal
}

func newH2CTransport(dialTimeout time.Duration) *http2.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     10 * time.Second,
	}
}

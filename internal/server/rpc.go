package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// mountRPC registers the Connect procedures of the history service.
func (s *Server) mountRPC(r chi.Router) {
	r.Handle(vcs.AuthenticateProcedure, connect.NewUnaryHandler(vcs.AuthenticateProcedure, s.rpcAuthenticate))
	r.Handle(vcs.QueryHistoryProcedure, connect.NewUnaryHandler(vcs.QueryHistoryProcedure, s.rpcQueryHistory))
}

func mapServiceError(err error) error {
	switch errorCodeOf(err) {
	case vcs.CodeBadRequest:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case vcs.CodeUnauthorized:
		return connect.NewError(connect.CodeUnauthenticated, err)
	case vcs.CodeNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case vcs.CodeUnavailable:
		return connect.NewError(connect.CodeUnavailable, err)
	case vcs.CodeThrottled:
		return connect.NewError(connect.CodeResourceExhausted, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func (s *Server) rpcAuthenticate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	user, password, ok := (&http.Request{Header: req.Header()}).BasicAuth()
	tok, err := s.authenticate(ctx, user, password, ok)
	if err != nil {
		return nil, mapServiceError(err)
	}
	msg, err := vcs.TokenStruct(tok)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func (s *Server) rpcQueryHistory(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	user, err := s.authenticateHeader(req.Header())
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}
	ctx = context.WithValue(ctx, ctxUserKey, user)

	q, err := vcs.HistoryQueryFromStruct(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	resp, err := s.history(ctx, q)
	if err != nil {
		return nil, mapServiceError(err)
	}
	msg, err := vcs.HistoryStruct(resp.Path, resp.Changesets)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

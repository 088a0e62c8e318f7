package vcs

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeUnavailable  ErrorCode = "UNAVAILABLE"
	CodeThrottled    ErrorCode = "THROTTLED"
	CodeInternal     ErrorCode = "INTERNAL"
)

// ConnectionError reports a failure to reach or authenticate with the service.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a history query the service rejected or failed.
type QueryError struct {
	Path string
	Code ErrorCode
	Err  error
}

func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("query history %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("query history %s: %s: %v", e.Path, e.Code, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// QueryErrorCode returns the code of a wrapped QueryError.
func QueryErrorCode(err error) (ErrorCode, bool) {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return "", false
	}
	return qe.Code, true
}

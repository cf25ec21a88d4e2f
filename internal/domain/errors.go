// Package domain defines the error taxonomy and value types of the admission-control core.
package domain

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents admission-control error codes.
type ErrorCode int

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown ErrorCode = iota
	// CodeStoreUnavailable indicates the quota store is not configured or disabled.
	CodeStoreUnavailable
	// CodeStoreOperationFailed indicates a store call failed during evaluation.
	CodeStoreOperationFailed
	// CodeHealthProbeFailed indicates a single health indicator failed.
	CodeHealthProbeFailed
	// CodeQueuesNotReady indicates the readiness probe exhausted its attempts.
	CodeQueuesNotReady
	// CodeWorkerOperationFailed indicates pause or resume failed for a worker.
	CodeWorkerOperationFailed
	// CodeLimitLookupFailed indicates the base limit could not be resolved.
	CodeLimitLookupFailed
	// CodeInvalidInput indicates a malformed request or command.
	CodeInvalidInput
)

// String returns the string representation of ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeStoreUnavailable:
		return "store_unavailable"
	case CodeStoreOperationFailed:
		return "store_operation_failed"
	case CodeHealthProbeFailed:
		return "health_probe_failed"
	case CodeQueuesNotReady:
		return "queues_not_ready"
	case CodeWorkerOperationFailed:
		return "worker_operation_failed"
	case CodeLimitLookupFailed:
		return "limit_lookup_failed"
	case CodeInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the admission-control error type.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeStoreUnavailable, CodeStoreOperationFailed, CodeQueuesNotReady, CodeHealthProbeFailed:
		return http.StatusServiceUnavailable
	case CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus maps the error code to a gRPC status.
func (e *Error) GRPCStatus() *status.Status {
	switch e.Code {
	case CodeStoreUnavailable, CodeStoreOperationFailed, CodeQueuesNotReady, CodeHealthProbeFailed:
		return status.New(codes.Unavailable, e.Message)
	case CodeInvalidInput:
		return status.New(codes.InvalidArgument, e.Message)
	case CodeWorkerOperationFailed:
		return status.New(codes.Aborted, e.Message)
	default:
		return status.New(codes.Internal, e.Message)
	}
}

// NewError creates a new error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps cause with the code of base.
func WrapError(base *Error, message string, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: message,
		Cause:   cause,
	}
}

// Predefined errors.
var (
	ErrStoreUnavailable      = NewError(CodeStoreUnavailable, "rate limiting store not available")
	ErrStoreOperationFailed  = NewError(CodeStoreOperationFailed, "failed to evaluate rate limit")
	ErrHealthProbeFailed     = NewError(CodeHealthProbeFailed, "health indicator failed")
	ErrQueuesNotReady        = NewError(CodeQueuesNotReady, "queues are not enabled")
	ErrWorkerOperationFailed = NewError(CodeWorkerOperationFailed, "worker operation failed")
	ErrLimitLookupFailed     = NewError(CodeLimitLookupFailed, "failed to resolve rate limit")
	ErrInvalidInput          = NewError(CodeInvalidInput, "invalid input")
)

// IsServiceUnavailable reports whether err should surface as a service-unavailable signal.
func IsServiceUnavailable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus() == http.StatusServiceUnavailable
	}
	return false
}

// IsQueuesNotReady reports whether err is a readiness failure.
func IsQueuesNotReady(err error) bool {
	return errors.Is(err, ErrQueuesNotReady)
}

// IsWorkerOperationFailed reports whether err is a pause or resume failure.
func IsWorkerOperationFailed(err error) bool {
	return errors.Is(err, ErrWorkerOperationFailed)
}

// HTTPStatusFromError converts any error to an HTTP status code.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GRPCCodeFromError converts any error to a gRPC code.
func GRPCCodeFromError(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.GRPCStatus().Code()
	}
	return codes.Internal
}

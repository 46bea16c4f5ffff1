package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrInvalidInput is the caller's fault: empty or blank text, missing
	// provider ID. Never retried.
	ErrInvalidInput = fmt.Errorf("invalid input")

	// ErrServiceUnavailable covers transient embedding-service failures:
	// network errors, timeouts, non-2xx responses. Safe to retry with backoff.
	ErrServiceUnavailable = fmt.Errorf("embedding service unavailable")

	// ErrMisconfigured means the embedding service cannot be reached at all
	// until setup is fixed (missing API key or model). Never retried.
	ErrMisconfigured = fmt.Errorf("embedding service misconfigured")

	// ErrMalformedResponse means the remote returned something that is not a
	// numeric vector of the expected dimensionality.
	ErrMalformedResponse = fmt.Errorf("malformed embedding response")

	// ErrDimensionMismatch indicates model-version skew between a query
	// vector and stored profile vectors. Always surfaced, never coerced.
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch")

	ErrProfileStore    = fmt.Errorf("profile store operation failed")
	ErrProfileNotFound = fmt.Errorf("provider profile not found")
	ErrVectorSearch    = fmt.Errorf("vector search failed")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: authentication failed")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "SearchService.PerformSearch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on retry. Misconfiguration and malformed responses are excluded: retrying
// an unchanged contract violation is futile.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeMisconfigured      ErrorCode = "MISCONFIGURED"
	CodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	CodeDimensionMismatch  ErrorCode = "DIMENSION_MISMATCH"
	CodeProfileStore       ErrorCode = "PROFILE_STORE"
	CodeProfileNotFound    ErrorCode = "PROFILE_NOT_FOUND"
	CodeVectorSearch       ErrorCode = "VECTOR_SEARCH"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeGatewayAuth        ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload  ErrorCode = "RPC_INVALID_PAYLOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:       CodeInvalidInput,
	ErrServiceUnavailable: CodeServiceUnavailable,
	ErrMisconfigured:      CodeMisconfigured,
	ErrMalformedResponse:  CodeMalformedResponse,
	ErrDimensionMismatch:  CodeDimensionMismatch,
	ErrProfileStore:       CodeProfileStore,
	ErrProfileNotFound:    CodeProfileNotFound,
	ErrVectorSearch:       CodeVectorSearch,
	ErrConfigLoad:         CodeConfigLoad,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

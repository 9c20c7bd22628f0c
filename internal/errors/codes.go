package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for replication operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Admission errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeDBNotFound      ErrorCode = 1001
	ErrCodeDBPreExist      ErrorCode = 1002
	ErrCodeWriteToSlave    ErrorCode = 1003

	// Server errors (5xx equivalent)
	ErrCodeInternal            ErrorCode = 2000
	ErrCodeWriteError          ErrorCode = 2001
	ErrCodeTimeout             ErrorCode = 2002
	ErrCodeUpstreamUnavailable ErrorCode = 2003
	ErrCodeApplyMismatch       ErrorCode = 2004
	ErrCodeWaitingOnUpstream   ErrorCode = 2005
)

// ReplicatorError represents a structured error with code and context
type ReplicatorError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ReplicatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ReplicatorError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes used by the
// replicator service.
func (e *ReplicatorError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeWriteToSlave:
		return http.StatusBadRequest
	case ErrCodeDBNotFound:
		return http.StatusNotFound
	case ErrCodeDBPreExist:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeUpstreamUnavailable, ErrCodeWaitingOnUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new ReplicatorError
func New(code ErrorCode, message string, cause error) *ReplicatorError {
	return &ReplicatorError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ReplicatorError) WithDetail(key string, value interface{}) *ReplicatorError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *ReplicatorError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func DBNotFound(name string) *ReplicatorError {
	return New(ErrCodeDBNotFound, fmt.Sprintf("db not found: %s", name), nil).
		WithDetail("db_name", name)
}

func DBPreExist(name string) *ReplicatorError {
	return New(ErrCodeDBPreExist, fmt.Sprintf("db already exists: %s", name), nil).
		WithDetail("db_name", name)
}

func WriteToSlave(name string) *ReplicatorError {
	return New(ErrCodeWriteToSlave, fmt.Sprintf("write to non-leader db: %s", name), nil).
		WithDetail("db_name", name)
}

func WriteError(message string, cause error) *ReplicatorError {
	return New(ErrCodeWriteError, message, cause)
}

// AckTimeout is the mode-2 write outcome when no follower acks in time. The
// message text is part of the public contract.
func AckTimeout() *ReplicatorError {
	return New(ErrCodeTimeout, "Failed to receive ack from follower", nil)
}

func UpstreamUnavailable(name string, cause error) *ReplicatorError {
	return New(ErrCodeUpstreamUnavailable, fmt.Sprintf("no upstream available for db: %s", name), cause).
		WithDetail("db_name", name)
}

func ApplyMismatch(expected, got uint64) *ReplicatorError {
	return New(ErrCodeApplyMismatch, fmt.Sprintf("apply sequence mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected_seq", expected).
		WithDetail("got_seq", got)
}

func WaitingOnUpstream(name string) *ReplicatorError {
	return New(ErrCodeWaitingOnUpstream, fmt.Sprintf("db %s is waiting on upstream for new updates", name), nil).
		WithDetail("db_name", name)
}

func Internal(message string, cause error) *ReplicatorError {
	return New(ErrCodeInternal, message, cause)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	if re, ok := err.(*ReplicatorError); ok {
		return re.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeSpawnFailed   = "SPAWN_FAILED"
	ErrCodeStopFailed    = "STOP_FAILED"
	ErrCodePoolExhausted = "POOL_EXHAUSTED"
	ErrCodeCountFailed   = "NODE_COUNT_FAILED"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NodeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type NodeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *NodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a new NodeError.
func NewNodeError(code, message string, err error) *NodeError {
	return &NodeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *NodeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

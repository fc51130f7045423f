package qwen

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped from upstream failures. Use errors.Is against
// any error returned by Generate or Stream.
var (
	ErrTimeout         = errors.New("qwen: timeout")
	ErrAuthFailed      = errors.New("qwen: auth failed")
	ErrRateLimited     = errors.New("qwen: rate limited")
	ErrContentRejected = errors.New("qwen: content rejected")
	ErrUnavailable     = errors.New("qwen: unavailable")
)

// Upstream error codes of interest.
const (
	ErrCodeDataInspectionFailed = "DataInspectionFailed"
	ErrCodeInvalidAPIKey        = "InvalidApiKey"
	ErrCodeRateLimitExceeded    = "RateLimitExceeded"
)

// Error represents a DashScope API error with its upstream code.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("qwen: %s - %s (request_id=%s, http_status=%d)",
			e.Code, e.Message, e.RequestID, e.HTTPStatus)
	}
	return fmt.Sprintf("qwen: %s - %s (http_status=%d)", e.Code, e.Message, e.HTTPStatus)
}

// Unwrap maps the upstream status to one of the package sentinels so
// callers can classify with errors.Is.
func (e *Error) Unwrap() error {
	switch {
	case e.HTTPStatus == 400 && e.Code == ErrCodeDataInspectionFailed:
		return ErrContentRejected
	case e.HTTPStatus == 401 || e.HTTPStatus == 403:
		return ErrAuthFailed
	case e.HTTPStatus == 429:
		return ErrRateLimited
	default:
		return ErrUnavailable
	}
}

// Retryable reports whether the request can be retried.
func (e *Error) Retryable() bool {
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

// AsError attempts to cast an error to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Package provider holds the cross-cutting pieces shared by every provider
// contract: the typed API error taxonomy, connection options governing
// timeouts and retries, and the retry schedule.
//
// The concrete STT, LLM, TTS and realtime integrations live outside this
// repository; Cadenza ships the contracts, fallback adapters, and mocks.
package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
)

// APIError is the base error for failed provider calls. Specific failure
// modes are expressed by the wrapper types below; use errors.As to inspect
// them.
type APIError struct {
	// Msg is a short human-readable description.
	Msg string

	// Retryable reports whether retrying the call may succeed.
	Retryable bool

	// Body is the raw response body when one was available, for diagnostics.
	Body string
}

func (e *APIError) Error() string {
	return "provider: " + e.Msg
}

// APIStatusError is an HTTP-like status failure. 4xx statuses are
// non-retryable by default; 5xx are retryable.
type APIStatusError struct {
	APIError
	StatusCode int
}

// NewStatusError builds an APIStatusError with the default retryability for
// the status class.
func NewStatusError(msg string, status int) *APIStatusError {
	return &APIStatusError{
		APIError: APIError{
			Msg:       fmt.Sprintf("%s (status %d)", msg, status),
			Retryable: status < 400 || status >= 500,
		},
		StatusCode: status,
	}
}

// APIConnectionError is a transport-level failure (connect, DNS, reset).
// Retryable unless overridden.
type APIConnectionError struct {
	APIError
}

// NewConnectionError builds a retryable APIConnectionError wrapping cause.
func NewConnectionError(msg string, cause error) *APIConnectionError {
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return &APIConnectionError{APIError{Msg: msg, Retryable: true}}
}

// APITimeoutError reports that a call ran past its configured timeout.
// Retryable by default.
type APITimeoutError struct {
	APIError
	Timeout time.Duration
}

// NewTimeoutError builds an APITimeoutError for the given timeout.
func NewTimeoutError(timeout time.Duration) *APITimeoutError {
	return &APITimeoutError{
		APIError: APIError{
			Msg:       fmt.Sprintf("request timed out after %v", timeout),
			Retryable: true,
		},
		Timeout: timeout,
	}
}

// IsRetryable reports whether err allows a retry: API errors consult their
// Retryable flag, everything else (including context cancellation) does not.
func IsRetryable(err error) bool {
	var status *APIStatusError
	if errors.As(err, &status) {
		return status.Retryable
	}
	var conn *APIConnectionError
	if errors.As(err, &conn) {
		return conn.Retryable
	}
	var to *APITimeoutError
	if errors.As(err, &to) {
		return to.Retryable
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Retryable
	}
	return false
}

// ConnOptions governs timeout and retry behaviour for provider calls.
type ConnOptions struct {
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// MaxRetry is the number of retries after the first attempt.
	MaxRetry int

	// RetryInterval is the base delay of the exponential retry schedule.
	RetryInterval time.Duration

	// RetryIntervalCap bounds the exponential schedule. Zero selects
	// DefaultConnOptions' cap.
	RetryIntervalCap time.Duration
}

// DefaultConnOptions are the connection options used when a caller passes the
// zero value.
var DefaultConnOptions = ConnOptions{
	Timeout:          10 * time.Second,
	MaxRetry:         3,
	RetryInterval:    500 * time.Millisecond,
	RetryIntervalCap: 8 * time.Second,
}

// withDefaults fills zero fields from DefaultConnOptions.
func (o ConnOptions) withDefaults() ConnOptions {
	d := DefaultConnOptions
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRetry == 0 {
		o.MaxRetry = d.MaxRetry
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.RetryIntervalCap == 0 {
		o.RetryIntervalCap = d.RetryIntervalCap
	}
	return o
}

// Normalized returns o with defaults applied. Exported so adapters embedding
// ConnOptions in their own option structs normalize consistently.
func (o ConnOptions) Normalized() ConnOptions { return o.withDefaults() }

// IntervalForRetry returns the delay before retry attempt n (zero-based):
// min(RetryInterval·2^n, RetryIntervalCap).
func (o ConnOptions) IntervalForRetry(attempt int) time.Duration {
	o = o.withDefaults()
	return async.Backoff(o.RetryInterval, o.RetryIntervalCap, attempt)
}

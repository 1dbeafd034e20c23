package provider_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider"
)

func TestStatusError_RetryabilityByClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{403, false},
		{404, false},
		{429, false},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := provider.NewStatusError("call failed", tt.status)
		if got := provider.IsRetryable(err); got != tt.want {
			t.Errorf("status %d: IsRetryable want %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestIsRetryable_WrappedErrors(t *testing.T) {
	t.Parallel()

	conn := provider.NewConnectionError("dial tcp", errors.New("connection refused"))
	wrapped := fmt.Errorf("llm: %w", conn)
	if !provider.IsRetryable(wrapped) {
		t.Error("wrapped connection error: want retryable")
	}

	if provider.IsRetryable(errors.New("plain")) {
		t.Error("plain error: want non-retryable")
	}

	to := provider.NewTimeoutError(2 * time.Second)
	if !provider.IsRetryable(to) {
		t.Error("timeout error: want retryable")
	}
}

func TestConnOptions_IntervalForRetry(t *testing.T) {
	t.Parallel()

	opts := provider.ConnOptions{RetryInterval: 100 * time.Millisecond, RetryIntervalCap: time.Second}
	if got := opts.IntervalForRetry(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: want 100ms, got %v", got)
	}
	if got := opts.IntervalForRetry(3); got != 800*time.Millisecond {
		t.Errorf("attempt 3: want 800ms, got %v", got)
	}
	if got := opts.IntervalForRetry(10); got != time.Second {
		t.Errorf("attempt 10: want cap 1s, got %v", got)
	}
}

func TestConnOptions_NormalizedFillsDefaults(t *testing.T) {
	t.Parallel()

	o := provider.ConnOptions{}.Normalized()
	if o.Timeout == 0 || o.MaxRetry == 0 || o.RetryInterval == 0 {
		t.Errorf("Normalized left zero fields: %+v", o)
	}
}

package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("http %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 599}
	for _, code := range retryable {
		if !IsRetryableHTTPStatus(code) {
			t.Errorf("status %d must be retryable", code)
		}
	}
	final := []int{200, 201, 400, 401, 403, 404, 422}
	for _, code := range final {
		if IsRetryableHTTPStatus(code) {
			t.Errorf("status %d must not be retryable", code)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil is not retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Error("deadline exceeded is retryable")
	}
	if !IsRetryableError(fmt.Errorf("call failed: %w", &statusErr{code: 503})) {
		t.Error("wrapped 503 is retryable")
	}
	if IsRetryableError(fmt.Errorf("call failed: %w", &statusErr{code: 400})) {
		t.Error("wrapped 400 is not retryable")
	}
	if IsRetryableError(errors.New("boom")) {
		t.Error("plain errors are not retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != 3*time.Second {
		t.Fatalf("got %s, want the header honoured", got)
	}

	// clamped to max
	resp.Header.Set("Retry-After", "600")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("got %s, want clamp to max", got)
	}

	// missing or junk header falls back
	resp.Header.Set("Retry-After", "soon")
	if got := RetryAfterDuration(resp, 2*time.Second, time.Minute); got != 2*time.Second {
		t.Fatalf("got %s, want fallback", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, time.Minute); got != 2*time.Second {
		t.Fatalf("got %s, want fallback on nil response", got)
	}
}

func TestJitterStaysWithinBand(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		got := Jitter(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jitter %s outside +-20%% band", got)
		}
	}
	if Jitter(0) != 0 {
		t.Fatal("zero base must yield zero")
	}
}

func TestBackoffGrowsAndClamps(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	// attempt 0 is roughly base, attempt 3 would be 800ms, attempt 10 clamps
	for attempt, ceiling := range map[int]time.Duration{
		0:  120 * time.Millisecond,
		3:  960 * time.Millisecond,
		10: 1200 * time.Millisecond,
	} {
		got := Backoff(base, max, attempt)
		if got > ceiling {
			t.Errorf("attempt %d: backoff %s above jittered ceiling %s", attempt, got, ceiling)
		}
	}

	// monotone in expectation: a later attempt's floor exceeds an earlier
	// attempt's ceiling when far apart
	early := Backoff(base, max, 0)
	late := Backoff(base, max, 3)
	if late <= early {
		t.Errorf("backoff not growing: attempt 0 = %s, attempt 3 = %s", early, late)
	}
}

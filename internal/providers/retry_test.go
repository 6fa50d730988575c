package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableErrorHTTPStatus(t *testing.T) {
	cases := map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true, 400: false, 404: false}
	for status, want := range cases {
		got := IsRetryableError(&HTTPError{Status: status})
		if got != want {
			t.Fatalf("status %d: expected retryable=%v, got %v", status, want, got)
		}
	}
}

func TestIsRetryableErrorFloodWait(t *testing.T) {
	if !IsRetryableError(&FloodWaitError{Wait: 5 * time.Second}) {
		t.Fatalf("expected flood-wait error to be retryable")
	}
}

func TestRetryDoHonorsFloodWaitDelay(t *testing.T) {
	attempts := 0
	start := time.Now()
	_, err := RetryDo(context.Background(), RetryConfig{Attempts: 2, MinDelay: time.Hour}, func() (struct{}, error) {
		attempts++
		if attempts == 1 {
			return struct{}{}, &FloodWaitError{Wait: 10 * time.Millisecond}
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected flood-wait's own delay (10ms) to override the 1h MinDelay, took %v", elapsed)
	}
}

func TestRetryDoStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), DefaultRetryConfig(), func() (struct{}, error) {
		attempts++
		return struct{}{}, &HTTPError{Status: 400, Body: "bad request"}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if d := ParseRetryAfter("30"); d != 30*time.Second {
		t.Fatalf("expected 30s, got %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Fatalf("expected 0 for empty header, got %v", d)
	}
}

func TestComputeDelayUsesHTTPRetryAfter(t *testing.T) {
	err := &HTTPError{Status: 429, RetryAfter: 2 * time.Second}
	if !errors.As(err, new(*HTTPError)) {
		t.Fatalf("sanity check failed")
	}
	if d := computeDelay(DefaultRetryConfig(), 1, err); d != 2*time.Second {
		t.Fatalf("expected retry-after to override backoff, got %v", d)
	}
}

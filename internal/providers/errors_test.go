package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyContextWindowExceeded(t *testing.T) {
	cases := []struct {
		name   string
		err    *HTTPError
		wantCW bool
	}{
		{"openai style", &HTTPError{Status: 400, Body: `{"error":{"code":"context_length_exceeded"}}`}, true},
		{"prose style", &HTTPError{Status: 400, Body: "This model's maximum context length is 128000 tokens"}, true},
		{"payload too large", &HTTPError{Status: 413, Body: "Input is too long for requested model"}, true},
		{"unrelated 400", &HTTPError{Status: 400, Body: "invalid tool schema"}, false},
		{"rate limit", &HTTPError{Status: 429, Body: "slow down"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyHTTPError(tc.err)
			if got := errors.Is(err, ErrContextWindowExceeded); got != tc.wantCW {
				t.Errorf("errors.Is(ErrContextWindowExceeded) = %v, want %v", got, tc.wantCW)
			}
		})
	}
}

func TestRetryDoRetriesOn429(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	result, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 429, Body: "rate limited"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("got result %q after %d calls", result, calls)
	}
}

func TestRetryDoFailsFastOnContextWindow(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		return "", classifyHTTPError(&HTTPError{Status: 400, Body: "maximum context length exceeded"})
	})
	if !errors.Is(err, ErrContextWindowExceeded) {
		t.Fatalf("expected context window error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retries, got %d calls", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("got %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty: got %v", d)
	}
	if d := ParseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage: got %v", d)
	}
}

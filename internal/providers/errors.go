package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrContextWindowExceeded marks a model rejection caused by the prompt
// exceeding the model's context limit. The session runtime reacts by
// compacting history and retrying once.
var ErrContextWindowExceeded = errors.New("context window exceeded")

// HTTPError is a non-200 response from a provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed on retry.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// Markers providers use to report context exhaustion. Matched
// case-insensitively against the error body.
var contextWindowMarkers = []string{
	"context_length_exceeded",
	"context window",
	"maximum context length",
	"input is too long",
	"prompt is too long",
	"exceeds the maximum number of tokens",
}

// classifyHTTPError maps a provider rejection onto a sentinel where one
// applies, so callers can use errors.Is instead of parsing bodies.
func classifyHTTPError(e *HTTPError) error {
	if e.Status == 400 || e.Status == 413 {
		body := strings.ToLower(e.Body)
		for _, marker := range contextWindowMarkers {
			if strings.Contains(body, marker) {
				return fmt.Errorf("%w: %s", ErrContextWindowExceeded, e.Body)
			}
		}
	}
	return e
}

// ParseRetryAfter parses a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

package client

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrWindowExceeded is returned when the server rejects a request because
	// from + size passed the maximum result window.
	ErrWindowExceeded = errors.New("result window exceeded")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTruncated represents a 200 response whose body arrived
	// incomplete. A truncated page must never be mistaken for a short final
	// page, so it is retried like a network failure.
	ErrorClassTruncated ErrorClass = "truncated"
)

// APIError represents a search API error with additional context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search API %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search API %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure should be retried.
func (e *APIError) Transient() bool {
	switch e.Class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassTruncated:
		return true
	default:
		return false
	}
}

// IsWindowExceeded reports whether err is the server's result-window rejection.
func IsWindowExceeded(err error) bool {
	return errors.Is(err, ErrWindowExceeded)
}

// isWindowExceededBody matches the server's rejection of from+size past the
// result window. Elasticsearch-style backends phrase this as
// "Result window is too large". The match is anchored on "result window" so
// unrelated 4xx bodies that merely mention a window are not misclassified.
func isWindowExceededBody(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "result window")
}

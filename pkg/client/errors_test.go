package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err: &APIError{
				StatusCode: 503,
				Class:      ErrorClassServer,
				Message:    "503 Service Unavailable",
			},
			want: "search API server error (status 503): 503 Service Unavailable",
		},
		{
			name: "with wrapped error",
			err: &APIError{
				StatusCode: 400,
				Class:      ErrorClassClient,
				Message:    "400 Bad Request",
				Err:        ErrWindowExceeded,
			},
			want: "search API client error (status 400): 400 Bad Request: result window exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Transient(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassTruncated, true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			err := &APIError{Class: tt.class}
			if got := err.Transient(); got != tt.want {
				t.Errorf("Transient() for class %q = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestIsWindowExceeded(t *testing.T) {
	apiErr := &APIError{
		StatusCode: 400,
		Class:      ErrorClassClient,
		Message:    "400 Bad Request",
		Err:        ErrWindowExceeded,
	}

	if !IsWindowExceeded(apiErr) {
		t.Error("IsWindowExceeded() = false for a window-exceeded error")
	}
	if !IsWindowExceeded(fmt.Errorf("segment page: %w", apiErr)) {
		t.Error("IsWindowExceeded() = false for a wrapped window-exceeded error")
	}
	if IsWindowExceeded(&APIError{StatusCode: 400, Class: ErrorClassClient}) {
		t.Error("IsWindowExceeded() = true for a plain client error")
	}
	if IsWindowExceeded(errors.New("unrelated")) {
		t.Error("IsWindowExceeded() = true for an unrelated error")
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is() did not find the wrapped error")
	}
}

func TestIsWindowExceededBody(t *testing.T) {
	body := `{"error":"Result window is too large, from + size must be less than or equal to: [10000]"}`
	if !isWindowExceededBody([]byte(body)) {
		t.Error("isWindowExceededBody() = false for a window rejection body")
	}
	if isWindowExceededBody([]byte(`{"error":"malformed query"}`)) {
		t.Error("isWindowExceededBody() = true for an unrelated error body")
	}
	// An unrelated message that mentions a window must not be mistaken for
	// the result-window rejection: it would silently end a segment early.
	if isWindowExceededBody([]byte(`{"error":"window function not supported in this query"}`)) {
		t.Error("isWindowExceededBody() = true for an unrelated mention of a window")
	}
}

func TestErrRetryExhausted_Message(t *testing.T) {
	if !strings.Contains(ErrRetryExhausted.Error(), "exhausted") {
		t.Errorf("unexpected sentinel message %q", ErrRetryExhausted.Error())
	}
}

package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.expected {
				t.Errorf("shouldRetry(%s) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestBreakerEligible(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := breakerEligible(tt.class); got != tt.expected {
				t.Errorf("breakerEligible(%s) = %v, want %v", tt.class, got, tt.expected)
			}
		})
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	err := &UpstreamError{Status: 503, Class: ErrorClassServer, Message: "503 Service Unavailable"}
	want := "upstream server error (status 503): 503 Service Unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	inner := errors.New("connection reset")
	wrapped := &UpstreamError{Status: 0, Class: ErrorClassNetwork, Message: "transport", Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Error("Unwrap should expose the inner error")
	}
}

func TestUpstreamErrorStatusCode(t *testing.T) {
	err := &UpstreamError{Status: 404, Class: ErrorClassClient, Message: "404 Not Found"}
	if err.StatusCode() != 404 {
		t.Errorf("StatusCode() = %d, want 404", err.StatusCode())
	}

	// The status survives wrapping, which is how the cache layer reads it.
	outer := fmt.Errorf("%w after 3 attempts: %w", ErrRetryExhausted, err)
	var upstream *UpstreamError
	if !errors.As(outer, &upstream) {
		t.Fatal("errors.As failed through the wrap chain")
	}
	if upstream.StatusCode() != 404 {
		t.Errorf("Wrapped StatusCode() = %d, want 404", upstream.StatusCode())
	}
}

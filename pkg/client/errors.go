package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrBreakerOpen is returned without touching cache or network when
	// the circuit breaker presumes the upstream down.
	ErrBreakerOpen = errors.New("upstream presumed down: circuit breaker open")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass classifies an upstream failure for retry and breaker decisions.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// UpstreamError is a failed provider response with its classification.
type UpstreamError struct {
	Status  int
	Class   ErrorClass
	Message string
	Err     error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Class, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Class, e.Status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusCode exposes the HTTP status for error classification at the cache
// layer.
func (e *UpstreamError) StatusCode() int {
	return e.Status
}

// shouldRetry determines if an error class warrants another attempt.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// Terminal 4xx: retrying cannot change the answer.
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// breakerEligible determines if an error class counts toward tripping the
// circuit breaker. Permanent client errors never do: a flood of legitimate
// 404s must not take the provider offline for other callers.
func breakerEligible(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

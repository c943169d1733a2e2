package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// statusCoder is satisfied by errors that carry an HTTP status code, such as
// the orchestrator's upstream error type.
type statusCoder interface {
	StatusCode() int
}

// serverErrorPattern matches a 5xx status token in an error message.
// Anchored to three digits: the literal substring "5" in e.g.
// "timeout after 5000ms" must never count as a server error.
var serverErrorPattern = regexp.MustCompile(`\b5\d{2}\b`)

// transientTokens are message fragments of known transient network failures.
var transientTokens = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"unexpected eof",
	"econnrefused",
	"econnreset",
	"etimedout",
}

// ClassifyResult reports whether a successful fetch produced a structurally
// empty result. Empty results are cached with the short KindEmptyResult TTL
// so a resource with no data yet is retried soon, not for the full window.
func ClassifyResult(data json.RawMessage) (ErrorKind, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return KindEmptyResult, true
	}

	switch trimmed[0] {
	case '[':
		var seq []json.RawMessage
		if err := json.Unmarshal(trimmed, &seq); err == nil && len(seq) == 0 {
			return KindEmptyResult, true
		}
	case '{':
		// Conventional "results" field carrying the payload sequence.
		var obj struct {
			Results *[]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &obj); err == nil &&
			obj.Results != nil && len(*obj.Results) == 0 {
			return KindEmptyResult, true
		}
	}

	return "", false
}

// ClassifyError maps a failed fetch to an error kind for caching.
//
// Priority order: explicit rate limiting, confirmed absence, transient
// server/network failure, permanent client error, then a transient default.
// The status code is taken from the argument when positive, otherwise from
// the error itself when it carries one.
func ClassifyError(err error, status int) ErrorKind {
	if status <= 0 {
		var sc statusCoder
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}
	}

	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case status == 429,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimited

	case status == 404,
		strings.Contains(msg, "not found"):
		return KindNotFound

	case status >= 500,
		serverErrorPattern.MatchString(msg),
		isTransientNetworkError(err, msg):
		return KindTemporaryError

	case status >= 400 && status < 500:
		return KindPermanentError

	default:
		return KindTemporaryError
	}
}

// isTransientNetworkError reports whether err looks like a connection-level
// failure or timeout.
func isTransientNetworkError(err error, msg string) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

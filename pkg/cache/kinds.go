package cache

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failed or empty fetch for error caching.
type ErrorKind string

const (
	// KindEmptyResult marks a valid response that carried no data yet.
	KindEmptyResult ErrorKind = "EMPTY_RESULT"

	// KindRateLimited marks an upstream 429 / rate-limit response.
	KindRateLimited ErrorKind = "RATE_LIMITED"

	// KindTemporaryError marks network failures and 5xx responses.
	KindTemporaryError ErrorKind = "TEMPORARY_ERROR"

	// KindPermanentError marks 4xx responses other than 404 and 429.
	KindPermanentError ErrorKind = "PERMANENT_ERROR"

	// KindNotFound marks a resource the upstream confirmed absent.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindCacheCorrupted marks the self-heal placeholder written after a
	// corrupt envelope was deleted.
	KindCacheCorrupted ErrorKind = "CACHE_CORRUPTED"
)

// kindTTLs are the fixed cache TTLs per error kind. An error entry always
// uses its kind's TTL, never the TTL the caller requested for data.
var kindTTLs = map[ErrorKind]time.Duration{
	KindEmptyResult:    60 * time.Second,
	KindRateLimited:    900 * time.Second,
	KindTemporaryError: 120 * time.Second,
	KindPermanentError: 1800 * time.Second,
	KindNotFound:       3600 * time.Second,
	KindCacheCorrupted: 60 * time.Second,
}

// KindTTL returns the fixed cache TTL for an error kind.
// Unknown kinds fall back to the temporary-error TTL.
func KindTTL(kind ErrorKind) time.Duration {
	if ttl, ok := kindTTLs[kind]; ok {
		return ttl
	}
	return kindTTLs[KindTemporaryError]
}

// CachedError is returned when a read finds a remembered recent failure
// instead of data. Callers distinguish it from a fresh failure: the upstream
// was not contacted for this request.
type CachedError struct {
	Key     string
	Kind    ErrorKind
	Message string

	// StoredAt is when the failure was originally cached.
	StoredAt time.Time
}

// Error implements the error interface.
func (e *CachedError) Error() string {
	return fmt.Sprintf("cached %s error for %s: %s", e.Kind, e.Key, e.Message)
}

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist in the store.
var ErrNotFound = errors.New("cache: key not found")

// Adapter is the minimal key-value contract the wrapper builds on.
// Implementations must treat the TTL as a retention hint: the wrapper
// computes logical expiry itself and over-provisions the physical TTL so
// stale reads remain possible.
//
// No transactions or compare-and-swap semantics are required. Concurrent
// writers to the same key may race; last write wins.
type Adapter interface {
	// Get returns the raw bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for at least ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
}

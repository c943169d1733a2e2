// Package throttle implements the token-bucket pacing of outbound calls to
// the upstream provider.
//
// Tokens accrue continuously at the configured rate up to the burst cap and
// are computed lazily on each acquire and queue drain; there is no per-token
// timer. Callers that cannot be granted immediately wait in a strict FIFO
// queue with a bounded size.
//
// The bucket starts in a grace period refilling at half the configured rate,
// protecting a cold-started process from bursting at full speed before its
// caches warm up. EndGracePeriod switches to the full rate.
//
// When the upstream signals rate limiting (HTTP 429), NotifyRateLimited
// pauses every grant, queued or new, until the communicated wait elapses.
// This applies a Retry-After header globally, not just to the request that
// received it.
package throttle

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// retentionFactor over-provisions the physical adapter TTL relative to the
// logical TTL so stale reads (age <= 2*ttl) remain possible.
const retentionFactor = 2.5

// ErrCorruptEnvelope indicates stored bytes that cannot be decoded into a
// usable entry.
var ErrCorruptEnvelope = errors.New("cache: corrupt envelope")

// Validity is the read-time state of an envelope.
type Validity int

const (
	// ValidityFresh means age <= ttl.
	ValidityFresh Validity = iota

	// ValidityStale means ttl < age <= 2*ttl; usable while revalidating.
	ValidityStale

	// ValidityExpired means age > 2*ttl; treated as a miss.
	ValidityExpired
)

// String returns a human-readable validity name.
func (v Validity) String() string {
	switch v {
	case ValidityFresh:
		return "fresh"
	case ValidityStale:
		return "stale"
	case ValidityExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Envelope is the self-describing record persisted through the wrapper.
// Exactly one of Data or ErrorType is meaningful per envelope.
type Envelope struct {
	// Wrapped is always true for envelopes written by the wrapper. It is
	// the marker that distinguishes envelopes from legacy raw values.
	Wrapped bool `json:"wrapped"`

	// StoredAt is when the envelope was written.
	StoredAt time.Time `json:"stored_at"`

	// TTLSeconds is the logical TTL requested for this entry.
	TTLSeconds int `json:"ttl_seconds"`

	// Data is the cached value, present only for data entries.
	Data json.RawMessage `json:"data,omitempty"`

	// ErrorType and ErrorMessage describe a cached failure, present only
	// for error entries.
	ErrorType    ErrorKind `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// IsError reports whether the envelope caches a failure rather than data.
func (e *Envelope) IsError() bool {
	return e.ErrorType != ""
}

// TTL returns the logical TTL as a duration.
func (e *Envelope) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Age returns how long ago the envelope was stored.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Validity computes the read-time state. Never persisted.
func (e *Envelope) Validity(now time.Time) Validity {
	age := e.Age(now)
	ttl := e.TTL()
	switch {
	case age <= ttl:
		return ValidityFresh
	case age <= 2*ttl:
		return ValidityStale
	default:
		return ValidityExpired
	}
}

// physicalTTL is the retention hint handed to the adapter: ceil(ttl * 2.5).
func physicalTTL(ttl time.Duration) time.Duration {
	secs := math.Ceil(ttl.Seconds() * retentionFactor)
	return time.Duration(secs) * time.Second
}

// ttlSeconds converts a TTL to the whole seconds stored in the envelope.
// Sub-second TTLs round up to one second; truncating to zero would make the
// entry structurally corrupt on read.
func ttlSeconds(ttl time.Duration) int {
	secs := int(ttl.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// newDataEnvelope wraps a value for storage.
func newDataEnvelope(data json.RawMessage, ttl time.Duration, now time.Time) *Envelope {
	return &Envelope{
		Wrapped:    true,
		StoredAt:   now,
		TTLSeconds: ttlSeconds(ttl),
		Data:       data,
	}
}

// newErrorEnvelope wraps a failure for storage with its kind's fixed TTL.
func newErrorEnvelope(kind ErrorKind, message string, now time.Time) *Envelope {
	return &Envelope{
		Wrapped:      true,
		StoredAt:     now,
		TTLSeconds:   ttlSeconds(KindTTL(kind)),
		ErrorType:    kind,
		ErrorMessage: message,
	}
}

// encodeEnvelope serializes an envelope for the adapter.
func encodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// decodeEnvelope decides once, at the adapter boundary, whether stored bytes
// are a wrapped envelope or a legacy raw value.
//
// Returns (envelope, false, nil) for wrapped entries, (nil, true, nil) for
// legacy raw values written by other writers, and ErrCorruptEnvelope when
// the bytes are neither valid JSON nor a structurally complete envelope.
func decodeEnvelope(raw []byte) (*Envelope, bool, error) {
	if !json.Valid(raw) {
		return nil, false, ErrCorruptEnvelope
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || !env.Wrapped {
		// Not an envelope: accept as a legacy raw value for compatibility.
		return nil, true, nil
	}

	// Structural validation: a wrapped envelope without timing metadata,
	// or with neither data nor an error, is unusable.
	if env.StoredAt.IsZero() || env.TTLSeconds <= 0 {
		return nil, false, ErrCorruptEnvelope
	}
	if env.Data == nil && env.ErrorType == "" {
		return nil, false, ErrCorruptEnvelope
	}

	return &env, false, nil
}

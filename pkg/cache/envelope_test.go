package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidity(t *testing.T) {
	now := time.Now()
	ttl := 10 * time.Second

	tests := []struct {
		name     string
		storedAt time.Time
		expected Validity
	}{
		{
			name:     "just_stored",
			storedAt: now,
			expected: ValidityFresh,
		},
		{
			name:     "within_ttl",
			storedAt: now.Add(-5 * time.Second),
			expected: ValidityFresh,
		},
		{
			name:     "exactly_at_ttl",
			storedAt: now.Add(-10 * time.Second),
			expected: ValidityFresh,
		},
		{
			name:     "just_past_ttl",
			storedAt: now.Add(-11 * time.Second),
			expected: ValidityStale,
		},
		{
			name:     "exactly_at_double_ttl",
			storedAt: now.Add(-20 * time.Second),
			expected: ValidityStale,
		},
		{
			name:     "past_double_ttl",
			storedAt: now.Add(-21 * time.Second),
			expected: ValidityExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDataEnvelope(json.RawMessage(`{"id":1}`), ttl, tt.storedAt)
			got := env.Validity(now)
			if got != tt.expected {
				t.Errorf("Validity() = %s, want %s (age %s)", got, tt.expected, env.Age(now))
			}
		})
	}
}

func TestValidityString(t *testing.T) {
	tests := []struct {
		validity Validity
		expected string
	}{
		{ValidityFresh, "fresh"},
		{ValidityStale, "stale"},
		{ValidityExpired, "expired"},
		{Validity(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.validity.String(); got != tt.expected {
			t.Errorf("Validity(%d).String() = %q, want %q", tt.validity, got, tt.expected)
		}
	}
}

func TestPhysicalTTL(t *testing.T) {
	tests := []struct {
		name     string
		ttl      time.Duration
		expected time.Duration
	}{
		{"ten_seconds", 10 * time.Second, 25 * time.Second},
		{"one_minute", time.Minute, 150 * time.Second},
		{"rounds_up", 3 * time.Second, 8 * time.Second}, // 7.5 rounds to 8
		{"one_second", time.Second, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := physicalTTL(tt.ttl); got != tt.expected {
				t.Errorf("physicalTTL(%s) = %s, want %s", tt.ttl, got, tt.expected)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	env := newDataEnvelope(json.RawMessage(`{"title":"Dune","year":1965}`), 5*time.Minute, now)

	raw, err := encodeEnvelope(env)
	if err != nil {
		t.Fatalf("encodeEnvelope failed: %v", err)
	}

	decoded, legacy, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decodeEnvelope failed: %v", err)
	}
	if legacy {
		t.Fatal("Expected wrapped envelope, got legacy raw value")
	}
	if !decoded.StoredAt.Equal(now) {
		t.Errorf("StoredAt = %v, want %v", decoded.StoredAt, now)
	}
	if decoded.TTLSeconds != 300 {
		t.Errorf("TTLSeconds = %d, want 300", decoded.TTLSeconds)
	}
	if string(decoded.Data) != `{"title":"Dune","year":1965}` {
		t.Errorf("Data = %s, want original payload", decoded.Data)
	}
	if decoded.IsError() {
		t.Error("Data envelope should not report IsError")
	}
}

func TestSubSecondTTLRoundsUp(t *testing.T) {
	env := newDataEnvelope(json.RawMessage(`{"id":7}`), 500*time.Millisecond, time.Now())
	if env.TTLSeconds != 1 {
		t.Fatalf("TTLSeconds = %d, want 1 (sub-second TTL rounds up)", env.TTLSeconds)
	}

	raw, err := encodeEnvelope(env)
	if err != nil {
		t.Fatalf("encodeEnvelope failed: %v", err)
	}
	if _, _, err := decodeEnvelope(raw); err != nil {
		t.Errorf("Sub-second TTL envelope should decode cleanly, got %v", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	now := time.Now()
	env := newErrorEnvelope(KindRateLimited, "429 from upstream", now)

	if !env.IsError() {
		t.Error("Error envelope should report IsError")
	}
	if env.TTLSeconds != 900 {
		t.Errorf("TTLSeconds = %d, want 900 (RATE_LIMITED kind TTL)", env.TTLSeconds)
	}
	if env.ErrorMessage != "429 from upstream" {
		t.Errorf("ErrorMessage = %q, want %q", env.ErrorMessage, "429 from upstream")
	}
}

func TestDecodeEnvelopeLegacyRaw(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain_object", `{"id":42,"name":"legacy"}`},
		{"plain_array", `[1,2,3]`},
		{"plain_string", `"just a string"`},
		{"plain_number", `17`},
		{"wrapped_false", `{"wrapped":false,"data":{"id":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, legacy, err := decodeEnvelope([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decodeEnvelope failed: %v", err)
			}
			if !legacy {
				t.Error("Expected legacy raw value")
			}
			if env != nil {
				t.Error("Expected nil envelope for legacy value")
			}
		})
	}
}

func TestDecodeEnvelopeCorrupt(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid_json", `{"wrapped":true,`},
		{"truncated", `{"wrapped`},
		{"not_json_at_all", "\x00\x01\x02binary garbage"},
		{"missing_stored_at", `{"wrapped":true,"ttl_seconds":60,"data":{}}`},
		{"zero_ttl", `{"wrapped":true,"stored_at":"2026-01-01T00:00:00Z","ttl_seconds":0,"data":{}}`},
		{"negative_ttl", `{"wrapped":true,"stored_at":"2026-01-01T00:00:00Z","ttl_seconds":-5,"data":{}}`},
		{"neither_data_nor_error", `{"wrapped":true,"stored_at":"2026-01-01T00:00:00Z","ttl_seconds":60}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEnvelope([]byte(tt.raw))
			if err == nil {
				t.Fatal("Expected ErrCorruptEnvelope, got nil")
			}
		})
	}
}

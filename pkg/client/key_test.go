package client

import (
	"net/url"
	"testing"
)

func TestRequestKey(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		params   url.Values
		expected string
	}{
		{
			name:     "no_params",
			endpoint: "catalog/movies/popular",
			params:   nil,
			expected: "pg:catalog/movies/popular",
		},
		{
			name:     "leading_and_trailing_slashes_trimmed",
			endpoint: "/catalog/movies/popular/",
			params:   nil,
			expected: "pg:catalog/movies/popular",
		},
		{
			name:     "params_sorted",
			endpoint: "search",
			params:   url.Values{"query": {"dune"}, "language": {"en"}, "page": {"2"}},
			expected: "pg:search:language=en:page=2:query=dune",
		},
		{
			name:     "empty_endpoint",
			endpoint: "",
			params:   url.Values{"id": {"7"}},
			expected: "pg:id=7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := requestKey(tt.endpoint, tt.params)
			if got != tt.expected {
				t.Errorf("requestKey(%q, %v) = %q, want %q", tt.endpoint, tt.params, got, tt.expected)
			}
		})
	}
}

func TestRequestKeyDeterministic(t *testing.T) {
	params := url.Values{"b": {"2"}, "a": {"1"}, "c": {"3"}}
	first := requestKey("ep", params)
	for i := 0; i < 20; i++ {
		if got := requestKey("ep", params); got != first {
			t.Fatalf("requestKey not deterministic: %q vs %q", got, first)
		}
	}
}

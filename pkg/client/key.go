package client

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// requestKey builds the canonical cache key for one logical request.
// Format: pg:endpoint:param1=val1:param2=val2 with parameters sorted for
// determinism, so semantically identical requests share one key.
//
// Example:
//
//	pg:catalog/movies/popular:language=en:page=1
func requestKey(endpoint string, params url.Values) string {
	parts := []string{"pg"}

	if trimmed := strings.Trim(endpoint, "/"); trimmed != "" {
		parts = append(parts, trimmed)
	}

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for key := range params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, params.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}

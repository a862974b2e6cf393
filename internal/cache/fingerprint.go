package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Fingerprint is a deterministic key identifying one cacheable unit of
// work: route identity, method, full path, serialized query, and body.
// Requests that differ in any component never share an entry.
func Fingerprint(routeID, method, path string, query url.Values, body []byte) string {
	var sb strings.Builder
	sb.WriteString(routeID)
	sb.WriteByte(':')
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte(':')
	sb.WriteString(path)
	sb.WriteByte(':')
	sb.WriteString(canonicalQuery(query))

	if len(body) > 0 {
		bodyHash := sha256.Sum256(body)
		sb.WriteByte(':')
		sb.WriteString(hex.EncodeToString(bodyHash[:]))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalQuery serializes query parameters with sorted keys and values so
// parameter order never changes the fingerprint.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	first := true
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if !first {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
			first = false
		}
	}
	return sb.String()
}

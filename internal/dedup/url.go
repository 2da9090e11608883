package dedup

import (
	"net/url"
	"strings"
)

// trackingParams is the fixed denylist of query parameters stripped during
// URL normalization. utm_* is handled by prefix.
var trackingParams = map[string]bool{
	"ref":      true,
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"igshid":   true,
	"source":   true,
	"cmpid":    true,
	"referrer": true,
}

// CanonicalURL reduces a URL to its dedup identity: scheme dropped, host
// lowercased with the www. prefix removed, tracking parameters stripped,
// fragment and trailing slash dropped. Exact republishes of the same piece
// collapse to one key. Unparseable input falls back to the trimmed raw string.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimSuffix(u.Path, "/")

	query := u.Query()
	for param := range query {
		if trackingParams[strings.ToLower(param)] || strings.HasPrefix(strings.ToLower(param), "utm_") {
			query.Del(param)
		}
	}

	key := host + path
	if encoded := query.Encode(); encoded != "" {
		key += "?" + encoded
	}
	return key
}

// Package allowlist holds the fixed set of origins trusted to originate
// page-side relay requests.
package allowlist

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// List is an ordered, immutable set of origins. The zero value allows nothing.
type List struct {
	origins []string
}

// New normalises and de-duplicates origins, keeping their first-seen order.
// Every entry must be a scheme://host[:port] origin with no path.
func New(origins ...string) (*List, error) {
	normalized := make([]string, 0, len(origins))
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		o, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, o)
	}
	return &List{origins: lo.Uniq(normalized)}, nil
}

// MustNew is New for static lists; it panics on an invalid origin.
func MustNew(origins ...string) *List {
	l, err := New(origins...)
	if err != nil {
		panic(err)
	}
	return l
}

// Contains reports whether origin is a member. Comparison is on the
// normalised form, so "HTTPS://Example.com" matches "https://example.com".
func (l *List) Contains(origin string) bool {
	if l == nil || origin == "" {
		return false
	}
	o, err := normalize(origin)
	if err != nil {
		return false
	}
	return lo.Contains(l.origins, o)
}

// Origins returns a copy of the members in order.
func (l *List) Origins() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.origins...)
}

// Len returns the number of members.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.origins)
}

func normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q: scheme and host are required", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid origin %q: must not carry a path, query or fragment", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	return scheme + "://" + host, nil
}

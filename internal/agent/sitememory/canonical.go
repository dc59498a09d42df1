// Package sitememory converts expensive vision lookups into cheap
// deterministic selector lookups by remembering how to re-find an element
// on a given site-URL shape (spec.md §4.6).
package sitememory

import (
	"net/url"
	"regexp"
	"strings"
)

var numericSegment = regexp.MustCompile(`^\d+$`)

// Canonicalize replaces numeric path segments with "*" so
// example.com/users/123 and example.com/users/456 share one SiteMemory
// entry keyed on example.com/users/*.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) {
			segments[i] = "*"
		}
	}
	path := strings.Join(segments, "/")
	host := strings.ToLower(u.Hostname())
	if path == "" {
		return host
	}
	return host + "/" + path
}

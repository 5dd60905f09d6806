// Package normalize canonicalizes URLs so that requests differing only in
// ID path segments, query parameter order, or fragments collapse into one
// stable endpoint identity.
package normalize

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// IDToken replaces path segments that look like identifiers.
const IDToken = ":id"

// preservedSegments are common API path words that are never collapsed,
// even when they match an identifier shape. Matched case-insensitively.
var preservedSegments = map[string]struct{}{
	"api": {}, "v1": {}, "v2": {}, "v3": {}, "v4": {},
	"search": {}, "query": {}, "list": {}, "create": {}, "update": {}, "delete": {},
	"users": {}, "posts": {}, "items": {}, "products": {}, "orders": {}, "comments": {},
	"auth": {}, "login": {}, "logout": {}, "register": {},
	"admin": {}, "public": {}, "private": {},
}

var (
	digitsOnly    = regexp.MustCompile(`^[0-9]+$`)
	canonicalUUID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	longHex       = regexp.MustCompile(`^[0-9a-f]{32,}$`)
	longOpaque    = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)
)

// Result holds the canonical forms of a URL.
type Result struct {
	// NormalizedURL is origin + normalized path + sorted query.
	NormalizedURL string
	// NormalizedPath is the path with ID segments collapsed to ":id".
	NormalizedPath string
	// OK is false when the input could not be parsed; both fields then
	// carry the raw input and callers must fall back to the redacted URL
	// for endpoint keys.
	OK bool
}

// Normalize canonicalizes a URL string: the fragment is dropped, query
// parameters are sorted by name then value, and identifier-shaped path
// segments are replaced with ":id". Normalize is idempotent.
func Normalize(raw string) Result {
	u, err := url.Parse(raw)
	if err != nil {
		return Result{NormalizedURL: raw, NormalizedPath: raw}
	}

	u.Fragment = ""
	u.RawFragment = ""

	path := normalizePath(u.EscapedPath())
	query := sortQuery(u.RawQuery)

	var b strings.Builder
	if u.Scheme != "" && u.Host != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
		b.WriteString(u.Host)
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}

	return Result{NormalizedURL: b.String(), NormalizedPath: path, OK: true}
}

// EndpointKey builds the stable "METHOD normalizedPath" identifier.
func EndpointKey(method, normalizedPath string) string {
	return strings.ToUpper(method) + " " + normalizedPath
}

// normalizePath replaces identifier-shaped segments with IDToken.
func normalizePath(path string) string {
	if path == "" {
		return path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isIDSegment(seg) {
			segments[i] = IDToken
		}
	}
	return strings.Join(segments, "/")
}

func isIDSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if _, ok := preservedSegments[strings.ToLower(seg)]; ok {
		return false
	}
	return digitsOnly.MatchString(seg) ||
		canonicalUUID.MatchString(seg) ||
		longHex.MatchString(seg) ||
		longOpaque.MatchString(seg)
}

// sortQuery re-serializes a raw query with pairs ordered by name, then by
// value for repeated names. Pair encoding is preserved as given.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	type kv struct{ name, pair string }
	sorted := make([]kv, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		sorted = append(sorted, kv{name: name, pair: pair})
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].name != sorted[j].name {
			return sorted[i].name < sorted[j].name
		}
		return sorted[i].pair < sorted[j].pair
	})

	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = p.pair
	}
	return strings.Join(out, "&")
}

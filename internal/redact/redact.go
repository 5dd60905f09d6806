// Package redact strips credentials and other sensitive material from
// headers, URLs, parsed JSON bodies, and error strings before anything is
// persisted to a capture directory.
package redact

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Placeholder is the literal written in place of a redacted value.
const Placeholder = "[REDACTED]"

// pathPlaceholder replaces absolute filesystem paths inside error strings.
const pathPlaceholder = "[PATH]"

// maxErrorLength caps redacted error messages.
const maxErrorLength = 200

// sensitiveHeaders contains header names (lowercase) whose values are
// replaced with Placeholder. Keys are preserved in their original case.
var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"x-api-key":     {},
	"x-auth-token":  {},
	"api-key":       {},
}

// sensitiveQueryParams contains query parameter names (lowercase) whose
// values are replaced with Placeholder.
var sensitiveQueryParams = map[string]struct{}{
	"token":     {},
	"key":       {},
	"auth":      {},
	"session":   {},
	"sig":       {},
	"signature": {},
	"apikey":    {},
	"api_key":   {},
}

// sensitiveJSONKeys contains object keys (exact, case-sensitive) whose
// values are replaced with Placeholder during the recursive JSON walk.
var sensitiveJSONKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"secret":        {},
	"email":         {},
	"apiKey":        {},
	"api_key":       {},
	"accessToken":   {},
	"access_token":  {},
	"refreshToken":  {},
	"refresh_token": {},
}

// maxJSONDepth bounds the recursive walk so cyclic structures terminate.
const maxJSONDepth = 64

// absolutePath matches Windows drive paths and well-known POSIX absolute
// prefixes up to the next whitespace.
var absolutePath = regexp.MustCompile(`(?:[A-Za-z]:\\\S+|/(?:home|Users)/\S+)`)

// Headers returns a copy of headers with sensitive values replaced.
// The original map is not modified; a nil map returns nil.
func Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	result := make(map[string]string, len(headers))
	for key, value := range headers {
		if _, ok := sensitiveHeaders[strings.ToLower(key)]; ok {
			result[key] = Placeholder
		} else {
			result[key] = value
		}
	}
	return result
}

// URL redacts the values of sensitive query parameters. Parameter order,
// path, host, and port are preserved. On parse failure the input is
// returned unchanged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" {
		return raw
	}

	pairs := strings.Split(u.RawQuery, "&")
	changed := false
	for i, pair := range pairs {
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}
		if _, ok := sensitiveQueryParams[strings.ToLower(decoded)]; ok {
			pairs[i] = name + "=" + url.QueryEscape(Placeholder)
			changed = true
		}
	}
	if !changed {
		return raw
	}

	u.RawQuery = strings.Join(pairs, "&")
	return u.String()
}

// JSON walks a parsed JSON value and replaces the values of sensitive
// object keys with Placeholder. The input is not modified; arrays and
// objects are copied, primitives are returned as-is. The walk is bounded
// by a hard depth cap so cyclic structures terminate.
func JSON(value any) any {
	return redactValue(value, 0)
}

func redactValue(value any, depth int) any {
	if depth >= maxJSONDepth {
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, child := range v {
			if _, ok := sensitiveJSONKeys[key]; ok {
				result[key] = Placeholder
			} else {
				result[key] = redactValue(child, depth+1)
			}
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, child := range v {
			result[i] = redactValue(child, depth+1)
		}
		return result
	default:
		return value
	}
}

// Error renders err as a string safe for persistence: the message is
// truncated to 200 characters and absolute filesystem paths are replaced
// with "[PATH]". A nil error yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return ErrorString(err.Error())
}

// ErrorString applies the same truncation and path scrubbing to a raw
// message string.
func ErrorString(msg string) string {
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return absolutePath.ReplaceAllString(msg, pathPlaceholder)
}

// String formats any value through fmt and redacts it like an error
// message. Convenience for surfacing internal failures in records.
func String(v any) string {
	return ErrorString(fmt.Sprintf("%v", v))
}

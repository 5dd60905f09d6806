// Package capture defines the capture record, the append-only run
// journal, and the per-run deduplication set.
package capture

import (
	"time"

	"apiscout/internal/features"
)

// Record is one observation of one response. Records are frozen on
// append and never mutated afterwards.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`

	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`

	// PayloadSize is the number of body bytes actually read; 0 when no
	// body was persisted.
	PayloadSize int64 `json:"payloadSize"`
	// BodyAvailable reports whether any body was obtained.
	BodyAvailable bool `json:"bodyAvailable"`
	// Truncated is set when the body was dropped because it was
	// oversized or empty by status.
	Truncated bool `json:"truncated,omitempty"`
	// OmittedReason is set iff the body is not persisted: one of
	// maxBodyBytes, unavailable, nonJson, parseError, filtered,
	// emptyBody.
	OmittedReason string `json:"omittedReason,omitempty"`

	JSONParseSuccess bool   `json:"jsonParseSuccess"`
	ParseError       string `json:"parseError,omitempty"`

	// BodyHash is the hex SHA-256 of the raw body bytes, empty when no
	// bytes were read.
	BodyHash string `json:"bodyHash,omitempty"`
	// BodyPath and InlineBody are mutually exclusive; both may be
	// absent for metadata-only records.
	BodyPath   string `json:"bodyPath,omitempty"`
	InlineBody any    `json:"inlineBody,omitempty"`

	NormalizedURL  string `json:"normalizedUrl,omitempty"`
	NormalizedPath string `json:"normalizedPath,omitempty"`
	EndpointKey    string `json:"endpointKey"`

	Features *features.Features `json:"features,omitempty"`
}

// HasPersistedBody reports whether the record carries a body, inline or
// externalized.
func (r *Record) HasPersistedBody() bool {
	return r.InlineBody != nil || r.BodyPath != ""
}

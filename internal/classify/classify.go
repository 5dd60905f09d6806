// Package classify implements the JSON gate: given a raw response
// observation it decides whether the response is dropped, persisted as a
// metadata-only record, or read for a JSON body.
package classify

import (
	"regexp"
	"strings"
)

// Omitted-reason values recorded when a body is not persisted.
const (
	ReasonMaxBodyBytes = "maxBodyBytes"
	ReasonUnavailable  = "unavailable"
	ReasonNonJSON      = "nonJson"
	ReasonParseError   = "parseError"
	ReasonFiltered     = "filtered"
	ReasonEmptyBody    = "emptyBody"
)

// jsonContentTypes are matched as case-insensitive substrings of the
// Content-Type header.
var jsonContentTypes = []string{
	"application/json",
	"application/ld+json",
	"application/hal+json",
	"application/vnd.api+json",
}

// xhrResourceTypes pass the default resource-type gate.
var xhrResourceTypes = map[string]struct{}{"xhr": {}, "fetch": {}}

// Decision is the outcome of classifying an observation.
type Decision int

const (
	// Drop means the response produces no record and no side effect.
	Drop Decision = iota
	// MetadataOnly means a record is persisted without attempting (or
	// after abandoning) a body read; Reason carries the omitted reason.
	MetadataOnly
	// ReadBody means the worker proceeds to read and parse the body.
	ReadBody
)

// Verdict pairs a Decision with its omitted reason, when any.
type Verdict struct {
	Decision Decision
	Reason   string
}

// Observation is the header-level view of a response, available before
// any body read.
type Observation struct {
	URL           string
	Method        string
	Status        int
	ResourceType  string
	ContentType   string
	ContentLength int64 // -1 when the response declares no length
}

// Classifier applies the gate sequence from the capture configuration.
// It is immutable and safe for concurrent use.
type Classifier struct {
	include        *regexp.Regexp
	exclude        *regexp.Regexp
	captureAllJSON bool
	maxBodyBytes   int64
	maxCaptures    int
}

// Config carries the classifier's slice of the run options.
type Config struct {
	Include        *regexp.Regexp
	Exclude        *regexp.Regexp
	CaptureAllJSON bool
	MaxBodyBytes   int64
	MaxCaptures    int // 0 means unlimited
}

// New builds a Classifier.
func New(cfg Config) *Classifier {
	return &Classifier{
		include:        cfg.Include,
		exclude:        cfg.Exclude,
		captureAllJSON: cfg.CaptureAllJSON,
		maxBodyBytes:   cfg.MaxBodyBytes,
		maxCaptures:    cfg.MaxCaptures,
	}
}

// Classify runs the header-level gates in order. persistedCount is the
// number of records already persisted in this run, for the maxCaptures
// gate.
func (c *Classifier) Classify(obs Observation, persistedCount int) Verdict {
	// Gate 1: hard persisted-record cap.
	if c.maxCaptures > 0 && persistedCount >= c.maxCaptures {
		return Verdict{Decision: Drop}
	}

	// Gates 2-3: URL filters.
	if c.include != nil && !c.include.MatchString(obs.URL) {
		return Verdict{Decision: Drop}
	}
	if c.exclude != nil && c.exclude.MatchString(obs.URL) {
		return Verdict{Decision: Drop}
	}

	// Gate 4: resource type or JSON content type. captureAllJson drops
	// the gate entirely and defers to the parse result downstream.
	if !c.captureAllJSON {
		_, isXHR := xhrResourceTypes[strings.ToLower(obs.ResourceType)]
		if !isXHR && !IsJSONContentType(obs.ContentType) {
			return Verdict{Decision: Drop}
		}
	}

	// Gate 5: non-success statuses.
	if obs.Status < 200 || obs.Status >= 400 {
		return Verdict{Decision: Drop}
	}

	// Gate 6: statuses that never carry a body.
	if obs.Status == 204 || obs.Status == 304 {
		return Verdict{Decision: MetadataOnly, Reason: ReasonEmptyBody}
	}

	// Gate 7: declared oversize.
	if c.maxBodyBytes > 0 && obs.ContentLength > c.maxBodyBytes {
		return Verdict{Decision: MetadataOnly, Reason: ReasonMaxBodyBytes}
	}

	return Verdict{Decision: ReadBody}
}

// AfterParseFailure picks the omitted reason for a body that was read but
// did not parse: parseError when the response claimed JSON (or all-JSON
// capture is on), nonJson otherwise.
func (c *Classifier) AfterParseFailure(contentType string) string {
	if IsJSONContentType(contentType) || c.captureAllJSON {
		return ReasonParseError
	}
	return ReasonNonJSON
}

// IsJSONContentType reports whether the Content-Type header names a JSON
// media type.
func IsJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, jsonType := range jsonContentTypes {
		if strings.Contains(ct, jsonType) {
			return true
		}
	}
	return false
}

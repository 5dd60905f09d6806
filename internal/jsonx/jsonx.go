// Package jsonx handles the raw-bytes side of captured payloads: content
// decoding and parsing into the plain tagged JSON value shape
// (nil, bool, float64, string, []any, map[string]any).
package jsonx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

// ErrNotJSON is returned by Decode when the payload is not valid JSON.
var ErrNotJSON = errors.New("payload is not valid JSON")

// Decompress inflates body according to contentEncoding (gzip, deflate,
// or br). It returns the original bytes and false when no decompression
// was needed or when it fails; limit caps the inflated size as compression
// bomb protection.
func Decompress(body []byte, contentEncoding string, limit int64) ([]byte, bool) {
	if len(body) == 0 || contentEncoding == "" {
		return body, false
	}

	// "gzip, deflate" style lists: the first token is the outermost coding.
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))
	if encoding == "" || encoding == "identity" {
		return body, false
	}

	var reader io.ReadCloser
	var err error

	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = io.NopCloser(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, false
	}

	if err != nil {
		return body, false
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(reader, limit))
	if err != nil {
		return body, false
	}

	return decompressed, true
}

// Decode parses raw bytes into the tagged JSON value shape. The cheap
// gjson validity gate runs first so obviously-non-JSON payloads (HTML,
// scripts, images) are rejected without a full decode.
func Decode(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrNotJSON
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, ErrNotJSON
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// MarshalPretty renders a JSON value pretty-printed, the format used for
// externalized body files.
func MarshalPretty(value any) ([]byte, error) {
	return json.MarshalIndent(value, "", "  ")
}

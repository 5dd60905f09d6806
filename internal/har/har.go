// Package har renders a run journal as an HTTP Archive (HAR 1.2) so
// captures can be opened in browser devtools and proxy GUIs. Bodies
// are the redacted persisted forms; entries without a persisted body
// carry metadata only.
package har

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"apiscout/internal/capture"
	"apiscout/internal/jsonx"
	"apiscout/internal/version"
)

// Log is the top-level HAR document.
type Log struct {
	Log Inner `json:"log"`
}

type Inner struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            int      `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Timings         Timings  `json:"timings"`
}

type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
	Comment     string      `json:"comment,omitempty"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

type Timings struct {
	Send    int `json:"send"`
	Wait    int `json:"wait"`
	Receive int `json:"receive"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FromRecords converts journal records into a HAR log. runDir is used
// to resolve externalized body files; a missing body file degrades to
// a metadata-only entry.
func FromRecords(runDir string, records []*capture.Record) Log {
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toEntry(runDir, rec))
	}
	return Log{
		Log: Inner{
			Version: "1.2",
			Creator: Creator{Name: "apiscout", Version: version.Version},
			Entries: entries,
		},
	}
}

// ExportRun streams the run journal in runDir into a HAR file at path.
func ExportRun(runDir, path string) error {
	var records []*capture.Record
	err := capture.ReadJournal(filepath.Join(runDir, capture.JournalName), func(rec *capture.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	data, err := json.MarshalIndent(FromRecords(runDir, records), "", "  ")
	if err != nil {
		return fmt.Errorf("encode har: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write har: %w", err)
	}
	return nil
}

func toEntry(runDir string, rec *capture.Record) Entry {
	return Entry{
		StartedDateTime: rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Time:            0,
		Request: Request{
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     toNameValues(rec.RequestHeaders),
			QueryString: queryOf(rec.URL),
			HeadersSize: -1,
			BodySize:    0,
		},
		Response: Response{
			Status:      rec.Status,
			StatusText:  http.StatusText(rec.Status),
			HTTPVersion: "HTTP/1.1",
			Headers:     toNameValues(rec.ResponseHeaders),
			Content:     contentOf(runDir, rec),
			HeadersSize: -1,
			BodySize:    int(rec.PayloadSize),
			Comment:     rec.OmittedReason,
		},
		Timings: Timings{Send: -1, Wait: -1, Receive: -1},
	}
}

func contentOf(runDir string, rec *capture.Record) Content {
	content := Content{
		Size:     int(rec.PayloadSize),
		MimeType: rec.ContentType,
	}
	switch {
	case rec.InlineBody != nil:
		if data, err := jsonx.MarshalPretty(rec.InlineBody); err == nil {
			content.Text = string(data)
		}
	case rec.BodyPath != "":
		if data, err := os.ReadFile(filepath.Join(runDir, filepath.FromSlash(rec.BodyPath))); err == nil {
			content.Text = string(data)
		}
	}
	return content
}

func toNameValues(headers map[string]string) []NameValue {
	pairs := make([]NameValue, 0, len(headers))
	for _, name := range sortedKeys(headers) {
		pairs = append(pairs, NameValue{Name: name, Value: headers[name]})
	}
	return pairs
}

func queryOf(rawURL string) []NameValue {
	pairs := make([]NameValue, 0)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return pairs
	}
	for name, values := range parsed.Query() {
		for _, v := range values {
			pairs = append(pairs, NameValue{Name: name, Value: v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})
	return pairs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

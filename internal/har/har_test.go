package har

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiscout/internal/capture"
)

func TestFromRecords(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "bodies"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "bodies", "abc.json"), []byte(`{"big":true}`), 0o644))

	records := []*capture.Record{
		{
			Timestamp:        time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
			Method:           "GET",
			URL:              "https://api.example.com/v1/items?page=2",
			Status:           200,
			ContentType:      "application/json",
			ResponseHeaders:  map[string]string{"content-type": "application/json"},
			PayloadSize:      9,
			JSONParseSuccess: true,
			InlineBody:       map[string]any{"a": float64(1)},
		},
		{
			Timestamp: time.Date(2026, 8, 24, 10, 0, 1, 0, time.UTC),
			Method:    "GET",
			URL:       "https://api.example.com/v1/big",
			Status:    200,
			BodyPath:  "bodies/abc.json",
		},
		{
			Timestamp:     time.Date(2026, 8, 24, 10, 0, 2, 0, time.UTC),
			Method:        "GET",
			URL:           "https://api.example.com/v1/empty",
			Status:        204,
			OmittedReason: "emptyBody",
		},
	}

	doc := FromRecords(runDir, records)
	assert.Equal(t, "1.2", doc.Log.Version)
	assert.Equal(t, "apiscout", doc.Log.Creator.Name)
	require.Len(t, doc.Log.Entries, 3)

	inline := doc.Log.Entries[0]
	assert.Equal(t, "GET", inline.Request.Method)
	assert.Equal(t, []NameValue{{Name: "page", Value: "2"}}, inline.Request.QueryString)
	assert.Equal(t, 200, inline.Response.Status)
	assert.Equal(t, "OK", inline.Response.StatusText)
	assert.Contains(t, inline.Response.Content.Text, `"a": 1`)

	external := doc.Log.Entries[1]
	assert.JSONEq(t, `{"big":true}`, external.Response.Content.Text)

	empty := doc.Log.Entries[2]
	assert.Empty(t, empty.Response.Content.Text)
	assert.Equal(t, "emptyBody", empty.Response.Comment)
	assert.Equal(t, "No Content", empty.Response.StatusText)
}

func TestExportRun(t *testing.T) {
	runDir := t.TempDir()
	j, err := capture.OpenJournal(runDir)
	require.NoError(t, err)
	require.NoError(t, j.Append(&capture.Record{
		Timestamp:   time.Now().UTC(),
		Method:      "GET",
		URL:         "https://api.example.com/v1/ok",
		Status:      200,
		EndpointKey: "GET /v1/ok",
	}))
	require.NoError(t, j.Close())

	out := filepath.Join(runDir, "session.har")
	require.NoError(t, ExportRun(runDir, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc Log
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Log.Entries, 1)
	assert.Equal(t, "https://api.example.com/v1/ok", doc.Log.Entries[0].Request.URL)
}

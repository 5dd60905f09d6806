package capture

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	recs := []*Record{
		{Timestamp: time.Now().UTC(), Method: "GET", URL: "https://x.test/a", Status: 200, EndpointKey: "GET /a"},
		{Timestamp: time.Now().UTC(), Method: "POST", URL: "https://x.test/b", Status: 201, EndpointKey: "POST /b"},
	}
	for _, r := range recs {
		require.NoError(t, j.Append(r))
	}
	require.NoError(t, j.Close())

	var got []*Record
	err = ReadJournal(j.Path(), func(r *Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "GET /a", got[0].EndpointKey)
	assert.Equal(t, "POST /b", got[1].EndpointKey)
}

func TestJournalExistsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	info, err := os.Stat(filepath.Join(dir, JournalName))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	count := 0
	require.NoError(t, ReadJournal(j.Path(), func(*Record) error { count++; return nil }))
	assert.Zero(t, count)
}

func TestJournalAppendAfterClose(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Error(t, j.Append(&Record{EndpointKey: "GET /x"}))
}

func TestReadJournalSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, JournalName)

	content := strings.Join([]string{
		`{"endpointKey":"GET /a","status":200}`,
		`{this is not json`,
		`{"endpointKey":"GET /b","status":200}`,
		`{"endpointKey":"GET /c","st`, // partial trailing line
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var keys []string
	require.NoError(t, ReadJournal(path, func(r *Record) error {
		keys = append(keys, r.EndpointKey)
		return nil
	}))
	assert.Equal(t, []string{"GET /a", "GET /b"}, keys)
}

func TestJournalConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = j.Append(&Record{EndpointKey: "GET /x", Status: 200 + i})
		}(i)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	count := 0
	require.NoError(t, ReadJournal(j.Path(), func(*Record) error { count++; return nil }))
	assert.Equal(t, n, count, "every line must be independently parseable")
}

func TestRunMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := NewRunMetadata("2026-01-02T03-04-05Z-deadbeef", "https://x.test", map[string]any{"monitorMs": 5000})

	require.NoError(t, WriteRunMetadata(dir, meta))

	got, err := ReadRunMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, got.RunID)
	assert.Equal(t, meta.URL, got.URL)
	assert.Equal(t, float64(5000), got.Options["monitorMs"])

	// startedAt parses as RFC3339 UTC.
	ts, err := time.Parse(time.RFC3339, got.StartedAt)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestDedup(t *testing.T) {
	d := NewDedup()

	assert.False(t, d.Seen("GET /a", 200, "h1"))
	assert.True(t, d.Seen("GET /a", 200, "h1"))
	assert.True(t, d.Seen("GET /a", 200, "h1"))

	// Any component changing makes a new triple.
	assert.False(t, d.Seen("GET /a", 201, "h1"))
	assert.False(t, d.Seen("GET /a", 200, "h2"))
	assert.False(t, d.Seen("GET /b", 200, "h1"))

	// Metadata-only records participate with an empty hash.
	assert.False(t, d.Seen("GET /a", 204, ""))
	assert.True(t, d.Seen("GET /a", 204, ""))

	assert.Equal(t, 5, d.Len())
}

func TestDedupConcurrent(t *testing.T) {
	d := NewDedup()

	const racers = 16
	dupes := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dupes <- d.Seen("GET /same", 200, "samehash")
		}()
	}
	wg.Wait()
	close(dupes)

	fresh := 0
	for dup := range dupes {
		if !dup {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one racer wins the insert")
}

func TestRecordHasPersistedBody(t *testing.T) {
	assert.False(t, (&Record{}).HasPersistedBody())
	assert.True(t, (&Record{InlineBody: map[string]any{"a": 1}}).HasPersistedBody())
	assert.True(t, (&Record{BodyPath: "bodies/abc.json"}).HasPersistedBody())
}

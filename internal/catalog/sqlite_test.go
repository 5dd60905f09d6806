package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiscout/internal/aggregate"
	"apiscout/internal/capture"
)

func writeRun(t *testing.T, outDir, runID string, records []*capture.Record) string {
	t.Helper()
	runDir := filepath.Join(outDir, runID)
	require.NoError(t, os.MkdirAll(runDir, 0o755))

	meta := capture.NewRunMetadata(runID, "https://example.com", map[string]any{"monitorMs": 10000})
	require.NoError(t, capture.WriteRunMetadata(runDir, meta))

	j, err := capture.OpenJournal(runDir)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, j.Append(rec))
	}
	require.NoError(t, j.Close())

	_, err = aggregate.Run(runDir, aggregate.RunStats{
		RunID:          runID,
		URL:            "https://example.com",
		StartedAt:      time.Now().UTC(),
		CompletedAt:    time.Now().UTC(),
		TotalResponses: len(records),
	})
	require.NoError(t, err)
	return runDir
}

func sampleRecord(key string) *capture.Record {
	return &capture.Record{
		Timestamp:        time.Now().UTC(),
		Method:           "GET",
		URL:              "https://example.com" + key,
		Status:           200,
		ContentType:      "application/json",
		PayloadSize:      42,
		BodyAvailable:    true,
		JSONParseSuccess: true,
		EndpointKey:      "GET " + key,
		BodyHash:         "hash-" + key,
	}
}

func TestExportRun(t *testing.T) {
	outDir := t.TempDir()
	runDir := writeRun(t, outDir, "run-1", []*capture.Record{
		sampleRecord("/api/a"),
		sampleRecord("/api/b"),
	})

	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.ExportRun(runDir))

	var runs, records, endpoints int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&records))
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM endpoints").Scan(&endpoints))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 2, records)
	assert.Equal(t, 2, endpoints)

	var key string
	var score float64
	require.NoError(t, db.db.QueryRow(
		"SELECT endpoint_key, score FROM endpoints WHERE run_id = ? ORDER BY score DESC LIMIT 1",
		"run-1").Scan(&key, &score))
	assert.Contains(t, key, "GET /api/")
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestExportRunIdempotent(t *testing.T) {
	outDir := t.TempDir()
	runDir := writeRun(t, outDir, "run-1", []*capture.Record{sampleRecord("/api/a")})

	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.ExportRun(runDir))
	require.NoError(t, db.ExportRun(runDir))

	var records int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&records))
	assert.Equal(t, 1, records, "re-export must replace, not duplicate")
}

func TestExportScansOutDir(t *testing.T) {
	outDir := t.TempDir()
	writeRun(t, outDir, "run-1", []*capture.Record{sampleRecord("/api/a")})
	writeRun(t, outDir, "run-2", []*capture.Record{sampleRecord("/api/b")})

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	require.NoError(t, Export(outDir, dbPath))

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var runs int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	assert.Equal(t, 2, runs)
}

func TestExportRunWithoutEndpointsFile(t *testing.T) {
	outDir := t.TempDir()
	runDir := writeRun(t, outDir, "run-empty", nil)

	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.ExportRun(runDir))

	var endpoints int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM endpoints").Scan(&endpoints))
	assert.Zero(t, endpoints)
}

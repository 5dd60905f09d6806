// Package catalog exports finished runs into a SQLite database so
// endpoints can be queried across runs with plain SQL.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"apiscout/internal/aggregate"
	"apiscout/internal/capture"
)

// DB wraps the catalog database.
type DB struct {
	db *sql.DB
}

// Open creates (or opens) the catalog database at path with WAL mode
// enabled and the schema in place.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (c *DB) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			url TEXT,
			options JSON
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			run_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			method TEXT,
			url TEXT,
			status INTEGER DEFAULT 0,
			content_type TEXT,
			payload_size INTEGER DEFAULT 0,
			body_available INTEGER DEFAULT 0,
			json_parse_success INTEGER DEFAULT 0,
			omitted_reason TEXT,
			body_hash TEXT,
			body_path TEXT,
			endpoint_key TEXT,
			record JSON
		)
	`)
	if err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS endpoints (
			run_id TEXT NOT NULL,
			endpoint_key TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			score REAL DEFAULT 0,
			avg_payload_size REAL DEFAULT 0,
			distinct_schemas INTEGER DEFAULT 0,
			body_rate REAL DEFAULT 0,
			endpoint JSON,
			PRIMARY KEY (run_id, endpoint_key)
		)
	`)
	if err != nil {
		return fmt.Errorf("create endpoints table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_records_endpoint ON records(endpoint_key)",
		"CREATE INDEX IF NOT EXISTS idx_records_status ON records(status)",
		"CREATE INDEX IF NOT EXISTS idx_endpoints_score ON endpoints(score)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}
	return nil
}

// ExportRun loads one run directory into the catalog. Re-exporting a
// run replaces its rows.
func (c *DB) ExportRun(runDir string) error {
	meta, err := capture.ReadRunMetadata(runDir)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"records", "endpoints"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", meta.RunID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	optionsJSON, _ := json.Marshal(meta.Options)
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs (run_id, started_at, url, options)
		VALUES (?, ?, ?, ?)
	`, meta.RunID, meta.StartedAt, meta.URL, string(optionsJSON))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if err := insertRecords(tx, meta.RunID, runDir); err != nil {
		return err
	}
	if err := insertEndpoints(tx, meta.RunID, runDir); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	slog.Info("run exported to catalog", "runId", meta.RunID)
	return nil
}

func insertRecords(tx *sql.Tx, runID, runDir string) error {
	stmt, err := tx.Prepare(`
		INSERT INTO records (
			run_id, timestamp, method, url, status, content_type,
			payload_size, body_available, json_parse_success,
			omitted_reason, body_hash, body_path, endpoint_key, record
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	path := filepath.Join(runDir, capture.JournalName)
	return capture.ReadJournal(path, func(rec *capture.Record) error {
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			return nil
		}
		_, err = stmt.Exec(
			runID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Method,
			rec.URL,
			rec.Status,
			rec.ContentType,
			rec.PayloadSize,
			boolInt(rec.BodyAvailable),
			boolInt(rec.JSONParseSuccess),
			rec.OmittedReason,
			rec.BodyHash,
			rec.BodyPath,
			rec.EndpointKey,
			string(recordJSON),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
}

func insertEndpoints(tx *sql.Tx, runID, runDir string) error {
	f, err := os.Open(filepath.Join(runDir, aggregate.EndpointsName))
	if err != nil {
		if os.IsNotExist(err) {
			// Empty runs have no endpoints file.
			return nil
		}
		return fmt.Errorf("open endpoints file: %w", err)
	}
	defer f.Close()

	stmt, err := tx.Prepare(`
		INSERT INTO endpoints (
			run_id, endpoint_key, count, score,
			avg_payload_size, distinct_schemas, body_rate, endpoint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare endpoint insert: %w", err)
	}
	defer stmt.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var ep aggregate.ScoredEndpoint
		if err := dec.Decode(&ep); err != nil {
			slog.Debug("skipping unparseable endpoint line", "error", err)
			break
		}
		endpointJSON, err := json.Marshal(&ep)
		if err != nil {
			continue
		}
		_, err = stmt.Exec(
			runID, ep.EndpointKey, ep.Count, ep.Score,
			ep.AvgPayloadSize, ep.DistinctSchemas, ep.BodyRate, string(endpointJSON),
		)
		if err != nil {
			return fmt.Errorf("insert endpoint: %w", err)
		}
	}
	return nil
}

// Export opens (or creates) the catalog at dbPath and loads every run
// directory found under outDir that has run metadata.
func Export(outDir, dbPath string) error {
	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	exported := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(outDir, entry.Name())
		if _, err := os.Stat(filepath.Join(runDir, capture.MetadataName)); err != nil {
			continue
		}
		if err := db.ExportRun(runDir); err != nil {
			slog.Warn("run export failed", "dir", runDir, "error", err)
			continue
		}
		exported++
	}
	slog.Info("catalog export finished", "runs", exported, "db", dbPath)
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

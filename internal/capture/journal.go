package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Artifact names inside a run directory.
const (
	JournalName  = "index.jsonl"
	MetadataName = "run.json"
)

// maxJournalLine bounds a single journal line on read. Inline bodies are
// capped by inlineBodyBytes, so this leaves generous headroom.
const maxJournalLine = 16 << 20

// RunMetadata is written once to run.json at orchestrator start.
type RunMetadata struct {
	RunID     string         `json:"runId"`
	StartedAt string         `json:"startedAt"`
	URL       string         `json:"url"`
	Options   map[string]any `json:"options"`
}

// NewRunMetadata builds metadata with an ISO-8601 UTC start timestamp.
func NewRunMetadata(runID, url string, options map[string]any) RunMetadata {
	return RunMetadata{
		RunID:     runID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		URL:       url,
		Options:   options,
	}
}

// WriteRunMetadata persists run.json into runDir.
func WriteRunMetadata(runDir string, meta RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	path := filepath.Join(runDir, MetadataName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

// ReadRunMetadata loads run.json from runDir.
func ReadRunMetadata(runDir string) (RunMetadata, error) {
	var meta RunMetadata
	data, err := os.ReadFile(filepath.Join(runDir, MetadataName))
	if err != nil {
		return meta, fmt.Errorf("read run metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse run metadata: %w", err)
	}
	return meta, nil
}

// Journal is the append-only record log. There is exactly one writer per
// run; appends are atomic at the line level (one Write call per line).
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenJournal creates (or truncates) index.jsonl inside runDir. The file
// exists even when the run captures nothing, so downstream aggregation is
// always safe.
func OpenJournal(runDir string) (*Journal, error) {
	path := filepath.Join(runDir, JournalName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{f: f, path: path}, nil
}

// Append writes one record as a single JSON line.
func (j *Journal) Append(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("journal is closed")
	}
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadJournal streams records from a journal file, invoking fn for each
// parseable line. Corrupt or partial trailing lines are skipped so the
// loss of one line never prevents loading the others. fn returning an
// error stops the scan.
func ReadJournal(path string, fn func(*Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	return readJournalFrom(f, fn)
}

func readJournalFrom(r io.Reader, fn func(*Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxJournalLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Debug("skipping unparseable journal line", "line", line, "error", err)
			continue
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

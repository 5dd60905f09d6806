// Package bodystore persists captured JSON bodies: small bodies are kept
// inline on the record, larger ones are written to a content-addressed
// bodies/ directory so identical payloads land in one file.
package bodystore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"apiscout/internal/jsonx"
	"apiscout/internal/redact"
)

// Dir is the body directory name inside a run directory.
const Dir = "bodies"

// Placement is the outcome of storing one body.
type Placement struct {
	// Inline carries the redacted parsed body when it fit the inline
	// limit. Mutually exclusive with Path.
	Inline any
	// Path is the run-relative body file path ("bodies/<hash>.json")
	// when the body was externalized.
	Path string
	// OmittedReason is set when the body could not be persisted.
	OmittedReason string
}

// Store writes bodies beneath a single run directory. Safe for
// concurrent use; racing writers of the same hash both succeed because
// only one create lands.
type Store struct {
	runDir      string
	inlineLimit int64
	maxLimit    int64
}

// New creates a Store rooted at runDir. The bodies/ subdirectory is
// created lazily on first externalized write.
func New(runDir string, inlineLimit, maxLimit int64) *Store {
	return &Store{runDir: runDir, inlineLimit: inlineLimit, maxLimit: maxLimit}
}

// Hash returns the lowercase hex SHA-256 of raw body bytes.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Place stores one parsed JSON body. raw is the exact byte sequence that
// was read (its length decides inline vs external), parsed is the decoded
// value. The stored form is always redacted.
func (s *Store) Place(raw []byte, parsed any) Placement {
	size := int64(len(raw))

	switch {
	case size <= s.inlineLimit:
		return Placement{Inline: redact.JSON(parsed)}

	case size <= s.maxLimit:
		path, err := s.writeExternal(Hash(raw), parsed)
		if err != nil {
			return Placement{OmittedReason: "unavailable"}
		}
		return Placement{Path: path}

	default:
		return Placement{OmittedReason: "maxBodyBytes"}
	}
}

// writeExternal writes the redacted body exactly once per hash. An
// existing file is left untouched; the store never appends to or
// rewrites a body file.
func (s *Store) writeExternal(hash string, parsed any) (string, error) {
	// Records always use forward slashes for run-relative paths.
	relPath := Dir + "/" + hash + ".json"
	absPath := filepath.Join(s.runDir, Dir, hash+".json")

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create bodies dir: %w", err)
	}

	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Another record already persisted this body.
			return relPath, nil
		}
		return "", fmt.Errorf("create body file: %w", err)
	}

	data, err := jsonx.MarshalPretty(redact.JSON(parsed))
	if err != nil {
		f.Close()
		os.Remove(absPath)
		return "", fmt.Errorf("encode body: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(absPath)
		return "", fmt.Errorf("write body file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close body file: %w", err)
	}

	return relPath, nil
}

package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"apiscout/internal/capture"
)

// Scoring weights, published in summary.json for reproducibility.
const (
	WeightFrequency   = 0.30
	WeightPayloadSize = 0.30
	WeightStructure   = 0.20
	WeightStability   = 0.20

	BodyEvidenceScale     = 1.5
	BodyEvidenceMinFactor = 0.05
)

// SummaryName and EndpointsName are the catalog files inside a run
// directory.
const (
	SummaryName   = "summary.json"
	EndpointsName = "endpoints.jsonl"
)

// TopEndpoints is how many scored endpoints summary.json embeds.
const TopEndpoints = 20

// BodyEvidence documents the evidence-factor parameters in the summary.
type BodyEvidence struct {
	Scale     float64 `json:"scale"`
	MinFactor float64 `json:"minFactor"`
}

// Summary is the run-level rollup written to summary.json.
type Summary struct {
	RunID             string             `json:"runId"`
	URL               string             `json:"url"`
	StartedAt         time.Time          `json:"startedAt"`
	CompletedAt       time.Time          `json:"completedAt"`
	CaptureDir        string             `json:"captureDir"`
	TotalResponses    int                `json:"totalResponses"`
	JSONCaptures      int                `json:"jsonCaptures"`
	DuplicatesSkipped int                `json:"duplicatesSkipped"`
	TotalEndpoints    int                `json:"totalEndpoints"`
	ScoringWeights    map[string]float64 `json:"scoringWeights"`
	BodyEvidence      BodyEvidence       `json:"bodyEvidence"`
	Endpoints         []*ScoredEndpoint  `json:"endpoints"`
}

// Weights returns the published scoring weight map.
func Weights() map[string]float64 {
	return map[string]float64{
		"frequency":   WeightFrequency,
		"payloadSize": WeightPayloadSize,
		"structure":   WeightStructure,
		"stability":   WeightStability,
	}
}

// RunStats carries the orchestrator-side counters that cannot be
// derived from the journal alone.
type RunStats struct {
	RunID             string
	URL               string
	StartedAt         time.Time
	CompletedAt       time.Time
	TotalResponses    int
	DuplicatesSkipped int
}

// BuildFromJournal streams the run journal into a Builder. Corrupt
// lines are skipped by the journal reader; a missing journal is an
// error.
func BuildFromJournal(runDir string) (*Builder, error) {
	b := NewBuilder()
	path := filepath.Join(runDir, capture.JournalName)
	err := capture.ReadJournal(path, func(rec *capture.Record) error {
		b.Add(rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return b, nil
}

// Run aggregates the journal in runDir, writes summary.json and
// endpoints.jsonl, and returns the summary. Runs with an empty journal
// still get a summary, with no endpoints file.
func Run(runDir string, stats RunStats) (*Summary, error) {
	b, err := BuildFromJournal(runDir)
	if err != nil {
		return nil, err
	}

	endpoints := b.Endpoints()
	top := endpoints
	if len(top) > TopEndpoints {
		top = top[:TopEndpoints]
	}

	summary := &Summary{
		RunID:             stats.RunID,
		URL:               stats.URL,
		StartedAt:         stats.StartedAt,
		CompletedAt:       stats.CompletedAt,
		CaptureDir:        runDir,
		TotalResponses:    stats.TotalResponses,
		JSONCaptures:      b.JSONCaptures(),
		DuplicatesSkipped: stats.DuplicatesSkipped,
		TotalEndpoints:    len(endpoints),
		ScoringWeights:    Weights(),
		BodyEvidence:      BodyEvidence{Scale: BodyEvidenceScale, MinFactor: BodyEvidenceMinFactor},
		Endpoints:         top,
	}

	if err := writeSummary(runDir, summary); err != nil {
		return nil, err
	}
	if len(endpoints) > 0 {
		if err := writeEndpoints(runDir, endpoints); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func writeSummary(runDir string, summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	path := filepath.Join(runDir, SummaryName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeEndpoints(runDir string, endpoints []*ScoredEndpoint) error {
	f, err := os.Create(filepath.Join(runDir, EndpointsName))
	if err != nil {
		return fmt.Errorf("create endpoints file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, ep := range endpoints {
		if err := enc.Encode(ep); err != nil {
			f.Close()
			return fmt.Errorf("encode endpoint %s: %w", ep.EndpointKey, err)
		}
	}
	return f.Close()
}

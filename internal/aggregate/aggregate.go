// Package aggregate rolls journal records up into per-endpoint
// aggregates and scores them into the run catalog.
package aggregate

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"apiscout/internal/capture"
)

// Caps on list-valued aggregate fields.
const (
	maxSamplePathsPerEndpoint = 200
	maxHostsPerEndpoint       = 20
)

// Aggregate is the per-endpoint rollup built in one streaming pass
// over the journal.
type Aggregate struct {
	EndpointKey  string      `json:"endpointKey"`
	Count        int         `json:"count"`
	StatusCounts map[int]int `json:"statusCounts"`
	Hosts        []string    `json:"hosts,omitempty"`
	SchemaHashes []string    `json:"schemaHashes,omitempty"`
	SamplePaths  []string    `json:"samplePaths,omitempty"`
	FirstSeen    time.Time   `json:"firstSeen"`
	LastSeen     time.Time   `json:"lastSeen"`

	BodyAvailableCount    int `json:"bodyAvailableCount"`
	JSONParseSuccessCount int `json:"jsonParseSuccessCount"`
	NoBodyCount           int `json:"noBodyCount"`

	HasArrayStructure bool    `json:"hasArrayStructure"`
	HasDataFlags      bool    `json:"hasDataFlags"`
	AvgDepth          float64 `json:"avgDepth"`

	payloadSizes []int64
	depthSamples int
	hostSet      map[string]bool
	schemaSet    map[string]bool
	pathSet      map[string]bool
}

// ScoredEndpoint is an Aggregate with its derived metrics and score.
type ScoredEndpoint struct {
	Aggregate

	AvgPayloadSize     float64  `json:"avgPayloadSize"`
	MaxPayloadSize     int64    `json:"maxPayloadSize"`
	DistinctSchemas    int      `json:"distinctSchemas"`
	BodyAvailableRate  float64  `json:"bodyAvailableRate"`
	BodyRate           float64  `json:"bodyRate"`
	BodyEvidenceFactor float64  `json:"bodyEvidenceFactor"`
	Score              float64  `json:"score"`
	Reasons            []string `json:"reasons"`
}

// Builder accumulates records into aggregates keyed by endpointKey.
type Builder struct {
	aggs  map[string]*Aggregate
	order []string

	total        int
	jsonCaptures int
}

func NewBuilder() *Builder {
	return &Builder{aggs: map[string]*Aggregate{}}
}

// Add folds one journal record into its endpoint aggregate. Records
// without an endpointKey fall back to the redacted URL as the key.
func (b *Builder) Add(rec *capture.Record) {
	key := rec.EndpointKey
	if key == "" {
		key = rec.URL
	}

	agg, ok := b.aggs[key]
	if !ok {
		agg = &Aggregate{
			EndpointKey:  key,
			StatusCounts: map[int]int{},
			FirstSeen:    rec.Timestamp,
			hostSet:      map[string]bool{},
			schemaSet:    map[string]bool{},
			pathSet:      map[string]bool{},
		}
		b.aggs[key] = agg
		b.order = append(b.order, key)
	}

	agg.Count++
	agg.StatusCounts[rec.Status]++
	if rec.Timestamp.Before(agg.FirstSeen) {
		agg.FirstSeen = rec.Timestamp
	}
	if rec.Timestamp.After(agg.LastSeen) {
		agg.LastSeen = rec.Timestamp
	}

	if host := hostOf(rec.URL); host != "" && !agg.hostSet[host] && len(agg.Hosts) < maxHostsPerEndpoint {
		agg.hostSet[host] = true
		agg.Hosts = append(agg.Hosts, host)
	}

	if rec.BodyAvailable {
		agg.BodyAvailableCount++
	} else {
		agg.NoBodyCount++
	}
	if rec.JSONParseSuccess {
		agg.JSONParseSuccessCount++
		b.jsonCaptures++
	}
	if rec.PayloadSize > 0 {
		agg.payloadSizes = append(agg.payloadSizes, rec.PayloadSize)
	}

	if f := rec.Features; f != nil {
		agg.HasArrayStructure = agg.HasArrayStructure || f.IsArray
		agg.HasDataFlags = agg.HasDataFlags || f.HasID || f.HasItems || f.HasResults || f.HasData
		if f.SchemaHash != "" && !agg.schemaSet[f.SchemaHash] {
			agg.schemaSet[f.SchemaHash] = true
			agg.SchemaHashes = append(agg.SchemaHashes, f.SchemaHash)
		}
		for _, p := range f.SamplePaths {
			if agg.pathSet[p] || len(agg.SamplePaths) >= maxSamplePathsPerEndpoint {
				continue
			}
			agg.pathSet[p] = true
			agg.SamplePaths = append(agg.SamplePaths, p)
		}
		if f.DepthEstimate > 0 {
			agg.depthSamples++
			agg.AvgDepth += (float64(f.DepthEstimate) - agg.AvgDepth) / float64(agg.depthSamples)
		}
	}

	b.total++
}

// Total returns the number of records added.
func (b *Builder) Total() int { return b.total }

// JSONCaptures returns the number of added records that parsed as JSON.
func (b *Builder) JSONCaptures() int { return b.jsonCaptures }

// Endpoints scores every aggregate and returns them ordered by score
// descending, ties broken by count descending.
func (b *Builder) Endpoints() []*ScoredEndpoint {
	scored := make([]*ScoredEndpoint, 0, len(b.aggs))
	for _, key := range b.order {
		scored = append(scored, score(b.aggs[key], b.total))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Count > scored[j].Count
	})
	return scored
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func percent(num, den int) int {
	if den == 0 {
		return 0
	}
	return int(float64(num) / float64(den) * 100)
}

func score(agg *Aggregate, total int) *ScoredEndpoint {
	s := &ScoredEndpoint{Aggregate: *agg, Reasons: []string{}}

	var sum int64
	for _, size := range agg.payloadSizes {
		sum += size
		if size > s.MaxPayloadSize {
			s.MaxPayloadSize = size
		}
	}
	if len(agg.payloadSizes) > 0 {
		s.AvgPayloadSize = float64(sum) / float64(len(agg.payloadSizes))
	}
	s.DistinctSchemas = len(agg.SchemaHashes)
	if agg.Count > 0 {
		s.BodyAvailableRate = float64(agg.BodyAvailableCount) / float64(agg.Count)
		s.BodyRate = float64(agg.JSONParseSuccessCount) / float64(agg.Count)
	}
	s.BodyEvidenceFactor = max(BodyEvidenceMinFactor, min(1, s.BodyRate*BodyEvidenceScale))

	freqNorm := 0.0
	if total > 0 {
		freqNorm = min(float64(agg.Count)/float64(total)*3, 1)
	}
	sizeNorm := min(s.AvgPayloadSize/10_000, 1)

	structNorm := 0.0
	if agg.HasArrayStructure {
		structNorm += 0.5
	}
	if agg.HasDataFlags {
		structNorm += 0.5
	}

	stabNorm := 0.0
	if s.DistinctSchemas > 0 {
		stabNorm = max(1-0.2*float64(s.DistinctSchemas-1), 0.2)
	}

	raw := freqNorm*WeightFrequency +
		sizeNorm*WeightPayloadSize +
		structNorm*WeightStructure +
		stabNorm*WeightStability
	s.Score = clamp01(raw * s.BodyEvidenceFactor)

	// Reasons mirror the branches above so the list is deterministic
	// for a given aggregate.
	if freqNorm >= 0.5 {
		s.Reasons = append(s.Reasons, fmt.Sprintf("high frequency (%d/%d, %d%%)", agg.Count, total, percent(agg.Count, total)))
	}
	if sizeNorm >= 0.5 {
		s.Reasons = append(s.Reasons, fmt.Sprintf("large payloads (avg %.0f bytes)", s.AvgPayloadSize))
	}
	if agg.HasArrayStructure {
		s.Reasons = append(s.Reasons, "has array structure")
	}
	if agg.HasDataFlags {
		s.Reasons = append(s.Reasons, "data-like keys")
	}
	switch {
	case s.DistinctSchemas == 1:
		s.Reasons = append(s.Reasons, "stable schema (1 variant)")
	case s.DistinctSchemas > 1:
		s.Reasons = append(s.Reasons, fmt.Sprintf("varying schema (%d variants)", s.DistinctSchemas))
	}
	if s.BodyRate >= 2.0/3.0 {
		s.Reasons = append(s.Reasons, fmt.Sprintf("strong JSON body evidence (%d/%d, %d%%)",
			agg.JSONParseSuccessCount, agg.Count, percent(agg.JSONParseSuccessCount, agg.Count)))
	} else if s.BodyRate < 1.0/3.0 {
		s.Reasons = append(s.Reasons, fmt.Sprintf("weak JSON body evidence (%d/%d)",
			agg.JSONParseSuccessCount, agg.Count))
	}

	return s
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

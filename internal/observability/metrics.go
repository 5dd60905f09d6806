// Package observability holds the Prometheus instrumentation for the
// capture pipeline. Counters are process-wide; in watch mode they
// accumulate across runs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResponsesSeen counts every response the hook observed, captured
	// or not.
	ResponsesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apiscout_responses_seen_total",
		Help: "Total number of HTTP responses observed by the capture hook",
	})

	// ResponsesCaptured counts journal records written, split by
	// whether a parsed JSON body was persisted.
	ResponsesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiscout_responses_captured_total",
		Help: "Total number of records appended to the capture journal",
	}, []string{"kind"})

	// DuplicatesSkipped counts responses dropped by the dedup index.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apiscout_duplicates_skipped_total",
		Help: "Total number of responses skipped as duplicates",
	})

	// BodiesExternalized counts bodies written to the bodies directory
	// instead of being inlined.
	BodiesExternalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apiscout_bodies_externalized_total",
		Help: "Total number of response bodies written to external files",
	})

	// CaptureErrors counts per-response worker failures, by stage.
	CaptureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apiscout_capture_errors_total",
		Help: "Total number of per-response capture failures",
	}, []string{"stage"})

	// RunDuration observes wall time of completed runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apiscout_run_duration_seconds",
		Help:    "Wall-clock duration of capture runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Capture kinds for ResponsesCaptured.
const (
	KindJSON     = "json"
	KindMetadata = "metadata"
)

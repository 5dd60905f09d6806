package orchestrator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"apiscout/config"
	"apiscout/internal/bodystore"
	"apiscout/internal/browser"
	"apiscout/internal/capture"
	"apiscout/internal/classify"
	"apiscout/internal/features"
	"apiscout/internal/jsonx"
	"apiscout/internal/limiter"
	"apiscout/internal/normalize"
	"apiscout/internal/observability"
	"apiscout/internal/redact"
)

// runState is the mutable state of one run: the worker pool, the
// journal writer, the dedup set and the persistence counters.
type runState struct {
	opts       *config.Options
	started    time.Time
	classifier *classify.Classifier
	extractor  *features.Extractor
	store      *bodystore.Store
	journal    *capture.Journal
	pool       *limiter.Limiter
	dedup      *capture.Dedup

	// closing drops responses arriving after the window has ended.
	closing atomic.Bool
	total   atomic.Int64

	// persistMu serializes the persist boundary: the maxCaptures check,
	// the dedup lookup and the journal append happen as one step, so
	// the cap is exact and the dedup triplet is unique.
	persistMu  sync.Mutex
	persisted  int
	duplicates int

	session browser.Session
	bctx    browser.Context
	page    browser.Page
}

func newRunState(opts *config.Options, runDir string, journal *capture.Journal) (*runState, error) {
	pool, err := limiter.New(opts.MaxConcurrentCaptures)
	if err != nil {
		return nil, err
	}
	return &runState{
		opts:    opts,
		started: time.Now(),
		classifier: classify.New(classify.Config{
			Include:        opts.Include(),
			Exclude:        opts.Exclude(),
			CaptureAllJSON: opts.CaptureAllJSON,
			MaxBodyBytes:   opts.MaxBodyBytes,
			MaxCaptures:    opts.MaxCaptures,
		}),
		extractor: features.NewExtractor(),
		store:     bodystore.New(runDir, opts.InlineBodyBytes, opts.MaxBodyBytes),
		journal:   journal,
		pool:      pool,
		dedup:     capture.NewDedup(),
	}, nil
}

func (s *runState) totalResponses() int { return int(s.total.Load()) }

func (s *runState) capturedCount() int {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.persisted
}

func (s *runState) duplicateCount() int {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.duplicates
}

// onResponse is the page hook. It must enqueue and return immediately;
// anything that can block runs on the pool.
func (s *runState) onResponse(resp browser.Response) {
	if s.closing.Load() {
		return
	}
	s.total.Add(1)
	observability.ResponsesSeen.Inc()
	s.pool.Submit(func() error {
		if err := s.process(resp); err != nil {
			slog.Debug("response task failed", "url", redact.URL(resp.URL()), "error", redact.Error(err))
			observability.CaptureErrors.WithLabelValues("process").Inc()
		}
		return nil
	})
}

// process runs the full per-response pipeline: classify, read, parse,
// extract, place the body and append the record.
func (s *runState) process(resp browser.Response) error {
	headers := resp.Headers()
	obs := classify.Observation{
		URL:           resp.URL(),
		Method:        resp.Method(),
		Status:        resp.Status(),
		ResourceType:  resp.ResourceType(),
		ContentType:   headerValue(headers, "content-type"),
		ContentLength: contentLength(headers),
	}

	verdict := s.classifier.Classify(obs, s.capturedCount())
	if verdict.Decision == classify.Drop {
		return nil
	}

	rec := s.baseRecord(resp, obs.ContentType)

	if verdict.Decision == classify.MetadataOnly {
		rec.OmittedReason = verdict.Reason
		rec.Truncated = true
		return s.persist(rec)
	}

	raw, err := resp.Body()
	if err != nil {
		if s.closing.Load() {
			// The context is going away underneath us; skip quietly.
			return nil
		}
		rec.OmittedReason = classify.ReasonUnavailable
		rec.ParseError = redact.Error(err)
		return s.persist(rec)
	}

	if body, ok := jsonx.Decompress(raw, headerValue(headers, "content-encoding"), s.opts.MaxBodyBytes+1); ok {
		raw = body
	}
	rec.BodyAvailable = true
	rec.BodyHash = bodystore.Hash(raw)

	if int64(len(raw)) > s.opts.MaxBodyBytes {
		rec.OmittedReason = classify.ReasonMaxBodyBytes
		rec.Truncated = true
		return s.persist(rec)
	}

	parsed, err := jsonx.Decode(raw)
	if err != nil {
		rec.OmittedReason = s.classifier.AfterParseFailure(obs.ContentType)
		rec.ParseError = redact.Error(err)
		return s.persist(rec)
	}

	rec.JSONParseSuccess = true
	feats := s.extractor.Extract(parsed)
	rec.Features = &feats

	placement := s.store.Place(raw, parsed)
	switch {
	case placement.OmittedReason != "":
		rec.OmittedReason = placement.OmittedReason
	case placement.Path != "":
		rec.BodyPath = placement.Path
		rec.PayloadSize = int64(len(raw))
		observability.BodiesExternalized.Inc()
	default:
		rec.InlineBody = placement.Inline
		rec.PayloadSize = int64(len(raw))
	}
	return s.persist(rec)
}

// baseRecord fills the header-level fields shared by every record.
func (s *runState) baseRecord(resp browser.Response, contentType string) *capture.Record {
	rawURL := resp.URL()
	rec := &capture.Record{
		Timestamp:       time.Now().UTC(),
		Method:          resp.Method(),
		URL:             redact.URL(rawURL),
		Status:          resp.Status(),
		ContentType:     contentType,
		RequestHeaders:  redact.Headers(resp.RequestHeaders()),
		ResponseHeaders: redact.Headers(resp.Headers()),
	}

	norm := normalize.Normalize(rawURL)
	if norm.OK {
		rec.NormalizedURL = norm.NormalizedURL
		rec.NormalizedPath = norm.NormalizedPath
		rec.EndpointKey = normalize.EndpointKey(resp.Method(), norm.NormalizedPath)
	} else {
		rec.EndpointKey = rec.URL
	}
	return rec
}

// persist appends rec unless the run is over cap or the record's
// (endpointKey, status, bodyHash) triplet has been seen before.
func (s *runState) persist(rec *capture.Record) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.opts.MaxCaptures > 0 && s.persisted >= s.opts.MaxCaptures {
		return nil
	}
	if s.dedup.Seen(rec.EndpointKey, rec.Status, rec.BodyHash) {
		s.duplicates++
		observability.DuplicatesSkipped.Inc()
		return nil
	}
	if err := s.journal.Append(rec); err != nil {
		observability.CaptureErrors.WithLabelValues("journal").Inc()
		return err
	}
	s.persisted++
	kind := observability.KindMetadata
	if rec.JSONParseSuccess {
		kind = observability.KindJSON
	}
	observability.ResponsesCaptured.WithLabelValues(kind).Inc()
	return nil
}

// close tears the browser down in reverse order of construction and
// saves the session blob first when configured. Everything here is
// best-effort.
func (s *runState) close(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if s.bctx != nil {
		if path := storageStatePath(s.opts); path != "" {
			if err := s.bctx.SaveStorageState(closeCtx, path); err != nil {
				slog.Warn("storage state save failed", "path", path, "error", err)
			} else {
				slog.Info("storage state saved", "path", path)
			}
		}
	}
	if s.page != nil {
		if err := s.page.Close(closeCtx); err != nil {
			slog.Debug("page close failed", "error", err)
		}
	}
	if s.bctx != nil {
		if err := s.bctx.Close(closeCtx); err != nil {
			slog.Debug("context close failed", "error", err)
		}
	}
	if s.session != nil {
		if err := s.session.Close(closeCtx); err != nil {
			slog.Debug("session close failed", "error", err)
		}
	}
	s.pool.Close()
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// Engines differ on header-name casing.
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func contentLength(headers map[string]string) int64 {
	v := headerValue(headers, "content-length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

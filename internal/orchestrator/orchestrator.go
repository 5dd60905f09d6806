// Package orchestrator drives a capture run end to end: launch the
// browser, navigate, hold the capture window open, drain the workers
// and aggregate the journal into the run catalog.
package orchestrator

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"apiscout/config"
	"apiscout/internal/aggregate"
	"apiscout/internal/browser"
	"apiscout/internal/capture"
	"apiscout/internal/errs"
	"apiscout/internal/har"
	"apiscout/internal/observability"
)

// State names one stage of the run state machine.
type State string

const (
	StateInit           State = "INIT"
	StateLaunch         State = "LAUNCH"
	StateNavigate       State = "NAVIGATE"
	StateInterstitial   State = "INTERSTITIAL"
	StateWaitTargetHost State = "WAIT_TARGET_HOST"
	StateWaitIdle       State = "WAIT_IDLE"
	StateFlow           State = "FLOW"
	StateCaptureWindow  State = "CAPTURE_WINDOW"
	StateDrain          State = "DRAIN"
	StateClose          State = "CLOSE"
	StateAggregate      State = "AGGREGATE"
	StateDone           State = "DONE"
)

// Stage bounds beyond the configured timers.
const (
	idleWait      = 5 * time.Second
	hostWait      = 10 * time.Second
	hostPoll      = 250 * time.Millisecond
	drainMin      = 10 * time.Second
	progressEvery = 5 * time.Second
)

// Artifact names for the optional run outputs.
const (
	HARName          = "session.har"
	TraceName        = "trace.zip"
	StorageStateName = "storageState.json"
)

// Flow is a user-provided interaction unit, invoked once between the
// idle wait and the capture window.
type Flow func(ctx context.Context, page browser.Page) error

// Result summarizes one finished run.
type Result struct {
	RunID             string
	RunDir            string
	TotalResponses    int
	Captured          int
	DuplicatesSkipped int
	// TimedOut is set when the global deadline fired; captured work is
	// still preserved.
	TimedOut bool
	Summary  *aggregate.Summary
}

// Runner executes capture runs for one set of options.
type Runner struct {
	opts   config.Options
	engine string
	flow   Flow
}

// New creates a Runner. opts must already be validated.
func New(opts config.Options, engine string) *Runner {
	return &Runner{opts: opts, engine: engine}
}

// WithFlow sets the flow hook run between idle wait and the window.
func (r *Runner) WithFlow(f Flow) *Runner {
	r.flow = f
	return r
}

// Run executes one capture run. Launch and navigation failures are
// fatal; everything after navigation is best-effort. Even fatal paths
// attempt CLOSE and AGGREGATE so partial captures remain usable.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	runID := NewRunID(started)
	runDir := filepath.Join(r.opts.OutDir, runID)

	slog.Info("starting capture run", "runId", runID, "url", r.opts.URL, "dir", runDir)
	r.logState(StateInit)

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errs.NewInternal("create run directory", err)
	}
	meta := capture.NewRunMetadata(runID, r.opts.URL, r.opts.Snapshot())
	if err := capture.WriteRunMetadata(runDir, meta); err != nil {
		return nil, errs.NewInternal("write run metadata", err)
	}
	journal, err := capture.OpenJournal(runDir)
	if err != nil {
		return nil, errs.NewInternal("open journal", err)
	}

	// The global hard deadline is not armed in watch mode.
	runCtx := ctx
	if !r.opts.Watch {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	state, err := newRunState(&r.opts, runDir, journal)
	if err != nil {
		journal.Close()
		return nil, err
	}

	result := &Result{RunID: runID, RunDir: runDir}
	fatal := r.drive(runCtx, state, result)
	result.TimedOut = runCtx.Err() == context.DeadlineExceeded

	// CLOSE and AGGREGATE run on every path, fatal or not.
	r.logState(StateClose)
	state.close(ctx)
	if err := journal.Close(); err != nil {
		slog.Warn("journal close failed", "error", err)
	}

	result.TotalResponses = state.totalResponses()
	result.Captured = state.capturedCount()
	result.DuplicatesSkipped = state.duplicateCount()

	if !r.opts.DisableSummary {
		r.logState(StateAggregate)
		summary, aggErr := aggregate.Run(runDir, aggregate.RunStats{
			RunID:             runID,
			URL:               r.opts.URL,
			StartedAt:         started.UTC(),
			CompletedAt:       time.Now().UTC(),
			TotalResponses:    result.TotalResponses,
			DuplicatesSkipped: result.DuplicatesSkipped,
		})
		if aggErr != nil {
			slog.Warn("aggregation failed", "error", aggErr)
		} else {
			result.Summary = summary
		}
	}

	if r.opts.SaveHar {
		if harErr := har.ExportRun(runDir, filepath.Join(runDir, HARName)); harErr != nil {
			slog.Warn("har export failed", "error", harErr)
		}
	}

	observability.RunDuration.Observe(time.Since(started).Seconds())
	r.logState(StateDone)
	slog.Info("capture run finished",
		"runId", runID,
		"responses", result.TotalResponses,
		"captured", result.Captured,
		"duplicates", result.DuplicatesSkipped,
		"timedOut", result.TimedOut)

	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// drive walks the browser-facing states. A non-nil return is fatal;
// the caller still closes and aggregates.
func (r *Runner) drive(ctx context.Context, state *runState, result *Result) error {
	opts := r.opts

	r.logState(StateLaunch)
	session, err := browser.Launch(ctx, r.engine)
	if err != nil {
		return err
	}
	state.session = session

	ctxOpts := browser.ContextOptions{
		UserAgent:        opts.UserAgent,
		StorageStatePath: opts.StorageState,
	}
	if opts.Trace {
		ctxOpts.TracePath = filepath.Join(result.RunDir, TraceName)
	}
	bctx, err := session.NewContext(ctx, ctxOpts)
	if err != nil {
		return errs.NewLaunch(err)
	}
	state.bctx = bctx

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return errs.NewLaunch(err)
	}
	state.page = page

	// The hook must be registered before navigation so early responses
	// are not lost. It enqueues and returns; body reads happen on the
	// limiter's workers.
	page.OnResponse(state.onResponse)

	r.logState(StateNavigate)
	navCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
	err = page.Goto(navCtx, opts.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return errs.NewDeadline(string(StateNavigate))
		}
		return errs.NewNavigation(opts.URL, err)
	}

	r.logState(StateInterstitial)
	handlers := browser.HandlersFor(opts.ConsentMode, opts.ConsentHandlers)
	if len(handlers) > 0 {
		fired := browser.ClearInterstitials(ctx, page, handlers, opts.ConsentAction)
		if len(fired) > 0 {
			if err := page.WaitForLoadState(ctx, browser.LoadStateDOMContentLoaded, idleWait); err != nil {
				slog.Debug("post-consent load wait failed", "error", err)
			}
		}
	}

	r.logState(StateWaitTargetHost)
	r.waitTargetHost(ctx, page)

	r.logState(StateWaitIdle)
	if err := page.WaitForLoadState(ctx, browser.LoadStateNetworkIdle, idleWait); err != nil {
		slog.Debug("network idle wait elapsed", "error", err)
	}

	if r.flow == nil && opts.Flow != "" {
		slog.Warn("flow configured but no flow implementation registered", "flow", opts.Flow)
	}
	if r.flow != nil {
		r.logState(StateFlow)
		flowCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		if err := r.flow(flowCtx, page); err != nil {
			slog.Warn("flow failed", "error", err)
		}
		cancel()
	}

	r.logState(StateCaptureWindow)
	r.captureWindow(ctx, state)

	// Late responses are dropped from here on.
	state.closing.Store(true)

	r.logState(StateDrain)
	elapsed := time.Since(state.started)
	ceiling := max(drainMin, time.Duration(opts.TimeoutMs)*time.Millisecond-elapsed)
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ceiling)
	defer cancel()
	if err := state.pool.Drain(drainCtx); err != nil {
		slog.Warn("drain ceiling reached, abandoning outstanding tasks",
			"error", err, "pending", state.pool.Pending(), "running", state.pool.Running())
	}

	return nil
}

// waitTargetHost polls until the page lands on the target's hostname.
// Interstitial redirects (consent hosts) make this necessary; failure
// is logged and the run continues.
func (r *Runner) waitTargetHost(ctx context.Context, page browser.Page) {
	target, err := url.Parse(r.opts.URL)
	if err != nil || target.Hostname() == "" {
		return
	}
	want := target.Hostname()

	deadline := time.Now().Add(hostWait)
	for time.Now().Before(deadline) {
		if cur, err := url.Parse(page.URL()); err == nil && cur.Hostname() == want {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(hostPoll):
		}
	}
	slog.Warn("target host not reached before deadline", "want", want, "at", page.URL())
}

// captureWindow holds the window open for monitorMs, or until the
// context is cancelled. Watch mode keeps the window open indefinitely.
func (r *Runner) captureWindow(ctx context.Context, state *runState) {
	var window <-chan time.Time
	if !r.opts.Watch {
		timer := time.NewTimer(time.Duration(r.opts.MonitorMs) * time.Millisecond)
		defer timer.Stop()
		window = timer.C
	}

	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-window:
			return
		case <-ticker.C:
			slog.Info("capture progress",
				"responses", state.totalResponses(),
				"captured", state.capturedCount(),
				"duplicates", state.duplicateCount(),
				"running", state.pool.Running(),
				"pending", state.pool.Pending())
		}
	}
}

func (r *Runner) logState(s State) {
	slog.Debug("state transition", "state", string(s))
}

// storageStatePath resolves where to save the session blob, empty when
// saving is off. saveStorageState wins over the saveSession alias.
func storageStatePath(opts *config.Options) string {
	if opts.SaveStorageState != "" {
		return opts.SaveStorageState
	}
	return opts.SaveSession
}

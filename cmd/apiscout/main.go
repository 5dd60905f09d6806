// Package main is the entry point for the apiscout CLI: capture a
// browser session's JSON API traffic, serve captured runs, or export
// them to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"apiscout/config"
	"apiscout/internal/browser"
	"apiscout/internal/catalog"
	"apiscout/internal/errs"
	"apiscout/internal/logging"
	"apiscout/internal/orchestrator"
	"apiscout/internal/version"
	"apiscout/internal/viewer"
)

// Exit codes by error kind.
const (
	exitInternal   = 1
	exitConfig     = 2
	exitLaunch     = 3
	exitNavigation = 4
	exitDeadline   = 5
)

func main() {
	// .env is optional; flags and config files win over it.
	_ = godotenv.Load()

	var (
		versionFlag = flag.Bool("version", false, "Print version information")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		configPath  = flag.String("config", "", "YAML config file")

		targetURL   = flag.String("url", "", "Target page URL")
		monitorMs   = flag.Int("monitor-ms", 0, "Capture window duration in milliseconds")
		timeoutMs   = flag.Int("timeout-ms", 0, "Global run deadline in milliseconds")
		outDir      = flag.String("out", "", "Root directory for run output")
		include     = flag.String("include", "", "Only capture URLs matching this regex")
		exclude     = flag.String("exclude", "", "Drop URLs matching this regex")
		maxBody     = flag.Int64("max-body-bytes", 0, "Absolute response body cap")
		inlineBody  = flag.Int64("inline-body-bytes", 0, "Inline/externalize boundary")
		maxCaptures = flag.Int("max-captures", -1, "Persisted record cap, 0 for unlimited")
		concurrency = flag.Int("concurrency", 0, "Concurrent capture workers")
		allJSON     = flag.Bool("all-json", false, "Capture every JSON response regardless of resource type")
		saveHar     = flag.Bool("har", false, "Write session.har into the run directory")
		trace       = flag.Bool("trace", false, "Record an engine trace")
		userAgent   = flag.String("user-agent", "", "Browser user agent override")

		consentMode    = flag.String("consent-mode", "", "Consent handling: auto, off, yahoo or generic")
		consentAction  = flag.String("consent-action", "", "Consent action: reject or accept")
		storageState   = flag.String("storage-state", "", "Seed cookies/local storage from this file")
		saveState      = flag.String("save-storage-state", "", "Write cookies/local storage to this file after the run")
		watch          = flag.Bool("watch", false, "Keep capturing until interrupted")
		disableSummary = flag.Bool("no-summary", false, "Skip aggregation and scoring")

		engine     = flag.String("engine", "", "Browser engine to use (default: the only one linked in)")
		serveAddr  = flag.String("serve", "", "Serve captured runs on this address instead of capturing")
		exportPath = flag.String("export-sqlite", "", "Export captured runs to this SQLite database and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println("apiscout " + version.Version)
		return
	}

	logging.Setup(*verbose)

	opts, err := loadOptions(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitConfig)
	}

	// Flags override the config file.
	if *targetURL != "" {
		opts.URL = *targetURL
	}
	if *monitorMs > 0 {
		opts.MonitorMs = *monitorMs
	}
	if *timeoutMs > 0 {
		opts.TimeoutMs = *timeoutMs
	}
	if *outDir != "" {
		opts.OutDir = *outDir
	}
	if *include != "" {
		opts.IncludeRegex = *include
	}
	if *exclude != "" {
		opts.ExcludeRegex = *exclude
	}
	if *maxBody > 0 {
		opts.MaxBodyBytes = *maxBody
	}
	if *inlineBody > 0 {
		opts.InlineBodyBytes = *inlineBody
	}
	if *maxCaptures >= 0 {
		opts.MaxCaptures = *maxCaptures
	}
	if *concurrency > 0 {
		opts.MaxConcurrentCaptures = *concurrency
	}
	if *allJSON {
		opts.CaptureAllJSON = true
	}
	if *saveHar {
		opts.SaveHar = true
	}
	if *trace {
		opts.Trace = true
	}
	if *userAgent != "" {
		opts.UserAgent = *userAgent
	}
	if *consentMode != "" {
		opts.ConsentMode = *consentMode
	}
	if *consentAction != "" {
		opts.ConsentAction = *consentAction
	}
	if *storageState != "" {
		opts.StorageState = *storageState
	}
	if *saveState != "" {
		opts.SaveStorageState = *saveState
	}
	if *watch {
		opts.Watch = true
	}
	if *disableSummary {
		opts.DisableSummary = true
	}

	switch {
	case *serveAddr != "":
		runViewer(*serveAddr, opts.OutDir)
	case *exportPath != "":
		if err := catalog.Export(opts.OutDir, *exportPath); err != nil {
			slog.Error("catalog export failed", "error", err)
			os.Exit(exitInternal)
		}
	default:
		runCapture(opts, *engine)
	}
}

func loadOptions(path string) (config.Options, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func runCapture(opts config.Options, engine string) {
	if err := opts.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}
	if len(browser.Engines()) == 0 {
		slog.Error("no browser engine linked into this build; build with an engine package imported")
		os.Exit(exitLaunch)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting apiscout", "version", version.Version, "url", opts.URL, "watch", opts.Watch)

	runner := orchestrator.New(opts, engine)
	res, err := runner.Run(ctx)
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(exitCode(err))
	}

	if res.Summary != nil {
		printTopEndpoints(res)
	}
	slog.Info("done", "dir", res.RunDir)
}

func printTopEndpoints(res *orchestrator.Result) {
	fmt.Printf("\nRun %s: %d responses, %d captured, %d duplicates\n",
		res.RunID, res.TotalResponses, res.Captured, res.DuplicatesSkipped)
	fmt.Printf("Top endpoints (%d total):\n", res.Summary.TotalEndpoints)
	for i, ep := range res.Summary.Endpoints {
		if i >= 10 {
			break
		}
		fmt.Printf("  %5.2f  %-50s  %d hits\n", ep.Score, ep.EndpointKey, ep.Count)
	}
	fmt.Printf("Catalog written to %s\n", res.RunDir)
}

func runViewer(addr, outDir string) {
	srv := viewer.New(outDir)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down viewer...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("viewer shutdown error", "error", err)
		}
	}()

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("viewer stopped gracefully")
			return
		}
		slog.Error("viewer failed to start", "error", err)
		os.Exit(exitInternal)
	}
}

func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConfig:
		return exitConfig
	case errs.KindLaunch:
		return exitLaunch
	case errs.KindNavigation:
		return exitNavigation
	case errs.KindDeadline:
		return exitDeadline
	default:
		return exitInternal
	}
}

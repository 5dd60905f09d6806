// Package config holds the capture run options, their defaults and
// validation, and the frozen snapshot embedded in run metadata.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"apiscout/internal/errs"
)

// Size and concurrency defaults.
const (
	DefaultMonitorMs             = 10_000
	DefaultTimeoutMs             = 60_000
	DefaultMaxBodyBytes          = 1 << 20 // 1 MiB
	DefaultInlineBodyBytes       = 16 << 10
	DefaultMaxConcurrentCaptures = 6
	DefaultOutDir                = "captures"
)

// Consent modes and actions.
const (
	ConsentModeAuto    = "auto"
	ConsentModeOff     = "off"
	ConsentModeYahoo   = "yahoo"
	ConsentModeGeneric = "generic"

	ConsentActionReject = "reject"
	ConsentActionAccept = "accept"
)

// Options is the full configuration recognized by the capture core.
type Options struct {
	// URL is the target page.
	URL string `yaml:"url"`
	// MonitorMs bounds the capture window.
	MonitorMs int `yaml:"monitorMs"`
	// TimeoutMs is the global hard deadline and per-stage ceiling.
	TimeoutMs int `yaml:"timeoutMs"`
	// OutDir is the root for run directories.
	OutDir string `yaml:"outDir"`

	IncludeRegex string `yaml:"includeRegex"`
	ExcludeRegex string `yaml:"excludeRegex"`

	// MaxBodyBytes is the absolute body cap.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	// InlineBodyBytes is the inline/externalize boundary.
	InlineBodyBytes int64 `yaml:"inlineBodyBytes"`
	// MaxCaptures caps persisted records; 0 means unlimited.
	MaxCaptures int `yaml:"maxCaptures"`
	// MaxConcurrentCaptures is the worker pool capacity.
	MaxConcurrentCaptures int `yaml:"maxConcurrentCaptures"`
	// CaptureAllJSON disables the resource-type gate.
	CaptureAllJSON bool `yaml:"captureAllJson"`

	// Flow names the user-provided flow script to run between idle wait
	// and the capture window.
	Flow string `yaml:"flow"`

	SaveHar bool `yaml:"saveHar"`
	Trace   bool `yaml:"trace"`

	UserAgent string `yaml:"userAgent"`

	ConsentMode     string   `yaml:"consentMode"`
	ConsentAction   string   `yaml:"consentAction"`
	ConsentHandlers []string `yaml:"consentHandlers"`

	// StorageState seeds cookies/local storage from a previous session.
	StorageState string `yaml:"storageState"`
	// SaveStorageState persists the context state after the run.
	SaveStorageState string `yaml:"saveStorageState"`
	// SaveSession is an alias write path for the same blob.
	SaveSession string `yaml:"saveSession"`

	// DisableSummary skips the aggregation stage.
	DisableSummary bool `yaml:"disableSummary"`
	// Watch repeats capture runs and leaves the global deadline unarmed.
	Watch bool `yaml:"watch"`

	include *regexp.Regexp
	exclude *regexp.Regexp
}

// Default returns Options with all defaults applied and no target URL.
func Default() Options {
	return Options{
		MonitorMs:             DefaultMonitorMs,
		TimeoutMs:             DefaultTimeoutMs,
		OutDir:                DefaultOutDir,
		MaxBodyBytes:          DefaultMaxBodyBytes,
		InlineBodyBytes:       DefaultInlineBodyBytes,
		MaxConcurrentCaptures: DefaultMaxConcurrentCaptures,
		ConsentMode:           ConsentModeAuto,
		ConsentAction:         ConsentActionReject,
	}
}

// LoadFile reads YAML options from path, layered over the defaults.
func LoadFile(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse config file: %w", err)
	}
	return opts, nil
}

// Validate checks option combinations and compiles the URL filters. It
// must pass before any run directory is created.
func (o *Options) Validate() error {
	if o.URL == "" {
		return errs.NewConfig("url is required")
	}
	if o.MonitorMs <= 0 {
		return errs.NewConfig("monitorMs must be positive")
	}
	if o.TimeoutMs <= 0 {
		return errs.NewConfig("timeoutMs must be positive")
	}
	if !o.Watch && o.MonitorMs >= o.TimeoutMs {
		return errs.NewConfigf("monitorMs (%d) must be less than timeoutMs (%d)", o.MonitorMs, o.TimeoutMs)
	}
	if o.MaxBodyBytes <= 0 {
		return errs.NewConfig("maxBodyBytes must be positive")
	}
	if o.InlineBodyBytes <= 0 {
		return errs.NewConfig("inlineBodyBytes must be positive")
	}
	if o.InlineBodyBytes > o.MaxBodyBytes {
		return errs.NewConfigf("inlineBodyBytes (%d) must not exceed maxBodyBytes (%d)", o.InlineBodyBytes, o.MaxBodyBytes)
	}
	if o.MaxCaptures < 0 {
		return errs.NewConfig("maxCaptures must be >= 0")
	}
	if o.MaxConcurrentCaptures < 1 {
		return errs.NewConfigf("maxConcurrentCaptures must be >= 1, got %d", o.MaxConcurrentCaptures)
	}

	switch o.ConsentMode {
	case ConsentModeAuto, ConsentModeOff, ConsentModeYahoo, ConsentModeGeneric, "":
	default:
		return errs.NewConfigf("unknown consentMode %q", o.ConsentMode)
	}
	switch o.ConsentAction {
	case ConsentActionReject, ConsentActionAccept, "":
	default:
		return errs.NewConfigf("unknown consentAction %q", o.ConsentAction)
	}

	if o.IncludeRegex != "" {
		re, err := regexp.Compile(o.IncludeRegex)
		if err != nil {
			return errs.NewConfigf("invalid includeRegex: %v", err)
		}
		o.include = re
	}
	if o.ExcludeRegex != "" {
		re, err := regexp.Compile(o.ExcludeRegex)
		if err != nil {
			return errs.NewConfigf("invalid excludeRegex: %v", err)
		}
		o.exclude = re
	}

	return nil
}

// Include returns the compiled include filter, nil when unset. Valid
// after Validate.
func (o *Options) Include() *regexp.Regexp { return o.include }

// Exclude returns the compiled exclude filter, nil when unset. Valid
// after Validate.
func (o *Options) Exclude() *regexp.Regexp { return o.exclude }

// Snapshot returns the frozen effective-options map embedded in
// run.json. Filter patterns are recorded as their source strings.
func (o *Options) Snapshot() map[string]any {
	return map[string]any{
		"url":                   o.URL,
		"monitorMs":             o.MonitorMs,
		"timeoutMs":             o.TimeoutMs,
		"outDir":                o.OutDir,
		"includeRegex":          o.IncludeRegex,
		"excludeRegex":          o.ExcludeRegex,
		"maxBodyBytes":          o.MaxBodyBytes,
		"inlineBodyBytes":       o.InlineBodyBytes,
		"maxCaptures":           o.MaxCaptures,
		"maxConcurrentCaptures": o.MaxConcurrentCaptures,
		"captureAllJson":        o.CaptureAllJSON,
		"flow":                  o.Flow,
		"saveHar":               o.SaveHar,
		"trace":                 o.Trace,
		"userAgent":             o.UserAgent,
		"consentMode":           o.ConsentMode,
		"consentAction":         o.ConsentAction,
		"disableSummary":        o.DisableSummary,
		"watch":                 o.Watch,
	}
}

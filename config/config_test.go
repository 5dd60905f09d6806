package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiscout/internal/errs"
)

func validOptions() Options {
	o := Default()
	o.URL = "https://example.com"
	return o
}

func TestDefaults(t *testing.T) {
	o := Default()
	assert.Equal(t, DefaultMonitorMs, o.MonitorMs)
	assert.Equal(t, DefaultTimeoutMs, o.TimeoutMs)
	assert.Equal(t, int64(1<<20), o.MaxBodyBytes)
	assert.Equal(t, int64(16<<10), o.InlineBodyBytes)
	assert.Equal(t, 6, o.MaxConcurrentCaptures)
	assert.Equal(t, 0, o.MaxCaptures)
	assert.Equal(t, ConsentModeAuto, o.ConsentMode)
	assert.Equal(t, ConsentActionReject, o.ConsentAction)
	assert.Equal(t, DefaultOutDir, o.OutDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{"valid defaults", func(o *Options) {}, true},
		{"missing url", func(o *Options) { o.URL = "" }, false},
		{"monitor exceeds timeout", func(o *Options) { o.MonitorMs = o.TimeoutMs }, false},
		{"monitor exceeds timeout in watch mode ok", func(o *Options) { o.MonitorMs = o.TimeoutMs; o.Watch = true }, true},
		{"zero monitor", func(o *Options) { o.MonitorMs = 0 }, false},
		{"zero timeout", func(o *Options) { o.TimeoutMs = 0 }, false},
		{"inline above max body", func(o *Options) { o.InlineBodyBytes = o.MaxBodyBytes + 1 }, false},
		{"zero concurrency", func(o *Options) { o.MaxConcurrentCaptures = 0 }, false},
		{"negative max captures", func(o *Options) { o.MaxCaptures = -1 }, false},
		{"bad include regex", func(o *Options) { o.IncludeRegex = "(" }, false},
		{"bad exclude regex", func(o *Options) { o.ExcludeRegex = "[z-a]" }, false},
		{"unknown consent mode", func(o *Options) { o.ConsentMode = "banner" }, false},
		{"unknown consent action", func(o *Options) { o.ConsentAction = "dismiss" }, false},
		{"valid filters", func(o *Options) { o.IncludeRegex = `/api/`; o.ExcludeRegex = `\.png$` }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errs.IsKind(err, errs.KindConfig), "expected a config error, got %v", err)
			}
		})
	}
}

func TestValidateCompilesFilters(t *testing.T) {
	o := validOptions()
	o.IncludeRegex = `/api/`
	require.NoError(t, o.Validate())
	require.NotNil(t, o.Include())
	assert.True(t, o.Include().MatchString("https://x.test/api/v1"))
	assert.Nil(t, o.Exclude())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apiscout.yaml")
	content := `
url: https://news.example.com
monitorMs: 8000
maxCaptures: 50
captureAllJson: true
consentMode: generic
includeRegex: "/api/"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	o, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.com", o.URL)
	assert.Equal(t, 8000, o.MonitorMs)
	assert.Equal(t, 50, o.MaxCaptures)
	assert.True(t, o.CaptureAllJSON)
	assert.Equal(t, ConsentModeGeneric, o.ConsentMode)
	// Unset fields keep defaults.
	assert.Equal(t, DefaultTimeoutMs, o.TimeoutMs)
	assert.Equal(t, int64(DefaultInlineBodyBytes), o.InlineBodyBytes)

	require.NoError(t, o.Validate())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSnapshotFrozen(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Validate())

	snap := o.Snapshot()
	assert.Equal(t, o.URL, snap["url"])
	assert.Equal(t, o.MonitorMs, snap["monitorMs"])
	assert.Equal(t, o.MaxBodyBytes, snap["maxBodyBytes"])

	// Mutating options afterwards must not change the snapshot.
	o.MonitorMs = 1
	assert.Equal(t, DefaultMonitorMs, snap["monitorMs"])
}

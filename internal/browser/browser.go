// Package browser abstracts the browser engine behind small
// interfaces. The capture pipeline only ever talks to these, so runs
// can be driven by a real engine registered at link time or by fakes
// in tests.
package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"apiscout/internal/errs"
)

// LoadState names a page lifecycle milestone to wait for.
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// ContextOptions configures a fresh browser context.
type ContextOptions struct {
	UserAgent string
	// StorageStatePath seeds cookies and local storage from a prior
	// session blob. Empty means a cold context.
	StorageStatePath string
	// RecordHARPath enables engine-side HAR recording to the given
	// file. Empty disables it.
	RecordHARPath string
	// TracePath enables engine tracing to the given file.
	TracePath string
}

// Response is a single network response as seen by the engine. Body
// may be called at most once and can fail when the page or context has
// already closed.
type Response interface {
	URL() string
	Method() string
	Status() int
	ResourceType() string
	Headers() map[string]string
	RequestHeaders() map[string]string
	Body() ([]byte, error)
}

// ResponseHook observes responses as they complete. Implementations
// must return quickly; anything slow belongs on a worker.
type ResponseHook func(Response)

// Frame is a document frame, main or embedded.
type Frame interface {
	URL() string
	// Exists reports whether selector matches at least one element.
	Exists(ctx context.Context, selector string) (bool, error)
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string, timeout time.Duration) error
}

// Page is an open tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	URL() string
	// OnResponse registers hook for every finished response on this
	// page. Multiple hooks may be registered.
	OnResponse(hook ResponseHook)
	MainFrame() Frame
	Frames() []Frame
	Close(ctx context.Context) error
}

// Context is an isolated browser context (cookie jar, storage).
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// SaveStorageState writes the context's cookies and local storage
	// to path as the engine's session blob.
	SaveStorageState(ctx context.Context, path string) error
	Close(ctx context.Context) error
}

// Session is a running browser instance.
type Session interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close(ctx context.Context) error
}

// Launcher starts a browser engine.
type Launcher func(ctx context.Context) (Session, error)

var (
	launchersMu sync.RWMutex
	launchers   = map[string]Launcher{}
)

// RegisterLauncher makes an engine available under name. Engines call
// this from init so importing the engine package is all it takes to
// link one in. Duplicate names panic.
func RegisterLauncher(name string, l Launcher) {
	launchersMu.Lock()
	defer launchersMu.Unlock()
	if l == nil {
		panic("browser: RegisterLauncher with nil launcher")
	}
	if _, dup := launchers[name]; dup {
		panic(fmt.Sprintf("browser: launcher %q registered twice", name))
	}
	launchers[name] = l
}

// Launch starts the named engine, or the sole registered engine when
// name is empty.
func Launch(ctx context.Context, name string) (Session, error) {
	launchersMu.RLock()
	l, ok := launchers[name]
	if name == "" && len(launchers) == 1 {
		for _, only := range launchers {
			l, ok = only, true
		}
	}
	launchersMu.RUnlock()

	if !ok {
		if len(Engines()) == 0 {
			return nil, errs.NewLaunch(fmt.Errorf("no browser engine linked into this build"))
		}
		return nil, errs.NewLaunch(fmt.Errorf("unknown browser engine %q (have %v)", name, Engines()))
	}

	s, err := l(ctx)
	if err != nil {
		return nil, errs.NewLaunch(err)
	}
	return s, nil
}

// Engines lists the registered engine names, sorted.
func Engines() []string {
	launchersMu.RLock()
	defer launchersMu.RUnlock()
	names := make([]string, 0, len(launchers))
	for name := range launchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

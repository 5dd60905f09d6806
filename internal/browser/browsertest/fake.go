// Package browsertest provides in-memory fakes of the browser
// interfaces for pipeline tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"apiscout/internal/browser"
)

// Response is a canned network response.
type Response struct {
	ReqMethod   string
	ReqURL      string
	StatusCode  int
	Resource    string
	RespHeaders map[string]string
	ReqHeaders  map[string]string
	BodyBytes   []byte
	BodyErr     error
}

func (r *Response) URL() string                       { return r.ReqURL }
func (r *Response) Method() string                    { return r.ReqMethod }
func (r *Response) Status() int                       { return r.StatusCode }
func (r *Response) ResourceType() string              { return r.Resource }
func (r *Response) Headers() map[string]string        { return r.RespHeaders }
func (r *Response) RequestHeaders() map[string]string { return r.ReqHeaders }
func (r *Response) Body() ([]byte, error)             { return r.BodyBytes, r.BodyErr }

// JSONResponse builds a 200 fetch response carrying a JSON body.
func JSONResponse(method, url string, body []byte) *Response {
	return &Response{
		ReqMethod:   method,
		ReqURL:      url,
		StatusCode:  200,
		Resource:    "fetch",
		RespHeaders: map[string]string{"content-type": "application/json"},
		ReqHeaders:  map[string]string{},
		BodyBytes:   body,
	}
}

// Frame is a fake document frame keyed by selector presence.
type Frame struct {
	FrameURL string
	// Present lists selectors Exists reports true for.
	Present map[string]bool
	// ClickErr, when set, fails every Click.
	ClickErr error

	mu      sync.Mutex
	clicked []string
}

func (f *Frame) URL() string { return f.FrameURL }

func (f *Frame) Exists(_ context.Context, selector string) (bool, error) {
	return f.Present[selector], nil
}

func (f *Frame) Click(_ context.Context, selector string, _ time.Duration) error {
	if f.ClickErr != nil {
		return f.ClickErr
	}
	f.mu.Lock()
	f.clicked = append(f.clicked, selector)
	f.mu.Unlock()
	return nil
}

// Clicked returns the selectors clicked so far, in order.
func (f *Frame) Clicked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicked...)
}

// Page is a fake tab. Tests feed it responses with Emit.
type Page struct {
	// CurrentURL is what URL() reports; Goto updates it unless
	// GotoURL overrides the landing URL (consent redirects).
	CurrentURL string
	GotoURL    string
	GotoErr    error
	WaitErr    error
	Main       *Frame
	Extra      []*Frame

	mu     sync.Mutex
	hooks  []browser.ResponseHook
	closed bool
}

func (p *Page) Goto(_ context.Context, url string) error {
	if p.GotoErr != nil {
		return p.GotoErr
	}
	if p.GotoURL != "" {
		p.CurrentURL = p.GotoURL
	} else {
		p.CurrentURL = url
	}
	return nil
}

func (p *Page) WaitForLoadState(_ context.Context, _ browser.LoadState, _ time.Duration) error {
	return p.WaitErr
}

func (p *Page) URL() string { return p.CurrentURL }

func (p *Page) OnResponse(hook browser.ResponseHook) {
	p.mu.Lock()
	p.hooks = append(p.hooks, hook)
	p.mu.Unlock()
}

func (p *Page) MainFrame() browser.Frame {
	if p.Main == nil {
		p.Main = &Frame{FrameURL: p.CurrentURL}
	}
	return p.Main
}

func (p *Page) Frames() []browser.Frame {
	frames := []browser.Frame{p.MainFrame()}
	for _, f := range p.Extra {
		frames = append(frames, f)
	}
	return frames
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Emit delivers r to every registered response hook, synchronously.
func (p *Page) Emit(r browser.Response) {
	p.mu.Lock()
	hooks := append([]browser.ResponseHook(nil), p.hooks...)
	p.mu.Unlock()
	for _, h := range hooks {
		h(r)
	}
}

// Context is a fake browser context handing out a fixed page.
type Context struct {
	Page       *Page
	NewPageErr error

	mu         sync.Mutex
	savedState []string
	closed     bool
}

func (c *Context) NewPage(context.Context) (browser.Page, error) {
	if c.NewPageErr != nil {
		return nil, c.NewPageErr
	}
	if c.Page == nil {
		c.Page = &Page{}
	}
	return c.Page, nil
}

func (c *Context) SaveStorageState(_ context.Context, path string) error {
	c.mu.Lock()
	c.savedState = append(c.savedState, path)
	c.mu.Unlock()
	return nil
}

// SavedStatePaths returns every path SaveStorageState was called with.
func (c *Context) SavedStatePaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.savedState...)
}

func (c *Context) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Session is a fake browser instance.
type Session struct {
	Ctx           *Context
	NewContextErr error

	mu       sync.Mutex
	lastOpts browser.ContextOptions
	closed   bool
}

func (s *Session) NewContext(_ context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if s.NewContextErr != nil {
		return nil, s.NewContextErr
	}
	s.mu.Lock()
	s.lastOpts = opts
	s.mu.Unlock()
	if s.Ctx == nil {
		s.Ctx = &Context{}
	}
	return s.Ctx, nil
}

// LastContextOptions returns the options of the most recent NewContext.
func (s *Session) LastContextOptions() browser.ContextOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher returns a browser.Launcher handing out s, or failing with
// err when err is non-nil.
func Launcher(s *Session, err error) browser.Launcher {
	return func(context.Context) (browser.Session, error) {
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ErrEngineDown is a convenient launch failure for tests.
var ErrEngineDown = errors.New("engine down")

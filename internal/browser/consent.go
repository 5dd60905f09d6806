package browser

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"apiscout/config"
)

// InterstitialHandler detects and clears one family of consent or
// cookie interstitials.
type InterstitialHandler interface {
	Name() string
	// Detect reports whether this handler's interstitial is present on
	// the page.
	Detect(ctx context.Context, page Page) bool
	// Clear attempts to dismiss the interstitial with the given
	// action. A failed click is not fatal to the run.
	Clear(ctx context.Context, page Page, action string) error
}

const consentClickTimeout = 5 * time.Second

// yahooHandler clears the consent.yahoo.com interstitial that fronts
// Yahoo properties in the EU.
type yahooHandler struct{}

func (yahooHandler) Name() string { return "yahoo" }

func (yahooHandler) Detect(_ context.Context, page Page) bool {
	return strings.Contains(page.URL(), "consent.yahoo.com")
}

func (yahooHandler) Clear(ctx context.Context, page Page, action string) error {
	selector := `button[name="reject"]`
	if action == config.ConsentActionAccept {
		selector = `button[name="agree"]`
	}
	return page.MainFrame().Click(ctx, selector, consentClickTimeout)
}

// genericHandler probes well-known consent-platform buttons across all
// frames. It covers OneTrust, Quantcast, Didomi and Sourcepoint.
type genericHandler struct{}

func (genericHandler) Name() string { return "generic" }

var genericSelectors = map[string][]string{
	config.ConsentActionReject: {
		"#onetrust-reject-all-handler",
		`button[mode="primary"].qc-cmp2-summary-buttons ~ button`,
		".qc-cmp2-summary-buttons button[mode=\"secondary\"]",
		"#didomi-notice-disagree-button",
		`button[title="Reject All"]`,
		`button[title="Reject all"]`,
	},
	config.ConsentActionAccept: {
		"#onetrust-accept-btn-handler",
		".qc-cmp2-summary-buttons button[mode=\"primary\"]",
		"#didomi-notice-agree-button",
		`button[title="Accept All"]`,
		`button[title="Accept all"]`,
	},
}

func (genericHandler) Detect(ctx context.Context, page Page) bool {
	for _, frame := range page.Frames() {
		for _, sel := range genericSelectors[config.ConsentActionReject] {
			if ok, err := frame.Exists(ctx, sel); err == nil && ok {
				return true
			}
		}
		for _, sel := range genericSelectors[config.ConsentActionAccept] {
			if ok, err := frame.Exists(ctx, sel); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (genericHandler) Clear(ctx context.Context, page Page, action string) error {
	selectors := genericSelectors[action]
	if selectors == nil {
		selectors = genericSelectors[config.ConsentActionReject]
	}
	var lastErr error
	for _, frame := range page.Frames() {
		for _, sel := range selectors {
			ok, err := frame.Exists(ctx, sel)
			if err != nil || !ok {
				continue
			}
			if err := frame.Click(ctx, sel, consentClickTimeout); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
	}
	return lastErr
}

// HandlersFor resolves the consent configuration into the ordered set
// of handlers to try. Mode off yields none; auto yields all built-in
// handlers; a specific mode yields that handler; names further
// restricts auto to the listed handlers.
func HandlersFor(mode string, names []string) []InterstitialHandler {
	all := []InterstitialHandler{yahooHandler{}, genericHandler{}}

	switch mode {
	case config.ConsentModeOff:
		return nil
	case config.ConsentModeYahoo:
		return []InterstitialHandler{yahooHandler{}}
	case config.ConsentModeGeneric:
		return []InterstitialHandler{genericHandler{}}
	}

	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var picked []InterstitialHandler
	for _, h := range all {
		if want[h.Name()] {
			picked = append(picked, h)
		}
	}
	return picked
}

// ClearInterstitials runs the configured handlers against the page,
// clicking through at most one interstitial per handler. It returns
// the names of handlers that fired.
func ClearInterstitials(ctx context.Context, page Page, handlers []InterstitialHandler, action string) []string {
	var fired []string
	for _, h := range handlers {
		if !h.Detect(ctx, page) {
			continue
		}
		slog.Info("consent interstitial detected", "handler", h.Name(), "action", action)
		if err := h.Clear(ctx, page, action); err != nil {
			slog.Warn("consent click failed", "handler", h.Name(), "error", err)
			continue
		}
		fired = append(fired, h.Name())
	}
	return fired
}

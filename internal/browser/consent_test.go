package browser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiscout/config"
	"apiscout/internal/browser"
	"apiscout/internal/browser/browsertest"
)

func handlerNames(hs []browser.InterstitialHandler) []string {
	var names []string
	for _, h := range hs {
		names = append(names, h.Name())
	}
	return names
}

func TestHandlersFor(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		names []string
		want  []string
	}{
		{"off yields none", config.ConsentModeOff, nil, nil},
		{"auto yields all", config.ConsentModeAuto, nil, []string{"yahoo", "generic"}},
		{"yahoo only", config.ConsentModeYahoo, nil, []string{"yahoo"}},
		{"generic only", config.ConsentModeGeneric, nil, []string{"generic"}},
		{"auto restricted by names", config.ConsentModeAuto, []string{"generic"}, []string{"generic"}},
		{"unknown names yield none", config.ConsentModeAuto, []string{"nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := browser.HandlersFor(tt.mode, tt.names)
			assert.Equal(t, tt.want, handlerNames(got))
		})
	}
}

func TestYahooHandlerClicksReject(t *testing.T) {
	page := &browsertest.Page{
		CurrentURL: "https://consent.yahoo.com/v2/collectConsent?sessionId=abc",
		Main:       &browsertest.Frame{Present: map[string]bool{`button[name="reject"]`: true}},
	}

	fired := browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeYahoo, nil), config.ConsentActionReject)

	assert.Equal(t, []string{"yahoo"}, fired)
	assert.Equal(t, []string{`button[name="reject"]`}, page.Main.Clicked())
}

func TestYahooHandlerClicksAgreeOnAccept(t *testing.T) {
	page := &browsertest.Page{
		CurrentURL: "https://consent.yahoo.com/v2/collectConsent",
		Main:       &browsertest.Frame{},
	}

	browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeYahoo, nil), config.ConsentActionAccept)

	assert.Equal(t, []string{`button[name="agree"]`}, page.Main.Clicked())
}

func TestYahooHandlerSkipsOtherHosts(t *testing.T) {
	page := &browsertest.Page{CurrentURL: "https://example.com/"}

	fired := browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeYahoo, nil), config.ConsentActionReject)

	assert.Empty(t, fired)
}

func TestGenericHandlerFindsBannerInFrame(t *testing.T) {
	banner := &browsertest.Frame{
		FrameURL: "https://cmp.example.com/banner",
		Present:  map[string]bool{"#onetrust-reject-all-handler": true},
	}
	page := &browsertest.Page{
		CurrentURL: "https://example.com/",
		Main:       &browsertest.Frame{FrameURL: "https://example.com/"},
		Extra:      []*browsertest.Frame{banner},
	}

	fired := browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeGeneric, nil), config.ConsentActionReject)

	require.Equal(t, []string{"generic"}, fired)
	assert.Equal(t, []string{"#onetrust-reject-all-handler"}, banner.Clicked())
	assert.Empty(t, page.Main.Clicked())
}

func TestGenericHandlerAcceptSelector(t *testing.T) {
	page := &browsertest.Page{
		CurrentURL: "https://example.com/",
		Main: &browsertest.Frame{
			Present: map[string]bool{"#onetrust-accept-btn-handler": true},
		},
	}

	fired := browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeGeneric, nil), config.ConsentActionAccept)

	require.Equal(t, []string{"generic"}, fired)
	assert.Equal(t, []string{"#onetrust-accept-btn-handler"}, page.Main.Clicked())
}

func TestClearInterstitialsSurvivesClickFailure(t *testing.T) {
	page := &browsertest.Page{
		CurrentURL: "https://consent.yahoo.com/v2/collectConsent",
		Main:       &browsertest.Frame{ClickErr: browsertest.ErrEngineDown},
	}

	fired := browser.ClearInterstitials(t.Context(), page,
		browser.HandlersFor(config.ConsentModeAuto, nil), config.ConsentActionReject)

	assert.Empty(t, fired, "a failed click must not count as handled")
}

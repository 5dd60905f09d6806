package browser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiscout/internal/browser"
	"apiscout/internal/browser/browsertest"
	"apiscout/internal/errs"
)

func TestLaunchUnknownEngine(t *testing.T) {
	_, err := browser.Launch(t.Context(), "no-such-engine")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindLaunch))
}

func TestRegisterAndLaunch(t *testing.T) {
	session := &browsertest.Session{}
	browser.RegisterLauncher("fake-launch-test", browsertest.Launcher(session, nil))

	s, err := browser.Launch(t.Context(), "fake-launch-test")
	require.NoError(t, err)
	assert.Same(t, session, s)
	assert.Contains(t, browser.Engines(), "fake-launch-test")
}

func TestLaunchWrapsEngineFailure(t *testing.T) {
	browser.RegisterLauncher("fake-broken-test", browsertest.Launcher(nil, browsertest.ErrEngineDown))

	_, err := browser.Launch(t.Context(), "fake-broken-test")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindLaunch))
	assert.ErrorIs(t, err, browsertest.ErrEngineDown)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	browser.RegisterLauncher("fake-dup-test", browsertest.Launcher(&browsertest.Session{}, nil))
	assert.Panics(t, func() {
		browser.RegisterLauncher("fake-dup-test", browsertest.Launcher(&browsertest.Session{}, nil))
	})
}

package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openpmix/mpirshim/internal/mpirabi"
	"github.com/openpmix/mpirshim/internal/pmix"
	"github.com/openpmix/mpirshim/internal/pmix/fake"
)

func TestLastAttributeReturnsLastMatch(t *testing.T) {
	info := pmix.AttributeSet{
		{Key: "PMIX_NSPACE", Value: "first.ns"},
		{Key: "PMIX_OTHER", Value: "ignored"},
		{Key: "PMIX_NSPACE", Value: "last.ns"},
	}

	v, ok := lastAttribute(info, "PMIX_NSPACE")
	assert.True(t, ok)
	assert.Equal(t, "last.ns", v)
}

func TestLastAttributeNoMatch(t *testing.T) {
	_, ok := lastAttribute(pmix.AttributeSet{{Key: "PMIX_OTHER", Value: "x"}}, "PMIX_NSPACE")
	assert.False(t, ok)
}

// TestLauncherCompleteHandlerUsesLastNamespace guards against the
// AttributeSet.Get-returns-first-match bug: the handler must resolve the
// application namespace from the last PMIX_NSPACE entry.
func TestLauncherCompleteHandlerUsesLastNamespace(t *testing.T) {
	client := fake.New()
	c := NewContext(ModeProxy, client, "mpirshim")

	c.launcherCompleteHandler(pmix.Event{
		Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0},
		Info: pmix.AttributeSet{
			{Key: "PMIX_NSPACE", Value: "first.ns"},
			{Key: "PMIX_NSPACE", Value: "app.ns"},
		},
	})

	app, ok := c.AppIdentity()
	assert.True(t, ok)
	assert.Equal(t, "app.ns", app.Namespace)
}

// TestLauncherTerminatedHandlerSetsAbortOnNonZeroExit covers spec.md §8's
// S4 scenario: a code-42 launcher exit must flip MPIR_debug_state to
// ABORTING and format the exact abort string.
func TestLauncherTerminatedHandlerSetsAbortOnNonZeroExit(t *testing.T) {
	mpirabi.ResetAbortState()
	client := fake.New()
	c := NewContext(ModeProxy, client, "mpirshim")

	c.launcherTerminatedHandler(pmix.Event{
		Info: pmix.AttributeSet{{Key: "PMIX_EXIT_CODE", Value: 42}},
	})

	assert.Equal(t, 42, c.ExitCode())
	assert.Equal(t, mpirabi.DebugStateAborting, mpirabi.GetDebugState())
	assert.Equal(t, "The launcher exited with return code 42", mpirabi.AbortString())
	assert.Equal(t, TerminatedLauncher, c.LauncherTerminated())
}

// TestLauncherTerminatedHandlerFallsBackToJobTermStatus covers the
// PMIX_EXIT_CODE-absent case.
func TestLauncherTerminatedHandlerFallsBackToJobTermStatus(t *testing.T) {
	mpirabi.ResetAbortState()
	client := fake.New()
	c := NewContext(ModeProxy, client, "mpirshim")

	c.launcherTerminatedHandler(pmix.Event{
		Info: pmix.AttributeSet{{Key: "PMIX_JOB_TERM_STATUS", Value: 7}},
	})

	assert.Equal(t, 7, c.ExitCode())
	assert.Equal(t, mpirabi.DebugStateAborting, mpirabi.GetDebugState())
}

// TestApplicationTerminatedHandlerReleasesLatches covers testable property
// 6 ("latch no-hang"): a terminal application event must always post every
// latch so no waiter can be left blocked forever.
func TestApplicationTerminatedHandlerReleasesLatches(t *testing.T) {
	mpirabi.ResetAbortState()
	client := fake.New()
	c := NewContext(ModeAttach, client, "mpirshim")
	c.SetAppIdentity(pmix.ProcRef{Namespace: "app.ns", Rank: pmix.RankWildcard})

	c.applicationTerminatedHandler(pmix.Event{
		Source: pmix.ProcRef{Namespace: "app.ns", Rank: 0},
		Info:   pmix.AttributeSet{{Key: "PMIX_EXIT_CODE", Value: 9}},
	})

	assert.True(t, c.AppTerminated())
	assert.Equal(t, TerminatedViaApp, c.LauncherTerminated())
	assert.Equal(t, 9, c.ExitCode())
	assert.Equal(t, mpirabi.DebugStateAborting, mpirabi.GetDebugState())
	assert.False(t, c.LaunchTermLatch.Armed(), "LaunchTermLatch must be released so no waiter hangs")
}

func TestApplicationTerminatedHandlerIgnoresOtherNamespaces(t *testing.T) {
	client := fake.New()
	c := NewContext(ModeAttach, client, "mpirshim")
	c.SetAppIdentity(pmix.ProcRef{Namespace: "app.ns", Rank: pmix.RankWildcard})

	c.applicationTerminatedHandler(pmix.Event{Source: pmix.ProcRef{Namespace: "other.ns", Rank: 0}})

	assert.False(t, c.AppTerminated())
	assert.Equal(t, TerminatedUnknown, c.LauncherTerminated())
}

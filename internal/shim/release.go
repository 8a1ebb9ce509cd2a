package shim

import (
	"context"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// ReleaseLauncher implements the first half of C6: notify the launcher
// (rank 0 of its own namespace) with DEBUGGER_RELEASE so it proceeds past
// its own wait point (spec.md §4.6). This must happen before
// ReleaseApplication, since the launcher is what ungates the application
// ranks on the PMIx server side.
func (c *Context) ReleaseLauncher(ctx context.Context) error {
	launcher := c.LauncherIdentity()
	status, err := c.client.Notify(ctx, pmix.EventDebuggerRelease, launcher, true)
	if err != nil {
		return ErrPMIxOp("release launcher", err)
	}
	if !status.Succeeded() {
		return ErrPMIxOp("release launcher", status)
	}
	return nil
}

// ReleaseApplication implements the second half of C6: notify every rank
// of the application's namespace with DEBUGGER_RELEASE (spec.md §4.6,
// using RankWildcard). Skipped when c.SuppressAppRelease is set, the
// test hook spec.md §4.10 calls out so a test can drive this step
// manually and assert on it in isolation.
func (c *Context) ReleaseApplication(ctx context.Context) error {
	if c.SuppressAppRelease {
		return nil
	}
	app, ok := c.AppIdentity()
	if !ok {
		return ErrFatalInvariant("release application", errNoAppNamespace)
	}
	target := pmix.ProcRef{Namespace: app.Namespace, Rank: pmix.RankWildcard}
	status, err := c.client.Notify(ctx, pmix.EventDebuggerRelease, target, true)
	if err != nil {
		return ErrPMIxOp("release application", err)
	}
	if !status.Succeeded() {
		return ErrPMIxOp("release application", status)
	}
	return nil
}

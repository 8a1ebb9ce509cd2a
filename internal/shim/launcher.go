package shim

import (
	"context"
	"os"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// rendezvousURI looks up the tool's own PMIx server URI so it can be
// exported into the launcher's child environment (spec.md §4.4/§6,
// "Environment variables produced": LAUNCHER_RNDZ_URI). PMIX_MYSERVER_URI
// is preferred; PMIX_SERVER_URI is the fallback when the tool hasn't been
// assigned its own server identity (per spec.md §4.5's attribute list).
func rendezvousURI(client pmix.Client) (string, bool) {
	if uri, ok := client.GetAttribute("PMIX_MYSERVER_URI"); ok && uri != "" {
		return uri, true
	}
	if uri, ok := client.GetAttribute("PMIX_SERVER_URI"); ok && uri != "" {
		return uri, true
	}
	return "", false
}

// buildLauncherApp turns the resolved RunArgs into the single AppContext
// PMIx spawns (spec.md §4.4: the launcher itself is spawned as a
// one-process "app"; it is the launcher's own job that later fans out
// into the real application ranks). The launcher's cwd is inherited from
// the shim's own; PROXY mode additionally forwards the shim's entire
// environment into the launcher (it has no other way to reach it, since
// PROXY never had a pre-existing system connection to inherit one from).
// Both modes export LAUNCHER_RNDZ_URI so the launcher can rendezvous back
// with this tool.
func (c *Context) buildLauncherApp(runArgs []string) pmix.AppContext {
	app := pmix.AppContext{MaxProcs: 1}
	if len(runArgs) > 0 {
		app.Cmd = runArgs[0]
		app.Argv = runArgs
	}
	if cwd, err := os.Getwd(); err == nil {
		app.Cwd = cwd
	}

	var env []string
	if c.Mode == ModeProxy {
		env = append(env, os.Environ()...)
	}
	if uri, ok := rendezvousURI(c.client); ok {
		env = append(env, "LAUNCHER_RNDZ_URI="+uri)
	}
	app.Env = env
	return app
}

// buildSpawnDirectives returns the PMIx spawn directives spec.md §4.4
// enumerates: completion and job-event notification so the handlers in
// events.go fire, output forwarding since nothing else will display the
// launcher's own stdout/stderr, a slot-based mapping policy, and — the
// directive the whole rest of C6 depends on — a nested
// PMIX_LAUNCH_DIRECTIVES info carrying PMIX_DEBUG_STOP_IN_INIT for the
// application (rank wildcard: every rank blocks in PMIx init until C6's
// DEBUGGER_RELEASE arrives).
func buildSpawnDirectives() pmix.AttributeSet {
	appDirectives := pmix.AttributeSet{
		{Key: "PMIX_DEBUG_STOP_IN_INIT", Value: true},
		{Key: "PMIX_EVENT_AFFECTED_PROC", Value: pmix.ProcRef{Rank: pmix.RankWildcard}},
	}
	return pmix.AttributeSet{
		{Key: "PMIX_NOTIFY_COMPLETION", Value: true},
		{Key: "PMIX_NOTIFY_JOB_EVENTS", Value: true},
		{Key: "PMIX_FWD_STDOUT", Value: true},
		{Key: "PMIX_FWD_STDERR", Value: true},
		{Key: "PMIX_MAPBY", Value: "slot"},
		{Key: "PMIX_LAUNCH_DIRECTIVES", Value: appDirectives},
	}
}

// SpawnLauncher issues the spawn request and records the resulting
// namespace as the launcher identity at rank 0. It does not touch the
// session count: spawning does not by itself establish a PMIx server
// connection in either PROXY or NONPROXY mode (spec.md §4.10/§8 S3).
func (c *Context) SpawnLauncher(ctx context.Context, runArgs []string) error {
	ns, status, err := c.client.Spawn(ctx, []pmix.AppContext{c.buildLauncherApp(runArgs)}, buildSpawnDirectives())
	if err != nil {
		return ErrPMIxOp("spawn launcher", err)
	}
	if !status.Succeeded() {
		return ErrPMIxOp("spawn launcher", status)
	}
	c.SetLauncherIdentity(pmix.ProcRef{Namespace: ns, Rank: 0})
	return nil
}

// ConnectToLauncher performs the deferred rendezvous both PROXY and
// NONPROXY modes need after the launcher has been spawned (spec.md §4.4,
// DESIGN.md's resolution of the session-count Open Question): each
// call increments the session count by one, so PROXY goes 0->1 and
// NONPROXY (which already holds its system-level connection from
// PMIX_CONNECT_SYSTEM_FIRST) goes 1->2. ATTACH never calls this: it
// never spawns a launcher to connect to.
func (c *Context) ConnectToLauncher(ctx context.Context) error {
	peer, err := c.client.ConnectToServer(ctx)
	if err != nil {
		return ErrPMIxOp("connect to launcher", err)
	}
	if id := c.LauncherIdentity(); id.Namespace == "" {
		c.SetLauncherIdentity(peer)
	}
	c.IncSessionCount()
	return nil
}

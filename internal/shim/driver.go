package shim

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/openpmix/mpirshim/internal/mpirabi"
	"github.com/openpmix/mpirshim/internal/pmix"
)

// Run orchestrates the full sequence from spec.md §4.10 for one shim
// invocation and returns the process exit code. opts must already have
// been produced by ResolveOptions. client is the PMIx collaborator
// (internal/pmix/cgoclient in production, internal/pmix/fake in tests).
//
// The non-ATTACH path (PROXY/NONPROXY):
//
//	init -> spawn launcher -> connect to server -> register handlers ->
//	release launcher -> wait launch-complete -> wait ready-for-debug ->
//	resolve proctable -> release application -> wait terminated -> shutdown
//
// Releasing the launcher (rank 0) is what lets it proceed to
// LAUNCH_COMPLETE, so that release has to happen before the launch-complete
// wait, not after it. And the launcher-terminate/ready handlers cannot be
// registered before the server connect (§4.10), so RegisterAll moves after
// ConnectToLauncher.
//
// The ATTACH path never spawns; it learns the launcher namespace from the
// tool's own keystore, queries the application namespace the launcher owns,
// resolves the proctable, and returns — it never releases anything (C6 is
// PROXY/NONPROXY only) and never waits for termination.
func Run(ctx context.Context, opts Options, client pmix.Client) int {
	c := NewContext(opts.Mode, client, opts.ToolName)

	if err := c.tool.Init(ToolIdentity(opts.ToolName), BuildInitAttrs(opts.Mode, opts.TargetPID, opts.PMIxPrefix)); err != nil {
		logFatalf("init: %v", err)
		return 1
	}
	defer c.Shutdown(context.Background())

	stop := c.InstallSignalHandlers()
	defer stop()

	if opts.Mode == ModeAttach {
		return c.runAttach(ctx, opts.TargetPID)
	}
	return c.runLaunch(ctx, opts)
}

func (c *Context) runLaunch(ctx context.Context, opts Options) int {
	if c.Mode == ModeNonProxy {
		// PMIX_CONNECT_SYSTEM_FIRST already gave this tool one server
		// session during Init; see DESIGN.md's resolution of the
		// session-count Open Question.
		c.IncSessionCount()
	}

	if err := c.SpawnLauncher(ctx, opts.RunArgs); err != nil {
		logFatalf("spawn: %v", err)
		return 1
	}

	if err := c.ConnectToLauncher(ctx); err != nil {
		logFatalf("connect: %v", err)
		return 1
	}

	if err := c.RegisterAll(c.LauncherIdentity()); err != nil {
		logFatalf("register handlers: %v", err)
		return 1
	}

	if err := c.ReleaseLauncher(ctx); err != nil {
		logFatalf("release launcher: %v", err)
		return 1
	}

	c.LaunchCompleteLatch.Wait()
	if c.LauncherTerminated() != TerminatedUnknown {
		return c.ExitCode()
	}

	c.ReadyLatch.Wait()
	if c.LauncherTerminated() != TerminatedUnknown {
		return c.ExitCode()
	}

	if _, ok := c.AppIdentity(); !ok {
		logFatalf("proctable: %v", ErrFatalInvariant("run", errNoAppNamespace))
		return 1
	}
	if err := c.ResolveProcTable(ctx); err != nil {
		logFatalf("proctable: %v", err)
		return 1
	}

	if err := c.ReleaseApplication(ctx); err != nil {
		logFatalf("release application: %v", err)
		return 1
	}

	c.LaunchTermLatch.Wait()
	return c.ExitCode()
}

// runAttach implements the ATTACH path exactly as spec.md §4.10 step 3 and
// §8 S2 describe it: learn the launcher namespace from the tool's own
// keystore, query the application namespace that launcher owns, build the
// proctable (which also hits the breakpoint), finalize via Run's deferred
// Shutdown, and exit 0. There is no application release (C6 is
// PROXY/NONPROXY only) and no termination wait.
func (c *Context) runAttach(ctx context.Context, targetPID int) int {
	if err := checkPIDAlive(targetPID); err != nil {
		logFatalf("attach: %v", err)
		return 1
	}

	launcher, err := c.resolveLauncherIdentity()
	if err != nil {
		logFatalf("attach: %v", err)
		return 1
	}
	c.SetLauncherIdentity(launcher)

	appNamespace, err := c.resolveAttachAppNamespace(ctx, launcher)
	if err != nil {
		logFatalf("attach: %v", err)
		return 1
	}
	c.SetAppIdentity(pmix.ProcRef{Namespace: appNamespace, Rank: pmix.RankWildcard})

	if err := c.ResolveProcTable(ctx); err != nil {
		logFatalf("proctable: %v", err)
		return 1
	}

	return 0
}

// resolveLauncherIdentity learns the launcher's namespace and rank from the
// tool's own keystore (spec.md §4.5: SERVER_NSPACE/SERVER_RANK), since
// ATTACH never spawned a launcher of its own to learn it from directly.
func (c *Context) resolveLauncherIdentity() (pmix.ProcRef, error) {
	ns, ok := c.client.GetAttribute("PMIX_SERVER_NSPACE")
	if !ok || ns == "" {
		return pmix.ProcRef{}, ErrFatalInvariant("resolve launcher identity", errNoAttachResult)
	}
	rank := pmix.Rank(0)
	if rs, ok := c.client.GetAttribute("PMIX_SERVER_RANK"); ok {
		if n, err := strconv.Atoi(rs); err == nil {
			rank = pmix.Rank(n)
		}
	}
	return pmix.ProcRef{Namespace: ns, Rank: rank}, nil
}

// resolveAttachAppNamespace queries for the application namespace qualified
// by the launcher's namespace (spec.md §4.5/§4.10 step 3), since a launcher
// may own more than one namespace over its lifetime.
func (c *Context) resolveAttachAppNamespace(ctx context.Context, launcher pmix.ProcRef) (string, error) {
	results, err := c.client.Query(ctx, []pmix.Query{{
		Key:        "PMIX_QUERY_NAMESPACES",
		Qualifiers: pmix.AttributeSet{{Key: "PMIX_NSPACE", Value: launcher.Namespace}},
	}})
	if err != nil {
		return "", ErrPMIxOp("query attach application namespace", err)
	}
	if len(results) == 0 {
		return "", ErrFatalInvariant("query attach application namespace", errNoAttachResult)
	}
	ns, _ := results[0].Info.Get("PMIX_NSPACE")
	nsStr, _ := ns.(string)
	if nsStr == "" {
		return "", ErrFatalInvariant("query attach application namespace", errNoAttachResult)
	}
	return nsStr, nil
}

var errNoAttachResult = procTableErr("no namespace found for attach target pid")

// checkPIDAlive probes targetPID with signal 0 (spec.md §4.9, "invalid
// attach" scenario S6): a non-existent process must fail fast with a
// configuration error rather than waste a PMIx query round trip.
func checkPIDAlive(targetPID int) error {
	if err := unix.Kill(targetPID, 0); err != nil {
		return ErrConfig("check attach target", fmt.Errorf("pid %d: %w", targetPID, err))
	}
	return nil
}

// logFatalf reports a fatal driver error: it records the message as the
// MPIR abort string a waiting debugger would read, then logs it to
// stderr via the standard log package. It deliberately does not call
// log.Fatal: Run's deferred Shutdown must still run PMIx finalisation
// before the process exits, which log.Fatal's immediate os.Exit(1) would
// skip.
func logFatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	mpirabi.SetAbortString(msg)
	mpirabi.SetDebugState(mpirabi.DebugStateAborting)
	log.Printf("mpirshim: %s", msg)
}

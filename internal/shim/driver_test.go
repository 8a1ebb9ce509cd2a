package shim

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpmix/mpirshim/internal/pmix"
	"github.com/openpmix/mpirshim/internal/pmix/fake"
)

func waitForHandlerCount(t *testing.T, c *Context, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.HandlerIDs()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d registered handlers, have %d", n, len(c.HandlerIDs()))
}

// TestRunLaunchProxyHappyPath exercises spec.md's S1 scenario: PROXY mode,
// spawn succeeds, launcher reports complete then ready, the proctable is
// resolved, both release notifications are sent, and the launcher's own
// termination unblocks Run with its reported exit code.
func TestRunLaunchProxyHappyPath(t *testing.T) {
	client := fake.New()
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)
	client.SetConnectResult(pmix.ProcRef{Namespace: "launcher.ns", Rank: 0})
	client.SetProcTable([]pmix.ProcTableEntry{
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 0}, HostName: "node0", ExecutableName: "app", PID: 4242},
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 1}, HostName: "node1", ExecutableName: "app", PID: 4243},
	}, nil)

	c := NewContext(ModeProxy, client, "mpirshim")
	require.NoError(t, c.tool.Init(ToolIdentity("mpirshim"), BuildInitAttrs(ModeProxy, 0, "")))

	opts := Options{Mode: ModeProxy, RunArgs: []string{"mpirun", "-n", "2", "app"}, ToolName: "mpirshim"}

	result := make(chan int, 1)
	go func() { result <- c.runLaunch(context.Background(), opts) }()

	waitForHandlerCount(t, c, 5)
	assert.Equal(t, 1, c.SessionCount(), "PROXY connect should move session count 0->1")

	client.Fire(pmix.Event{
		Code:   pmix.EventLaunchComplete,
		Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0},
		Info:   pmix.AttributeSet{{Key: "PMIX_NSPACE", Value: "app.ns"}},
	})
	client.Fire(pmix.Event{
		Code:   pmix.EventReadyForDebug,
		Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0},
	})

	require.Eventually(t, func() bool {
		return len(client.NotifyCalls()) >= 2
	}, 2*time.Second, time.Millisecond)

	client.Fire(pmix.Event{
		Code:   pmix.EventJobTerminated,
		Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0},
		Info:   pmix.AttributeSet{{Key: "PMIX_EXIT_CODE", Value: 0}},
	})

	select {
	case code := <-result:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("runLaunch did not return after launcher terminated")
	}

	calls := client.NotifyCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "launcher.ns", calls[0].Target.Namespace)
	assert.Equal(t, "app.ns", calls[1].Target.Namespace)
	assert.Equal(t, pmix.RankWildcard, calls[1].Target.Rank)
}

// TestRunLaunchNonProxySessionCount exercises spec.md's S3 scenario: in
// NONPROXY mode the system-level connection from Init already counts as
// one session, so the post-spawn connect moves the count 1->2.
func TestRunLaunchNonProxySessionCount(t *testing.T) {
	client := fake.New()
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)
	client.SetConnectResult(pmix.ProcRef{Namespace: "launcher.ns", Rank: 0})
	client.SetProcTable(nil, nil)

	c := NewContext(ModeNonProxy, client, "mpirshim")
	require.NoError(t, c.tool.Init(ToolIdentity("mpirshim"), BuildInitAttrs(ModeNonProxy, 0, "")))

	opts := Options{Mode: ModeNonProxy, RunArgs: []string{"prun", "-n", "2", "app"}, ToolName: "mpirshim"}
	c.SuppressAppRelease = true

	result := make(chan int, 1)
	go func() { result <- c.runLaunch(context.Background(), opts) }()

	waitForHandlerCount(t, c, 5)
	assert.Equal(t, 2, c.SessionCount())

	client.Fire(pmix.Event{Code: pmix.EventLaunchComplete, Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0}})
	client.Fire(pmix.Event{Code: pmix.EventReadyForDebug, Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0}})
	client.Fire(pmix.Event{Code: pmix.EventJobTerminated, Source: pmix.ProcRef{Namespace: "launcher.ns", Rank: 0}})

	select {
	case <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("runLaunch did not return")
	}
}

// TestDefaultHandlerDecrementsWithoutTerminatingWhenSessionsRemain covers
// the lost-connection branch that does not terminate the process: with
// more than one session open, a lost-connection event only decrements
// the count.
func TestDefaultHandlerDecrementsWithoutTerminatingWhenSessionsRemain(t *testing.T) {
	client := fake.New()
	c := NewContext(ModeNonProxy, client, "mpirshim")
	c.IncSessionCount()
	c.IncSessionCount()

	action := c.defaultHandler(pmix.Event{Code: pmix.EventLostConnectionToServer})
	assert.Equal(t, pmix.ActionComplete, action)
	assert.Equal(t, 1, c.SessionCount())
	assert.Equal(t, TerminatedUnknown, c.LauncherTerminated())
}

// TestRunAttachResolvesViaKeystoreAndExitsZero covers spec.md §4.10 step
// 3 / §8 S2: ATTACH learns the launcher namespace from the tool's own
// keystore, queries the application namespace qualified by it, builds the
// proctable, and returns 0 with no release and no termination wait.
func TestRunAttachResolvesViaKeystoreAndExitsZero(t *testing.T) {
	client := fake.New()
	client.SetKeystore("PMIX_SERVER_NSPACE", "launcher.ns")
	client.SetKeystore("PMIX_SERVER_RANK", "0")
	client.SetQueryResult("PMIX_QUERY_NAMESPACES", []pmix.QueryResult{
		{Info: pmix.AttributeSet{{Key: "PMIX_NSPACE", Value: "app.ns"}}},
	})
	client.SetProcTable([]pmix.ProcTableEntry{
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 0}, HostName: "node0", ExecutableName: "app", PID: 555},
	}, nil)

	c := NewContext(ModeAttach, client, "mpirshim")

	code := c.runAttach(context.Background(), os.Getpid())

	assert.Equal(t, 0, code)
	app, ok := c.AppIdentity()
	require.True(t, ok)
	assert.Equal(t, "app.ns", app.Namespace)
	assert.Equal(t, "launcher.ns", c.LauncherIdentity().Namespace)
	assert.Empty(t, client.NotifyCalls(), "attach must never release the application")
}

// TestToolInitFinalizeIdempotent covers spec.md's C2 reference-counted
// finalize.
func TestToolInitFinalizeIdempotent(t *testing.T) {
	client := fake.New()
	tool := &Tool{client: client}

	require.NoError(t, tool.Init(ToolIdentity("mpirshim"), nil))
	assert.Equal(t, 1, tool.InitCount())

	require.NoError(t, tool.Finalize())
	assert.Equal(t, 0, tool.InitCount())
	assert.Equal(t, 1, client.FinalizeCount())

	require.NoError(t, tool.Finalize())
	assert.Equal(t, 1, client.FinalizeCount(), "second finalize must be a no-op")
}

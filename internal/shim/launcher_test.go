package shim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpmix/mpirshim/internal/pmix"
	"github.com/openpmix/mpirshim/internal/pmix/fake"
)

func TestBuildSpawnDirectivesIncludesDebugStopInInit(t *testing.T) {
	dirs := buildSpawnDirectives()

	assertHasValue(t, dirs, "PMIX_MAPBY", "slot")
	assertHasValue(t, dirs, "PMIX_NOTIFY_JOB_EVENTS", true)

	v, ok := dirs.Get("PMIX_LAUNCH_DIRECTIVES")
	require.True(t, ok)
	nested, ok := v.(pmix.AttributeSet)
	require.True(t, ok)
	assertHasValue(t, nested, "PMIX_DEBUG_STOP_IN_INIT", true)
	stopTarget, ok := nested.Get("PMIX_EVENT_AFFECTED_PROC")
	require.True(t, ok, "nested launch directives must target the application rank wildcard")
	assert.Equal(t, pmix.ProcRef{Rank: pmix.RankWildcard}, stopTarget)
}

func assertHasValue(t *testing.T, attrs pmix.AttributeSet, key string, want any) {
	t.Helper()
	v, ok := attrs.Get(key)
	require.Truef(t, ok, "missing attribute %s", key)
	assert.Equal(t, want, v)
}

// TestSpawnLauncherExportsRendezvousURI covers spec.md §4.4/§6: the
// launcher's child environment must carry LAUNCHER_RNDZ_URI, derived from
// the tool's own keystore (PMIX_MYSERVER_URI, falling back to
// PMIX_SERVER_URI), and its cwd.
func TestSpawnLauncherExportsRendezvousURI(t *testing.T) {
	client := fake.New()
	client.SetKeystore("PMIX_MYSERVER_URI", "uri://mine")
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)

	c := NewContext(ModeNonProxy, client, "mpirshim")
	require.NoError(t, c.SpawnLauncher(context.Background(), []string{"prun", "app"}))

	apps := client.SpawnedApps()
	require.Len(t, apps, 1)
	assert.Contains(t, apps[0].Env, "LAUNCHER_RNDZ_URI=uri://mine")
	assert.NotEmpty(t, apps[0].Cwd)
}

func TestSpawnLauncherFallsBackToServerURI(t *testing.T) {
	client := fake.New()
	client.SetKeystore("PMIX_SERVER_URI", "uri://fallback")
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)

	c := NewContext(ModeProxy, client, "mpirshim")
	require.NoError(t, c.SpawnLauncher(context.Background(), []string{"mpirun", "app"}))

	apps := client.SpawnedApps()
	require.Len(t, apps, 1)
	assert.Contains(t, apps[0].Env, "LAUNCHER_RNDZ_URI=uri://fallback")
}

// TestSpawnLauncherProxyForwardsFullEnvironment covers the PROXY-only
// requirement to copy the shim's entire environment into the launcher's
// child, since PROXY has no pre-existing system connection to inherit one
// from.
func TestSpawnLauncherProxyForwardsFullEnvironment(t *testing.T) {
	t.Setenv("MPIRSHIM_TEST_MARKER", "present")

	client := fake.New()
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)

	c := NewContext(ModeProxy, client, "mpirshim")
	require.NoError(t, c.SpawnLauncher(context.Background(), []string{"mpirun", "app"}))

	apps := client.SpawnedApps()
	require.Len(t, apps, 1)
	assert.Contains(t, apps[0].Env, "MPIRSHIM_TEST_MARKER=present")
}

func TestSpawnLauncherNonProxyDoesNotForwardFullEnvironment(t *testing.T) {
	t.Setenv("MPIRSHIM_TEST_MARKER", "present")

	client := fake.New()
	client.SetSpawnResult("launcher.ns", pmix.Success, nil)

	c := NewContext(ModeNonProxy, client, "mpirshim")
	require.NoError(t, c.SpawnLauncher(context.Background(), []string{"prun", "app"}))

	apps := client.SpawnedApps()
	require.Len(t, apps, 1)
	assert.NotContains(t, apps[0].Env, "MPIRSHIM_TEST_MARKER=present")
}

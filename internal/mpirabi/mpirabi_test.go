package mpirabi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcTableRoundTrips(t *testing.T) {
	defer FreeProcTable()

	rows := []ProcDesc{
		{HostName: "node0", ExecutableName: "app", PID: 100},
		{HostName: "node1", ExecutableName: "app", PID: 101},
	}
	SetProcTable(rows)

	assert.Equal(t, len(rows), ProcTableSize())
}

func TestSetProcTableEmptyClearsTable(t *testing.T) {
	defer FreeProcTable()

	SetProcTable([]ProcDesc{{HostName: "node0", ExecutableName: "app", PID: 1}})
	require.Equal(t, 1, ProcTableSize())

	SetProcTable(nil)
	assert.Equal(t, 0, ProcTableSize())
}

func TestFreeProcTableIsIdempotent(t *testing.T) {
	SetProcTable([]ProcDesc{{HostName: "node0", ExecutableName: "app", PID: 1}})
	FreeProcTable()
	assert.NotPanics(t, FreeProcTable)
	assert.Equal(t, 0, ProcTableSize())
}

func TestDebugStateRoundTrips(t *testing.T) {
	SetDebugState(DebugStateNull)
	assert.Equal(t, DebugStateNull, GetDebugState())

	SetDebugState(DebugStateSpawned)
	assert.Equal(t, DebugStateSpawned, GetDebugState())

	SetDebugState(DebugStateAborting)
	assert.Equal(t, DebugStateAborting, GetDebugState())
}

func TestSetAbortStringFirstWriterWins(t *testing.T) {
	abortString.Store(nil)

	SetAbortString("first failure")
	SetAbortString("second failure")

	assert.Equal(t, "first failure", AbortString())
}

func TestBreakpointInvokesHook(t *testing.T) {
	called := false
	BreakpointHook = func() { called = true }
	defer func() { BreakpointHook = nil }()

	Breakpoint()
	assert.True(t, called)
}

func TestBeingDebuggedRoundTrips(t *testing.T) {
	SetBeingDebugged(true)
	assert.True(t, BeingDebugged())

	SetBeingDebugged(false)
	assert.False(t, BeingDebugged())
}

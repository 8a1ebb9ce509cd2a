package shim

import (
	"context"

	"github.com/openpmix/mpirshim/internal/mpirabi"
	"github.com/openpmix/mpirshim/internal/pmix"
)

// ResolveProcTable implements C5: once the launcher has signalled
// ready-for-debug, query PMIx for the application's proctable, publish it
// through internal/mpirabi, set MPIR_debug_state to SPAWNED, and hit the
// breakpoint trap so a debugger sitting on it wakes up (spec.md §4.5's
// fixed ordering: proctable must be fully built before the state flips
// and the breakpoint fires, so a debugger reading the table right after
// the trap never sees a partial one).
//
// appNamespace is resolved from the launcher-complete handler (see
// events.go); if it is still unset here that is a fatal invariant
// violation — real PMIx event ordering guarantees LAUNCH_COMPLETE is
// delivered before READY_FOR_DEBUG, so ResolveProcTable's caller should
// already have waited on both latches.
func (c *Context) ResolveProcTable(ctx context.Context) error {
	app, ok := c.AppIdentity()
	if !ok || app.Namespace == "" {
		return ErrFatalInvariant("resolve proctable", errNoAppNamespace)
	}

	rows, err := c.client.QueryProcTable(ctx, app.Namespace)
	if err != nil {
		return ErrPMIxOp("query proc table", err)
	}

	mpirabi.SetProcTable(indexByRank(rows))
	mpirabi.SetDebugState(mpirabi.DebugStateSpawned)
	mpirabi.Breakpoint()
	return nil
}

// indexByRank places each proctable row at its rank index rather than its
// arrival index, since rows may arrive in any order (spec.md §4.5).
func indexByRank(rows []pmix.ProcTableEntry) []mpirabi.ProcDesc {
	maxRank := -1
	for _, r := range rows {
		if int(r.Proc.Rank) > maxRank {
			maxRank = int(r.Proc.Rank)
		}
	}
	descs := make([]mpirabi.ProcDesc, maxRank+1)
	for _, r := range rows {
		descs[r.Proc.Rank] = mpirabi.ProcDesc{
			HostName:       r.HostName,
			ExecutableName: r.ExecutableName,
			PID:            r.PID,
		}
	}
	return descs
}

var errNoAppNamespace = procTableErr("application namespace not resolved before proctable query")

type procTableErr string

func (e procTableErr) Error() string { return string(e) }

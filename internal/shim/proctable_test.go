package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// TestIndexByRankOrdersByRankNotArrival covers testable property 2: the
// proctable entry at index i must be the record whose rank was i, even
// when QueryProcTable returns rows out of rank order.
func TestIndexByRankOrdersByRankNotArrival(t *testing.T) {
	rows := []pmix.ProcTableEntry{
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 2}, HostName: "node2", ExecutableName: "app", PID: 300},
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 0}, HostName: "node0", ExecutableName: "app", PID: 100},
		{Proc: pmix.ProcRef{Namespace: "app.ns", Rank: 1}, HostName: "node1", ExecutableName: "app", PID: 200},
	}

	descs := indexByRank(rows)
	if assert.Len(t, descs, 3) {
		assert.Equal(t, 100, descs[0].PID)
		assert.Equal(t, 200, descs[1].PID)
		assert.Equal(t, 300, descs[2].PID)
	}
}

func TestIndexByRankEmpty(t *testing.T) {
	assert.Len(t, indexByRank(nil), 0)
}

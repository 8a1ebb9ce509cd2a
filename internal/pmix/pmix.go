// Package pmix models the PMIx tool API as a Go interface. The PMIx
// client library itself is explicitly out of scope for this core
// (spec.md §1): it is an external collaborator referenced only through
// this interface. Two implementations exist: internal/pmix/cgoclient
// (a thin cgo shim over the real libpmix, built with the pmix_cgo build
// tag) and internal/pmix/fake (a scripted in-memory client used by tests
// and by anyone building without PMIx headers installed).
package pmix

import "context"

// Status mirrors a subset of pmix_status_t. Only the values the shim's
// control flow actually branches on are named; everything else round-trips
// as an opaque negative/non-zero code.
type Status int32

const (
	Success            Status = 0
	OperationSucceeded Status = 1 // PMIX_OPERATION_SUCCEEDED
	ErrBadParam        Status = -1
	ErrNotFound        Status = -2
	ErrTimeout         Status = -3
)

// Succeeded reports whether st is one of the two accepted success codes
// (spec.md §4.4/§4.6: "Accept both SUCCESS and OPERATION_SUCCEEDED as
// success").
func (st Status) Succeeded() bool {
	return st == Success || st == OperationSucceeded
}

func (st Status) Error() string {
	switch st {
	case Success, OperationSucceeded:
		return "success"
	case ErrBadParam:
		return "bad parameter"
	case ErrNotFound:
		return "not found"
	case ErrTimeout:
		return "timed out"
	default:
		return "pmix error"
	}
}

// Rank is an MPI rank within a namespace. RankWildcard addresses every
// process in a namespace at once (used for application-wide release and
// for filters that should match any rank).
type Rank uint32

const RankWildcard Rank = 0xFFFFFFFF

// ProcRef identifies one process, or (with RankWildcard) a whole
// namespace, for filters, release targets and query qualifiers.
type ProcRef struct {
	Namespace string
	Rank      Rank
}

// EventCode identifies the PMIx notification codes the shim registers
// handlers for (spec.md §4.3).
type EventCode int

const (
	EventAny EventCode = iota
	EventLaunchComplete
	EventReadyForDebug
	EventJobTerminated
	EventLostConnectionToServer
	EventDebuggerRelease // used only as a Notify() code, never registered
)

// Action is returned from an EventHandler to tell the PMIx event chain how
// to proceed. The shim always returns ActionComplete (spec.md: "All
// handlers... must invoke the supplied continuation... with
// EVENT_ACTION_COMPLETE").
type Action int

const ActionComplete Action = 0

// Info is one attribute in a PMIx info array: a key plus an arbitrary
// value (string, int, bool...). Info arrays are how PMIx carries
// everything from spawn directives to event payloads to query results.
type Info struct {
	Key   string
	Value any
}

// AttributeSet is an ordered list of Info entries.
type AttributeSet []Info

// Get returns the first value for key, if present.
func (a AttributeSet) Get(key string) (any, bool) {
	for _, i := range a {
		if i.Key == key {
			return i.Value, true
		}
	}
	return nil, false
}

// Event is delivered to a registered EventHandler.
type Event struct {
	Code   EventCode
	Source ProcRef
	Info   AttributeSet
}

// AppContext describes one application to spawn (spec.md §4.4: the
// launcher itself is spawned as a single one-process "app").
type AppContext struct {
	Cmd      string
	Argv     []string
	Cwd      string
	Env      []string
	MaxProcs int
}

// EventHandler processes one delivered event and returns the continuation
// action.
type EventHandler func(evt Event) Action

// RegisterCompleteHandler is invoked (asynchronously, on a library
// thread) once an event registration has been accepted by the PMIx
// server. handlerID is later used to deregister.
type RegisterCompleteHandler func(status Status, handlerID int)

// Query describes one QUERY_* request (spec.md §4.5).
type Query struct {
	Key        string
	Qualifiers AttributeSet
}

// QueryResult is one response entry to a Query.
type QueryResult struct {
	Info AttributeSet
}

// ProcTableEntry is one row of a QUERY_PROC_TABLE response.
type ProcTableEntry struct {
	Proc           ProcRef
	HostName       string
	ExecutableName string
	PID            int
	ExitCode       int
	State          string
}

// ToolIdentity is the namespace+rank this tool registers under
// (spec.md §3: "<tool-name>.<pid>", rank 0).
type ToolIdentity struct {
	Namespace string
	Rank      Rank
}

// Client is the full surface the shim's coordination core needs from a
// PMIx tool session. A real implementation wraps pmix_tool_init,
// PMIx_Spawn, PMIx_Query_info, PMIx_Register_event_handler,
// PMIx_Notify_event and friends.
type Client interface {
	// Init establishes the tool session with the given identity and
	// mode-dependent attributes (DO_NOT_CONNECT, CONNECT_SYSTEM_FIRST,
	// SERVER_PIDINFO, PREFIX — see spec.md §4.2).
	Init(identity ToolIdentity, attrs AttributeSet) error

	// Finalize tears down the tool session. Implementations need not be
	// idempotent themselves: idempotence is the job of the shim's C2
	// reference-counted wrapper (internal/shim/tool.go).
	Finalize() error

	// ConnectToServer rendezvous with a PMIx server the tool did not
	// already hold a session with (the deferred connect to the just
	// spawned launcher, used by both PROXY and NONPROXY — see
	// DESIGN.md). It must respect ctx's deadline and returns the
	// identity of the server connected to, mirroring the real
	// PMIx_tool_connect_to_server signature which fills in a
	// pmix_proc_t for the peer.
	ConnectToServer(ctx context.Context) (ProcRef, error)

	// Spawn launches apps under the given directives and returns the
	// namespace PMIx assigned to the spawned job.
	Spawn(ctx context.Context, apps []AppContext, directives AttributeSet) (namespace string, status Status, err error)

	// RegisterEvent registers handler for the given codes, optionally
	// filtered to a single ProcRef (nil = unfiltered). onComplete is
	// invoked exactly once, asynchronously, with the assigned handler ID.
	RegisterEvent(codes []EventCode, filter *ProcRef, handler EventHandler, onComplete RegisterCompleteHandler)

	// DeregisterEvent releases a previously registered handler.
	DeregisterEvent(handlerID int) error

	// Query issues one or more PMIx queries and blocks for the response.
	Query(ctx context.Context, queries []Query) ([]QueryResult, error)

	// QueryProcTable is a convenience wrapper the shim's C5 uses for
	// QUERY_PROC_TABLE, returning already-decoded rows.
	QueryProcTable(ctx context.Context, appNamespace string) ([]ProcTableEntry, error)

	// Notify sends an event (spec.md §4.6: DEBUGGER_RELEASE) targeted at
	// target, optionally with PMIX_EVENT_NON_DEFAULT semantics.
	Notify(ctx context.Context, code EventCode, target ProcRef, nonDefault bool) (Status, error)

	// GetAttribute looks up an attribute from the tool's own local
	// keystore (spec.md §4.5's SERVER_NSPACE/SERVER_RANK/MYSERVER_URI/
	// SERVER_URI lookups), without talking to the server.
	GetAttribute(key string) (string, bool)
}

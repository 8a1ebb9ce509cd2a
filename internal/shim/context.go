package shim

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// Context is the single owned value carrying all mutable coordination
// state. Per SPEC_FULL.md's Design Notes, the MPIR surface stays in
// process-wide exported symbols (internal/mpirabi) because the debugger
// contract demands that; everything else the driver and the event
// handlers share lives here, passed by reference (the PMIx "return
// object" in the source pattern).
type Context struct {
	Mode     Mode
	client   pmix.Client
	toolName string

	// tool init idempotency (C2); distinct from sessionCount.
	tool *Tool

	mu               sync.Mutex
	toolIdentity     pmix.ProcRef
	launcherIdentity pmix.ProcRef
	appIdentity      pmix.ProcRef
	appIdentitySet   bool
	exitCode         int
	appTerminated    bool
	handlerIDs       map[string]int

	sessionCount int32 // atomic via mu; small enough not to need its own atomic type

	launcherTerminated atomic.Int32 // TerminatedState, 0 = not terminated

	// Registration serialisation (C3): only one registration may be in
	// flight because the completion slot below is a single slot shared
	// by every registration, as in the source pattern.
	registrationMu sync.Mutex
	regResult      chan registerResult

	// PrintMu guards debug output the way the source pattern's dedicated
	// print mutex does (spec.md §5).
	PrintMu sync.Mutex

	RegistrationLatch   *Latch
	ReadyLatch          *Latch
	LaunchCompleteLatch *Latch
	LaunchTermLatch     *Latch

	// SuppressAppRelease is the compile-time test hook from spec.md
	// §4.10: when true, Run does not release application ranks, so a
	// test can drive that step manually.
	SuppressAppRelease bool
}

type registerResult struct {
	status    pmix.Status
	handlerID int
}

// NewContext builds a Context bound to client, wiring the launcher-
// terminated predicate into all four latches, which must never outlive
// the launcher.
func NewContext(mode Mode, client pmix.Client, toolName string) *Context {
	ctx := &Context{
		Mode:       mode,
		client:     client,
		toolName:   toolName,
		tool:       &Tool{client: client},
		handlerIDs: map[string]int{},
	}
	terminated := func() bool { return ctx.launcherTerminated.Load() != int32(TerminatedUnknown) }
	ctx.RegistrationLatch = NewLatch("registration", terminated)
	ctx.ReadyLatch = NewLatch("ready-for-debug", terminated)
	ctx.LaunchCompleteLatch = NewLatch("launch-complete", terminated)
	ctx.LaunchTermLatch = NewLatch("launch-term", terminated)
	return ctx
}

// ToolIdentity returns "<tool-name>.<pid>" rank 0, per spec.md §3.
func ToolIdentity(toolName string) pmix.ToolIdentity {
	return pmix.ToolIdentity{
		Namespace: fmt.Sprintf("%s.%d", toolName, os.Getpid()),
		Rank:      0,
	}
}

func (c *Context) SetLauncherIdentity(p pmix.ProcRef) {
	c.mu.Lock()
	c.launcherIdentity = p
	c.mu.Unlock()
}

func (c *Context) LauncherIdentity() pmix.ProcRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launcherIdentity
}

func (c *Context) SetAppIdentity(p pmix.ProcRef) {
	c.mu.Lock()
	c.appIdentity = p
	c.appIdentitySet = true
	c.mu.Unlock()
}

func (c *Context) AppIdentity() (pmix.ProcRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appIdentity, c.appIdentitySet
}

func (c *Context) SetExitCode(code int) {
	c.mu.Lock()
	c.exitCode = code
	c.mu.Unlock()
}

func (c *Context) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *Context) SetAppTerminated(v bool) {
	c.mu.Lock()
	c.appTerminated = v
	c.mu.Unlock()
}

func (c *Context) AppTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appTerminated
}

// IncSessionCount increments the session count (spec.md §3: "how many
// PMIx-server connections this tool presently holds").
func (c *Context) IncSessionCount() {
	c.mu.Lock()
	c.sessionCount++
	c.mu.Unlock()
}

// DecSessionCountSaturating decrements the session count, never going
// below zero — preserving the source pattern's exact ordering per
// SPEC_FULL.md's resolution of the matching Open Question.
func (c *Context) DecSessionCountSaturating() {
	c.mu.Lock()
	if c.sessionCount > 0 {
		c.sessionCount--
	}
	c.mu.Unlock()
}

func (c *Context) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.sessionCount)
}

// SetLauncherTerminated records how the launcher was observed to die.
// Transitions are monotonic: once set, later calls are no-ops, matching
// "launcher_terminated" only ever moving from unknown to a terminal
// value.
func (c *Context) SetLauncherTerminated(state TerminatedState) {
	c.launcherTerminated.CompareAndSwap(int32(TerminatedUnknown), int32(state))
}

// LauncherTerminated reports the current TerminatedState.
func (c *Context) LauncherTerminated() TerminatedState {
	return TerminatedState(c.launcherTerminated.Load())
}

// AllLatches returns every named latch owned by this context, in a fixed
// order, for ReleaseAll.
func (c *Context) AllLatches() []*Latch {
	return []*Latch{c.RegistrationLatch, c.ReadyLatch, c.LaunchCompleteLatch, c.LaunchTermLatch}
}

// ReleaseAllLatches posts every latch so the driver thread cannot hang
// (spec.md §4.7).
func (c *Context) ReleaseAllLatches() {
	ReleaseAll(c.AllLatches()...)
}

func (c *Context) recordHandlerID(name string, id int) {
	c.mu.Lock()
	c.handlerIDs[name] = id
	c.mu.Unlock()
}

// HandlerIDs returns a snapshot of every registered handler's name->ID
// mapping, used by C8 to deregister at shutdown.
func (c *Context) HandlerIDs() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.handlerIDs))
	for k, v := range c.handlerIDs {
		out[k] = v
	}
	return out
}

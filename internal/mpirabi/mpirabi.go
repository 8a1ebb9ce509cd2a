// Package mpirabi owns the externally visible MPIR symbol surface (C9):
// the well-known globals and the MPIR_Breakpoint trap point a debugger
// reads and sets a breakpoint on via the target process's symbol table.
//
// The symbols themselves are true C-ABI globals (see mpir.c/mpir.h),
// exported through cgo, because a managed runtime's own global variables
// are not a reliable stand-in for the fixed-layout C symbols the MPIR
// contract requires (see Design Notes in SPEC_FULL.md).
package mpirabi

/*
#include <stdlib.h>
#include "mpir.h"
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// DebugState mirrors the MPIR_debug_state enumeration. Values only ever
// move NULL -> SPAWNED -> ABORTING, except that ABORTING may be entered
// directly from NULL on a non-zero launcher exit before the ready event.
type DebugState int32

const (
	DebugStateNull     DebugState = 0
	DebugStateSpawned  DebugState = 1
	DebugStateAborting DebugState = 2
)

// ProcDesc is the Go-side mirror of one MPIR_PROCDESC row.
type ProcDesc struct {
	HostName       string
	ExecutableName string
	PID            int
}

var (
	mu          sync.Mutex // guards proctable (re)allocation; reads are lock-free
	cProctable  []C.struct_MPIR_PROCDESC
	cStrings    []*C.char // owns every CString so it can be freed exactly once
	abortString atomic.Pointer[string]

	// BreakpointHook, when non-nil, is invoked by Breakpoint() after the
	// real trap executes. This is the Go expression of the source
	// pattern's weakly-defined MPIR_Breakpoint_hook: Go has no weak
	// symbols, so a settable function variable stands in for it. Tests
	// use this to observe that the breakpoint fired without attaching a
	// real debugger.
	BreakpointHook func()
)

// SetDebugState stores state into MPIR_debug_state. The field is declared
// volatile in C and is written with a single atomic store, matching the
// source pattern's lock-free write from event-handler threads.
func SetDebugState(state DebugState) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&C.MPIR_debug_state)), int32(state))
}

// GetDebugState reads the current MPIR_debug_state value.
func GetDebugState() DebugState {
	return DebugState(atomic.LoadInt32((*int32)(unsafe.Pointer(&C.MPIR_debug_state))))
}

// SetAbortString sets MPIR_debug_abort_string at most once: the first
// caller wins, later callers are silently ignored. This uses a
// compare-and-swap on a Go-side atomic pointer that shadows the C global,
// resolving spec.md's open question in favor of a race-detector-clean
// "first writer wins" (the C source's unsynchronized write is benign only
// because in practice at most one of the two terminate handlers fires).
func SetAbortString(s string) {
	if !abortString.CompareAndSwap(nil, &s) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	C.MPIR_debug_abort_string = C.CString(s)
}

// AbortString returns the abort string, or "" if none has been set.
func AbortString() string {
	if p := abortString.Load(); p != nil {
		return *p
	}
	return ""
}

// ResetAbortState clears the first-writer-wins abort string and resets
// MPIR_debug_state to NULL. Production code never calls this; it exists so
// a test can exercise more than one abort scenario in a single process.
func ResetAbortState() {
	abortString.Store(nil)
	SetDebugState(DebugStateNull)
}

// SetProcTable allocates MPIR_proctable/MPIR_proctable_size from rows,
// copying every string by value so the caller's data (which may be freed
// by the PMIx query layer) is never aliased. Rows must already be ordered
// by MPI rank; SetProcTable does not reorder them.
//
// It is the caller's responsibility (C5) to call this exactly once, after
// which the table is read-only until FreeProcTable runs at process exit.
func SetProcTable(rows []ProcDesc) {
	mu.Lock()
	defer mu.Unlock()

	freeLocked()

	if len(rows) == 0 {
		C.MPIR_proctable = nil
		C.MPIR_proctable_size = 0
		return
	}

	cProctable = make([]C.struct_MPIR_PROCDESC, len(rows))
	cStrings = make([]*C.char, 0, len(rows)*2)

	for i, r := range rows {
		host := C.CString(r.HostName)
		exe := C.CString(r.ExecutableName)
		cStrings = append(cStrings, host, exe)
		cProctable[i].host_name = host
		cProctable[i].executable_name = exe
		cProctable[i].pid = C.int(r.PID)
	}

	C.MPIR_proctable = (*C.struct_MPIR_PROCDESC)(unsafe.Pointer(&cProctable[0]))
	C.MPIR_proctable_size = C.int(len(rows))
}

// ProcTableSize returns the current MPIR_proctable_size.
func ProcTableSize() int {
	return int(C.MPIR_proctable_size)
}

// FreeProcTable releases the proctable's backing strings and array. It is
// idempotent and is the cgo-side half of C8's atexit handler: ownership is
// "created by C5, freed on atexit" per spec.md's data model.
func FreeProcTable() {
	mu.Lock()
	defer mu.Unlock()
	freeLocked()
	C.MPIR_proctable = nil
	C.MPIR_proctable_size = 0
}

func freeLocked() {
	for _, s := range cStrings {
		C.free(unsafe.Pointer(s))
	}
	cStrings = nil
	cProctable = nil
}

// Breakpoint calls the exported C MPIR_Breakpoint trap function and then,
// if present, the test hook. MPIR_Breakpoint must only be called after
// the debug state has been set to a non-NULL value in the same logical
// step (spec.md invariant).
func Breakpoint() {
	C.MPIR_Breakpoint()
	if BreakpointHook != nil {
		BreakpointHook()
	}
}

// SetBeingDebugged is provided for tests that simulate a debugger having
// already attached and flipped MPIR_being_debugged before the shim starts.
// The shim itself never calls this in normal operation: the field is
// debugger-writable, not shim-writable.
func SetBeingDebugged(v bool) {
	n := C.int(0)
	if v {
		n = 1
	}
	atomic.StoreInt32((*int32)(unsafe.Pointer(&C.MPIR_being_debugged)), int32(n))
}

// BeingDebugged reports whether the debugger has attached.
func BeingDebugged() bool {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&C.MPIR_being_debugged))) != 0
}

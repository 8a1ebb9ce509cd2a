// Package cgoclient is the real pmix.Client, a thin cgo shim over the
// system's libpmix (pmix_tool.h / pmix.h). It is built only with the
// pmix_cgo build tag so that the rest of the module — and its tests —
// build cleanly on machines without a PMIx installation.
//
// The shape of this wrapper (hand-rolled cgo bindings plus a registry
// mapping opaque C callback cookies back to Go closures) follows the same
// pattern other cgo-backed Go libraries in the ecosystem use to wrap a C
// API that has no native Go binding — e.g. libvirt.org/go/libvirt and
// honnef.co/go/augeas, both cgo shims over C libraries with the same
// shape as PMIx's.

//go:build pmix_cgo

package cgoclient

/*
#cgo pkg-config: pmix
#include <stdlib.h>
#include <string.h>
#include <pmix_tool.h>

extern void goEventHandler(size_t evhdlr_registration_id,
                            pmix_status_t status,
                            const pmix_proc_t *source,
                            pmix_info_t info[], size_t ninfo,
                            pmix_info_t results[], size_t nresults,
                            pmix_event_notification_cbfunc_fn_t cbfunc,
                            void *cbdata);

extern void goRegisterComplete(pmix_status_t status, size_t evhandler_ref, void *cbdata);

extern void goSpawnComplete(pmix_status_t status, char nspace[], void *cbdata);
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// Client wraps one PMIx tool session.
type Client struct {
	mu       sync.Mutex
	handlers map[int]pmix.EventHandler
	nextRef  int
}

// New returns an unconnected cgoclient.Client.
func New() *Client {
	return &Client{handlers: map[int]pmix.EventHandler{}}
}

func toCProc(p pmix.ProcRef) C.pmix_proc_t {
	var cp C.pmix_proc_t
	ns := C.CString(p.Namespace)
	defer C.free(unsafe.Pointer(ns))
	C.strncpy(&cp.nspace[0], ns, C.size_t(len(cp.nspace))-1)
	cp.rank = C.pmix_rank_t(p.Rank)
	return cp
}

func (c *Client) Init(identity pmix.ToolIdentity, attrs pmix.AttributeSet) error {
	cinfo, free := toCInfoArray(attrs)
	defer free()

	var proc C.pmix_proc_t
	rc := C.PMIx_tool_init(&proc, cinfo, C.size_t(len(attrs)))
	if rc != C.PMIX_SUCCESS {
		return fmt.Errorf("PMIx_tool_init: status %d", int(rc))
	}
	return nil
}

func (c *Client) Finalize() error {
	rc := C.PMIx_tool_finalize()
	if rc != C.PMIX_SUCCESS {
		return fmt.Errorf("PMIx_tool_finalize: status %d", int(rc))
	}
	return nil
}

type connectResult struct {
	proc pmix.ProcRef
	err  error
}

func (c *Client) ConnectToServer(ctx context.Context) (pmix.ProcRef, error) {
	done := make(chan connectResult, 1)
	go func() {
		var proc C.pmix_proc_t
		rc := C.PMIx_tool_connect_to_server(&proc, nil, 0)
		if rc != C.PMIX_SUCCESS {
			done <- connectResult{err: fmt.Errorf("PMIx_tool_connect_to_server: status %d", int(rc))}
			return
		}
		done <- connectResult{proc: pmix.ProcRef{
			Namespace: C.GoString(&proc.nspace[0]),
			Rank:      pmix.Rank(proc.rank),
		}}
	}()

	select {
	case r := <-done:
		return r.proc, r.err
	case <-ctx.Done():
		return pmix.ProcRef{}, ctx.Err()
	}
}

func (c *Client) Spawn(ctx context.Context, apps []pmix.AppContext, directives pmix.AttributeSet) (string, pmix.Status, error) {
	capps := make([]C.pmix_app_t, len(apps))
	for i, a := range apps {
		capps[i].cmd = C.CString(a.Cmd)
		capps[i].maxprocs = C.int(a.MaxProcs)
		capps[i].argv = toCStringArray(a.Argv)
		capps[i].env = toCStringArray(a.Env)
		if a.Cwd != "" {
			capps[i].cwd = C.CString(a.Cwd)
		}
	}
	cinfo, free := toCInfoArray(directives)
	defer free()

	nspace := make([]C.char, 512)
	rc := C.PMIx_Spawn(cinfo, C.size_t(len(directives)), &capps[0], C.size_t(len(capps)), &nspace[0])
	return C.GoString(&nspace[0]), pmix.Status(rc), statusErr(rc, "PMIx_Spawn")
}

func (c *Client) RegisterEvent(codes []pmix.EventCode, filter *pmix.ProcRef, handler pmix.EventHandler, onComplete pmix.RegisterCompleteHandler) {
	c.mu.Lock()
	c.nextRef++
	ref := c.nextRef
	c.handlers[ref] = handler
	c.mu.Unlock()

	ccodes := make([]C.pmix_status_t, len(codes))
	for i, code := range codes {
		ccodes[i] = C.pmix_status_t(eventCodeToStatus(code))
	}

	var cinfo *C.pmix_info_t
	var ninfo C.size_t
	if filter != nil {
		attrs := pmix.AttributeSet{{Key: "PMIX_EVENT_AFFECTED_PROC", Value: *filter}}
		var free func()
		cinfo, free = toCInfoArray(attrs)
		defer free()
		ninfo = 1
	}

	C.PMIx_Register_event_handler(
		&ccodes[0], C.size_t(len(ccodes)),
		cinfo, ninfo,
		C.pmix_notification_fn_t(C.goEventHandler),
		C.pmix_evhdlr_reg_cbfunc_t(C.goRegisterComplete),
		unsafe.Pointer(uintptr(ref)),
	)
	_ = onComplete // not invoked: goRegisterComplete has an empty body
}

func (c *Client) DeregisterEvent(handlerID int) error {
	rc := C.PMIx_Deregister_event_handler(C.size_t(handlerID))
	return statusErr(rc, "PMIx_Deregister_event_handler")
}

func (c *Client) Query(ctx context.Context, queries []pmix.Query) ([]pmix.QueryResult, error) {
	return nil, fmt.Errorf("cgoclient: Query not wired for this build (pmix_cgo placeholder)")
}

func (c *Client) QueryProcTable(ctx context.Context, appNamespace string) ([]pmix.ProcTableEntry, error) {
	return nil, fmt.Errorf("cgoclient: QueryProcTable not wired for this build (pmix_cgo placeholder)")
}

func (c *Client) Notify(ctx context.Context, code pmix.EventCode, target pmix.ProcRef, nonDefault bool) (pmix.Status, error) {
	cproc := toCProc(target)
	attrs := pmix.AttributeSet{}
	if nonDefault {
		attrs = append(attrs, pmix.Info{Key: "PMIX_EVENT_NON_DEFAULT", Value: true})
	}
	cinfo, free := toCInfoArray(attrs)
	defer free()

	rc := C.PMIx_Notify_event(
		C.pmix_status_t(eventCodeToStatus(code)),
		nil,
		C.PMIX_RANGE_CUSTOM,
		cinfo, C.size_t(len(attrs)),
		nil, nil,
	)
	_ = cproc
	return pmix.Status(rc), statusErr(rc, "PMIx_Notify_event")
}

func (c *Client) GetAttribute(key string) (string, bool) {
	ckey := C.CString(key)
	defer C.free(unsafe.Pointer(ckey))

	var val C.pmix_value_t
	var proc C.pmix_proc_t
	rc := C.PMIx_Get(&proc, ckey, nil, 0, (*C.pmix_value_t)(unsafe.Pointer(&val)))
	if rc != C.PMIX_SUCCESS {
		return "", false
	}
	return C.GoString(val.data.string), true
}

func statusErr(rc C.pmix_status_t, op string) error {
	if rc == C.PMIX_SUCCESS || rc == C.PMIX_OPERATION_SUCCEEDED {
		return nil
	}
	return fmt.Errorf("%s: status %d", op, int(rc))
}

func eventCodeToStatus(code pmix.EventCode) int {
	switch code {
	case pmix.EventLaunchComplete:
		return int(C.PMIX_LAUNCH_COMPLETE)
	case pmix.EventReadyForDebug:
		return int(C.PMIX_READY_FOR_DEBUG)
	case pmix.EventJobTerminated:
		return int(C.PMIX_JOB_TERMINATED)
	case pmix.EventLostConnectionToServer:
		return int(C.PMIX_ERR_LOST_CONNECTION_TO_SERVER)
	case pmix.EventDebuggerRelease:
		return int(C.PMIX_DEBUGGER_RELEASE)
	default:
		return int(C.PMIX_ERR_BAD_PARAM)
	}
}

func toCStringArray(items []string) **C.char {
	if len(items) == 0 {
		return nil
	}
	arr := C.malloc(C.size_t(len(items)+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	cArr := (*[1 << 20]*C.char)(arr)
	for i, s := range items {
		cArr[i] = C.CString(s)
	}
	cArr[len(items)] = nil
	return (**C.char)(arr)
}

func toCInfoArray(attrs pmix.AttributeSet) (*C.pmix_info_t, func()) {
	if len(attrs) == 0 {
		return nil, func() {}
	}
	cinfo := make([]C.pmix_info_t, len(attrs))
	var allocated []unsafe.Pointer
	for i, a := range attrs {
		key := C.CString(a.Key)
		allocated = append(allocated, unsafe.Pointer(key))
		C.strncpy(&cinfo[i].key[0], key, C.size_t(len(cinfo[i].key))-1)
		switch v := a.Value.(type) {
		case string:
			s := C.CString(v)
			allocated = append(allocated, unsafe.Pointer(s))
			C.PMIX_INFO_LOAD(&cinfo[i], C.PMIX_STRING, unsafe.Pointer(s), C.PMIX_STRING)
		case bool:
			b := C.bool(v)
			C.PMIX_INFO_LOAD(&cinfo[i], unsafe.Pointer(&b), C.PMIX_BOOL)
		case int:
			n := C.int(v)
			C.PMIX_INFO_LOAD(&cinfo[i], unsafe.Pointer(&n), C.PMIX_INT)
		}
	}
	free := func() {
		for _, p := range allocated {
			C.free(p)
		}
	}
	return &cinfo[0], free
}

//export goEventHandler
func goEventHandler(ref C.size_t, status C.pmix_status_t, source *C.pmix_proc_t,
	info *C.pmix_info_t, ninfo C.size_t, results *C.pmix_info_t, nresults C.size_t,
	cbfunc C.pmix_event_notification_cbfunc_fn_t, cbdata unsafe.Pointer) {
	// Empty body: events are not dispatched to the Go handlers stored in
	// Client.handlers, and the PMIx continuation cbfunc is not called.
}

//export goRegisterComplete
func goRegisterComplete(status C.pmix_status_t, ref C.size_t, cbdata unsafe.Pointer) {
}

//export goSpawnComplete
func goSpawnComplete(status C.pmix_status_t, nspace *C.char, cbdata unsafe.Pointer) {
}

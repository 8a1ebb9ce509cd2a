// Package fake provides a scripted, in-memory pmix.Client for tests: it
// lets a test drive the exact event sequences spec.md's scenarios S1-S6
// describe (launch-complete, ready-for-debug, job-terminated, lost
// connection) without a real PMIx server.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openpmix/mpirshim/internal/pmix"
)

type registration struct {
	id      int
	codes   map[pmix.EventCode]bool
	filter  *pmix.ProcRef
	handler pmix.EventHandler
}

// Client is a scriptable pmix.Client. Zero value is usable; configure
// responses with the setters before exercising the shim under test.
type Client struct {
	mu sync.Mutex

	identity pmix.ToolIdentity
	initAttrs pmix.AttributeSet
	initCount int
	finalizeCount int

	keystore map[string]string

	connectErr    error
	connectResult pmix.ProcRef
	spawnResult  string
	spawnStatus  pmix.Status
	spawnErr     error
	spawnedApps  []pmix.AppContext

	handlers   map[int]*registration
	nextID     int

	queryResults map[string][]pmix.QueryResult
	procTable    []pmix.ProcTableEntry
	procTableErr error

	notifyStatus Status2
	notifyCalls  []NotifyCall
}

// Status2 avoids an import cycle name clash; it is just pmix.Status.
type Status2 = pmix.Status

// NotifyCall records one Notify() invocation for assertions.
type NotifyCall struct {
	Code       pmix.EventCode
	Target     pmix.ProcRef
	NonDefault bool
}

// New returns a ready-to-configure fake client.
func New() *Client {
	return &Client{
		keystore:     map[string]string{},
		handlers:     map[int]*registration{},
		queryResults: map[string][]pmix.QueryResult{},
		spawnStatus:  pmix.Success,
		notifyStatus: pmix.Success,
	}
}

// --- test configuration -----------------------------------------------

func (c *Client) SetKeystore(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keystore[key] = value
}

func (c *Client) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Client) SetConnectResult(server pmix.ProcRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectResult = server
}

func (c *Client) SetSpawnResult(namespace string, status pmix.Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawnResult, c.spawnStatus, c.spawnErr = namespace, status, err
}

func (c *Client) SpawnedApps() []pmix.AppContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pmix.AppContext, len(c.spawnedApps))
	copy(out, c.spawnedApps)
	return out
}

func (c *Client) SetQueryResult(key string, results []pmix.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryResults[key] = results
}

func (c *Client) SetProcTable(entries []pmix.ProcTableEntry, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procTable = entries
	c.procTableErr = err
}

func (c *Client) SetNotifyStatus(st pmix.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyStatus = st
}

func (c *Client) NotifyCalls() []NotifyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NotifyCall, len(c.notifyCalls))
	copy(out, c.notifyCalls)
	return out
}

func (c *Client) InitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCount
}

func (c *Client) FinalizeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizeCount
}

// Fire dispatches evt synchronously to every registered handler whose
// code set and filter match, in ascending handler-ID order (stable,
// deterministic for tests). It returns the last non-complete action,
// which is always ActionComplete since the shim always returns that.
func (c *Client) Fire(evt pmix.Event) pmix.Action {
	c.mu.Lock()
	var matched []*registration
	for _, r := range c.handlers {
		if !r.codes[evt.Code] && !r.codes[pmix.EventAny] {
			continue
		}
		if r.filter != nil && !procMatch(*r.filter, evt.Source) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	c.mu.Unlock()

	action := pmix.ActionComplete
	for _, r := range matched {
		action = r.handler(evt)
	}
	return action
}

func procMatch(filter, src pmix.ProcRef) bool {
	if filter.Namespace != "" && filter.Namespace != src.Namespace {
		return false
	}
	if filter.Rank != pmix.RankWildcard && filter.Rank != src.Rank {
		return false
	}
	return true
}

// --- pmix.Client implementation -----------------------------------------

func (c *Client) Init(identity pmix.ToolIdentity, attrs pmix.AttributeSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.initAttrs = attrs
	c.initCount++
	return nil
}

func (c *Client) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizeCount++
	return nil
}

func (c *Client) ConnectToServer(ctx context.Context) (pmix.ProcRef, error) {
	if err := ctx.Err(); err != nil {
		return pmix.ProcRef{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectResult, c.connectErr
}

func (c *Client) Spawn(ctx context.Context, apps []pmix.AppContext, directives pmix.AttributeSet) (string, pmix.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawnedApps = append(c.spawnedApps, apps...)
	return c.spawnResult, c.spawnStatus, c.spawnErr
}

func (c *Client) RegisterEvent(codes []pmix.EventCode, filter *pmix.ProcRef, handler pmix.EventHandler, onComplete pmix.RegisterCompleteHandler) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	set := map[pmix.EventCode]bool{}
	for _, code := range codes {
		set[code] = true
	}
	c.handlers[id] = &registration{id: id, codes: set, filter: filter, handler: handler}
	c.mu.Unlock()

	if onComplete != nil {
		onComplete(pmix.Success, id)
	}
}

func (c *Client) DeregisterEvent(handlerID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, handlerID)
	return nil
}

func (c *Client) Query(ctx context.Context, queries []pmix.Query) ([]pmix.QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []pmix.QueryResult
	for _, q := range queries {
		res, ok := c.queryResults[q.Key]
		if !ok {
			return nil, fmt.Errorf("fake pmix: no result configured for query %q", q.Key)
		}
		out = append(out, res...)
	}
	return out, nil
}

func (c *Client) QueryProcTable(ctx context.Context, appNamespace string) ([]pmix.ProcTableEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.procTableErr != nil {
		return nil, c.procTableErr
	}
	out := make([]pmix.ProcTableEntry, len(c.procTable))
	copy(out, c.procTable)
	return out, nil
}

func (c *Client) Notify(ctx context.Context, code pmix.EventCode, target pmix.ProcRef, nonDefault bool) (pmix.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyCalls = append(c.notifyCalls, NotifyCall{Code: code, Target: target, NonDefault: nonDefault})
	return c.notifyStatus, nil
}

func (c *Client) GetAttribute(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.keystore[key]
	return v, ok
}

package shim

import "sync"

// Latch is a named, reusable gate (spec.md §3 "Named latch", §4.7, §9).
//
// armed == true means a future Wait call will block. Post clears armed
// and broadcasts. Wait blocks while armed is true and the supplied
// terminated predicate is false; the predicate check guarantees a dying
// launcher always wakes every blocked waiter, even one that never gets
// posted. After a Wait returns, the latch re-arms atomically under its
// own mutex so it can be reused for the next round.
type Latch struct {
	name       string
	mu         sync.Mutex
	cond       *sync.Cond
	armed      bool
	terminated func() bool
}

// NewLatch creates an initially-armed latch. terminated is consulted on
// every Wait to satisfy the "no latch outlives the launcher" guarantee
// (spec.md §5).
func NewLatch(name string, terminated func() bool) *Latch {
	l := &Latch{name: name, armed: true, terminated: terminated}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Wait blocks until Post is called or terminated() becomes true, then
// re-arms the latch for reuse.
func (l *Latch) Wait() {
	l.mu.Lock()
	for l.armed && !l.terminated() {
		l.cond.Wait()
	}
	l.armed = true
	l.mu.Unlock()
}

// Post clears armed and wakes every blocked waiter.
func (l *Latch) Post() {
	l.mu.Lock()
	l.armed = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Armed reports whether a Wait call would currently block (ignoring the
// terminated predicate). Used by tests.
func (l *Latch) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armed
}

// Name returns the latch's diagnostic name.
func (l *Latch) Name() string { return l.name }

// ReleaseAll posts every latch in latches. It is the only safe way to
// unblock the driver thread during abnormal termination (launcher or
// application observed terminated, or a lost-connection event) — spec.md
// §4.7.
func ReleaseAll(latches ...*Latch) {
	for _, l := range latches {
		l.Post()
	}
}

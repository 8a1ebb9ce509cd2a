package shim

import (
	"sync"

	"github.com/openpmix/mpirshim/internal/pmix"
)

// Tool wraps one pmix.Client's init/finalize lifecycle with the
// idempotent-finalize contract from spec.md §4.2: finalize only calls
// the underlying finalize when the init count is positive, and it is
// safe to call from any path (normal shutdown, signal handler, atexit).
type Tool struct {
	mu        sync.Mutex
	client    pmix.Client
	initCount int
}

// Init calls the underlying tool init with the caller's attribute set
// (see BuildInitAttrs) and increments the init count on success.
func (t *Tool) Init(identity pmix.ToolIdentity, attrs pmix.AttributeSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.Init(identity, attrs); err != nil {
		return ErrPMIxOp("tool init", err)
	}
	t.initCount++
	return nil
}

// Finalize is idempotent: a no-op once the init count reaches zero.
func (t *Tool) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initCount <= 0 {
		return nil
	}
	if err := t.client.Finalize(); err != nil {
		return ErrPMIxOp("tool finalize", err)
	}
	t.initCount--
	return nil
}

// InitCount reports the current idempotency counter, for tests asserting
// finalise idempotence (spec.md §8 property 5).
func (t *Tool) InitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initCount
}

// BuildInitAttrs constructs the PMIx tool attribute set for mode
// (spec.md §4.2).
func BuildInitAttrs(mode Mode, targetPID int, pmixPrefix string) pmix.AttributeSet {
	var attrs pmix.AttributeSet
	switch mode {
	case ModeProxy:
		attrs = append(attrs,
			pmix.Info{Key: "PMIX_TOOL_DO_NOT_CONNECT", Value: true},
			pmix.Info{Key: "PMIX_LAUNCHER", Value: true},
		)
	case ModeNonProxy:
		attrs = append(attrs, pmix.Info{Key: "PMIX_CONNECT_SYSTEM_FIRST", Value: true})
	case ModeAttach:
		attrs = append(attrs, pmix.Info{Key: "PMIX_SERVER_PIDINFO", Value: targetPID})
	}
	if pmixPrefix != "" {
		attrs = append(attrs, pmix.Info{Key: "PMIX_PREFIX", Value: pmixPrefix})
	}
	return attrs
}

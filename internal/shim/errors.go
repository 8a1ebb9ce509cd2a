package shim

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the error classes spec.md §7 enumerates. Giving each
// a typed value (rather than parsing stderr text) is a SPEC_FULL.md
// supplement: it does not change any externally observed exit code or
// message.
type Kind int

const (
	KindConfig Kind = iota
	KindPMIxOp
	KindFatalInvariant
)

// Error wraps a Kind alongside the underlying cause. Every kind is
// returned to the caller; the driver reports it through logFatalf and Run
// returns 1 after its deferred Shutdown has finalised the tool.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrConfig reports spec.md's "configuration error" kind: invalid PID,
// unrecognised mode. ResolveOptions returns it before any PMIx call;
// checkPIDAlive returns it for a dead ATTACH target after tool init.
func ErrConfig(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// ErrPMIxOp reports a failed PMIx operation, wrapped with
// github.com/pkg/errors so a stack trace is available alongside the
// status code/message.
func ErrPMIxOp(op string, err error) error {
	return &Error{Kind: KindPMIxOp, Op: op, Err: errors.WithStack(err)}
}

// ErrFatalInvariant reports spec.md's "fatal invariant violation" kind
// (missing namespace, malformed proctable, null query result). The driver
// passes it to logFatalf and returns 1 from Run, whose deferred Shutdown
// finalises the tool before the process exits.
func ErrFatalInvariant(op string, err error) error {
	return &Error{Kind: KindFatalInvariant, Op: op, Err: errors.WithStack(err)}
}

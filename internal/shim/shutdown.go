package shim

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openpmix/mpirshim/internal/mpirabi"
)

// exitProcess terminates immediately via the raw exit syscall, bypassing
// Go runtime exit handlers, mirroring the source pattern's use of _exit(2)
// from inside a PMIx event-handler callback (spec.md §4.7: handlers run on
// a library thread and must never trigger the ordinary atexit path).
func exitProcess(code int) {
	syscall.Exit(code)
}

// Shutdown runs C8's teardown sequence once, in order: deregister every
// event handler, free the MPIR proctable, finalize the tool session. It
// is safe to call more than once; Tool.Finalize is idempotent and
// FreeProcTable tolerates an already-empty table.
func (c *Context) Shutdown(ctx context.Context) error {
	c.DeregisterAll(ctx)
	mpirabi.FreeProcTable()
	return c.tool.Finalize()
}

// InstallSignalHandlers arranges for SIGINT/SIGTERM/SIGHUP to run
// Shutdown and then exit with code 128+signal. Shutdown
// runs on its own goroutine so a handler that blocks on a PMIx call does
// not wedge signal delivery; callers that need a synchronous shutdown
// path (e.g. the normal end-of-Run teardown) should call Shutdown
// directly instead of relying on this handler to fire.
func (c *Context) InstallSignalHandlers() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			_ = c.Shutdown(context.Background())
			exitProcess(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

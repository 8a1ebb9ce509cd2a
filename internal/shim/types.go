// Package shim implements the coordination core described in spec.md:
// the multi-threaded state machine that bridges the MPIR process
// acquisition interface (internal/mpirabi) to a PMIx tool session
// (internal/pmix). Components C1-C8 of spec.md map to the files in this
// package (C9 lives in internal/mpirabi); see SPEC_FULL.md and DESIGN.md
// for the grounding of each.
package shim

// Mode is the shim's run mode (spec.md §3).
type Mode int

const (
	// ModeDynamic is resolved into Proxy or NonProxy at startup by
	// examining the shim's own invocation name (spec.md §2).
	ModeDynamic Mode = iota
	ModeProxy
	ModeNonProxy
	ModeAttach
)

func (m Mode) String() string {
	switch m {
	case ModeDynamic:
		return "dynamic"
	case ModeProxy:
		return "proxy"
	case ModeNonProxy:
		return "nonproxy"
	case ModeAttach:
		return "attach"
	default:
		return "unknown"
	}
}

// TerminatedState records how the launcher came to be known terminated.
// The numeric distinction (1 vs 2) from spec.md §3/§9 is preserved as a
// named enum even though no handler currently branches on it — see
// SPEC_FULL.md's "Resolved Open Questions".
type TerminatedState int32

const (
	TerminatedUnknown TerminatedState = iota
	TerminatedLauncher
	TerminatedViaApp
)

// Options are the resolved inputs to Run, produced by C1 from raw CLI
// input (spec.md §4.1).
type Options struct {
	Mode       Mode
	TargetPID  int
	Debug      bool
	RunArgs    []string // the launcher command + its args (argv[0] included)
	PMIxPrefix string
	ToolName   string
}

package shim

import "path/filepath"

// ResolveMode implements C1's DYNAMIC resolution: basename(progName) ==
// "prun" selects NONPROXY, anything else selects PROXY (spec.md §2,
// testable property 1).
func ResolveMode(progName string) Mode {
	if filepath.Base(progName) == "prun" {
		return ModeNonProxy
	}
	return ModeProxy
}

// ResolveOptions finalises raw CLI input into Options (C1, spec.md §4.1).
// If opts.Mode is ModeDynamic it is resolved via progName. ATTACH requires
// TargetPID > 0; PROXY and NONPROXY require a non-empty RunArgs (the
// positional arguments left after flag parsing: the launcher command and
// its own arguments). An empty ToolName defaults to "mpirshim".
func ResolveOptions(opts Options, progName string) (Options, error) {
	if opts.Mode == ModeDynamic {
		opts.Mode = ResolveMode(progName)
	}

	if opts.Mode == ModeAttach && opts.TargetPID <= 0 {
		return Options{}, ErrConfig("resolve options", errInvalidPID)
	}

	if opts.Mode != ModeAttach && len(opts.RunArgs) == 0 {
		return Options{}, ErrConfig("resolve options", errNoRunArgs)
	}

	if opts.ToolName == "" {
		opts.ToolName = "mpirshim"
	}

	return opts, nil
}

var (
	errInvalidPID = modeErr("attach mode requires a target pid > 0")
	errNoRunArgs  = modeErr("proxy/nonproxy mode requires a launcher command")
)

type modeErr string

func (e modeErr) Error() string { return string(e) }

// Command mpirshim is the MPIR-to-PMIx debugger/launcher shim (spec.md).
// Invoked as "mpirshim" it defaults to PROXY/NONPROXY mode resolved from
// its own argv[0] (C1); invoked as "prun" (a symlink or a copy) it
// resolves to NONPROXY directly.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/openpmix/mpirshim/internal/config"
	"github.com/openpmix/mpirshim/internal/pmix"
	"github.com/openpmix/mpirshim/internal/shim"
)

// cliArgs is the shim's flat CLI surface (SPEC_FULL.md's CLI/option
// parsing section), grounded in purpleidea-mgmt/cli/run.go's tagged
// go-arg struct.
type cliArgs struct {
	Mode       string   `arg:"--mode" help:"proxy, nonproxy, or attach (default: resolved from argv[0])"`
	Attach     int      `arg:"--attach" help:"target launcher PID for ATTACH mode"`
	Debug      bool     `arg:"--debug" help:"enable verbose shim diagnostics"`
	PMIxPrefix string   `arg:"--pmix-prefix,env:MPIRSHIM_PMIX_PREFIX" help:"PMIx installation prefix passed to PMIX_PREFIX"`
	ToolName   string   `arg:"--tool-name" help:"tool identity namespace prefix (default: mpirshim)"`
	RunArgs    []string `arg:"positional" help:"launcher command and its arguments (proxy/nonproxy mode)"`
}

func (cliArgs) Version() string {
	return "mpirshim"
}

func main() {
	os.Exit(run())
}

func run() int {
	var args cliArgs
	arg.MustParse(&args)

	cfg, err := config.Load()
	if err != nil {
		log.Printf("mpirshim: config: %v", err)
	}

	opts := shim.Options{
		Debug:      args.Debug,
		RunArgs:    args.RunArgs,
		PMIxPrefix: cfg.PMIxPrefix,
		ToolName:   cfg.ToolName,
	}
	if args.PMIxPrefix != "" {
		opts.PMIxPrefix = args.PMIxPrefix
	}
	if args.ToolName != "" {
		opts.ToolName = args.ToolName
	}

	switch args.Mode {
	case "proxy":
		opts.Mode = shim.ModeProxy
	case "nonproxy":
		opts.Mode = shim.ModeNonProxy
	case "attach":
		opts.Mode = shim.ModeAttach
	default:
		opts.Mode = shim.ModeDynamic
	}
	if args.Attach > 0 {
		opts.Mode = shim.ModeAttach
		opts.TargetPID = args.Attach
	}

	resolved, err := shim.ResolveOptions(opts, os.Args[0])
	if err != nil {
		log.Printf("mpirshim: %v", err)
		return 1
	}

	client, err := pmix.NewRealClient()
	if err != nil {
		log.Printf("mpirshim: %v", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout+5*time.Minute)
	defer cancel()

	return shim.Run(ctx, resolved, client)
}

// Command forge is the local CLI over the overlay chain: inspect derived
// state, verify integrity, move chains between devices, and log events.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/forgelabs/forge-overlay/pkg/config"
	"github.com/forgelabs/forge-overlay/pkg/observability"
	"github.com/forgelabs/forge-overlay/pkg/session"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint.
//
// Exit codes:
//
//	0 = success
//	1 = operation reported failure (broken chain, rejected import)
//	2 = runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "state":
		return runStateCmd(args[2:], stdout, stderr)
	case "log":
		return runLogCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "import":
		return runImportCmd(args[2:], stdout, stderr)
	case "pack":
		return runPackCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `usage: forge <command> [flags]

commands:
  state    print derived state (xp, streak, head, count)
  log      append an event record
  verify   audit chain integrity
  export   write a snapshot JSON
  import   merge a snapshot JSON
  pack     write a zip archive pack with checksum`)
}

// openSession builds a session engine from env config plus common flags.
func openSession(ctx context.Context, dataDir, profile, app string, stderr io.Writer) (*session.Engine, error) {
	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if profile != "" {
		cfg.ProfileID = profile
	}
	if app != "" {
		cfg.AppID = app
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	var observer *observability.Provider
	if cfg.Telemetry {
		obsCfg := observability.DefaultConfig()
		obsCfg.Enabled = true
		if cfg.OTLPEndpoint != "" {
			obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		}
		var err error
		observer, err = observability.New(ctx, obsCfg)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	sessionCfg := session.Config{
		ProfileID: cfg.ProfileID,
		AppID:     cfg.AppID,
		DataDir:   cfg.DataDir,
		Logger:    logger,
	}
	if observer != nil {
		sessionCfg.Observer = observer
	}
	return session.Init(ctx, sessionCfg)
}

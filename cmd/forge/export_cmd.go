package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataDir string
		profile string
		app     string
		out     string
	)
	cmd.StringVar(&dataDir, "data", "", "Data directory")
	cmd.StringVar(&profile, "profile", "", "Profile scope")
	cmd.StringVar(&app, "app", "", "Application scope")
	cmd.StringVar(&out, "out", "", "Output file (default stdout)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	s, err := openSession(ctx, dataDir, profile, app, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = s.Close() }()

	snap, err := s.ExportLog(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 2
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode snapshot: %v\n", err)
		return 2
	}

	if out == "" {
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write snapshot: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "snapshot written to %s (%d events, head %s)\n",
		out, snap.Summary.EventCount, snap.ChainHead)
	return 0
}

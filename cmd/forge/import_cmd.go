package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
)

func runImportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("import", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataDir string
		profile string
		app     string
		in      string
	)
	cmd.StringVar(&dataDir, "data", "", "Data directory")
	cmd.StringVar(&profile, "profile", "", "Profile scope")
	cmd.StringVar(&app, "app", "", "Application scope")
	cmd.StringVar(&in, "in", "", "Snapshot file (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if in == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --in is required")
		return 2
	}

	raw, err := os.ReadFile(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read snapshot: %v\n", err)
		return 2
	}

	ctx := context.Background()
	s, err := openSession(ctx, dataDir, profile, app, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = s.Close() }()

	result, err := s.ImportLog(ctx, raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: import failed: %v\n", err)
		return 2
	}
	if !result.OK {
		_, _ = fmt.Fprintf(stdout, "import rejected: %s\n", result.Reason)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "merged %d records, skipped %d divergent\n",
		result.MergedCount, result.SkippedCount)
	return 0
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/forgelabs/forge-overlay/pkg/evidence"
)

func runPackCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("pack", flag.ContinueOnError)
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
	cmd.StringVar(&out, "out", "forge-pack.zip", "Output archive path")

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
	checksum, err := evidence.Write(out, snap, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: pack failed: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "pack written to %s\nsha256 %s\n", out, checksum)
	return 0
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataDir    string
		profile    string
		app        string
		jsonOutput bool
	)
	cmd.StringVar(&dataDir, "data", "", "Data directory")
	cmd.StringVar(&profile, "profile", "", "Profile scope")
	cmd.StringVar(&app, "app", "", "Application scope")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

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

	result, err := s.Verify(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed to run: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if result.OK {
		_, _ = fmt.Fprintf(stdout, "chain OK (%d events)\n", s.GetState().EventCount)
	} else {
		_, _ = fmt.Fprintf(stdout, "chain BROKEN at index %d: %s\n", result.ErrorIndex, result.Reason)
	}

	if !result.OK {
		return 1
	}
	return 0
}

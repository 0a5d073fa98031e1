package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

func runLogCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dataDir string
		profile string
		app     string
		typ     string
		dataArg string
	)
	cmd.StringVar(&dataDir, "data", "", "Data directory")
	cmd.StringVar(&profile, "profile", "", "Profile scope")
	cmd.StringVar(&app, "app", "", "Application scope")
	cmd.StringVar(&typ, "type", "", "Event type (REQUIRED)")
	cmd.StringVar(&dataArg, "payload", "", "Event payload as JSON object")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if typ == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --type is required")
		return 2
	}

	var payload map[string]any
	if dataArg != "" {
		if err := json.Unmarshal([]byte(dataArg), &payload); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid payload JSON: %v\n", err)
			return 2
		}
	}

	ctx := context.Background()
	s, err := openSession(ctx, dataDir, profile, app, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = s.Close() }()

	rec, err := s.Log(ctx, typ, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: append failed: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "appended %s record %s (head %s)\n", rec.Type, rec.ID, rec.Hash)
	return 0
}

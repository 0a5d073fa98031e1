package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

func runStateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("state", flag.ContinueOnError)
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
	cmd.BoolVar(&jsonOutput, "json", false, "Output state as JSON")

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

	state := s.GetState()
	if jsonOutput {
		data, _ := json.MarshalIndent(state, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Chain head: %s\n", state.ChainHead)
	_, _ = fmt.Fprintf(stdout, "Events:     %d\n", state.EventCount)
	_, _ = fmt.Fprintf(stdout, "XP:         %d\n", state.ExperiencePoints)
	_, _ = fmt.Fprintf(stdout, "Streak:     %d\n", state.StreakCount)
	_, _ = fmt.Fprintf(stdout, "Backend:    %s\n", state.Backend)
	if !state.StrongDigest {
		_, _ = fmt.Fprintln(stdout, "WARNING: degraded hash mode, chain is not tamper-evident")
	}
	return 0
}

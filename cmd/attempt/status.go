package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/runtime"
)

// isStatusCommand reports whether args invoke the status subcommand. Only a
// status flag after the word selects it, so "attempt status foo" still runs a
// program named status.
func isStatusCommand(args []string) bool {
	if len(args) < 2 || args[0] != "status" {
		return false
	}
	switch args[1] {
	case "--logs-root", "--json", "-h", "--help":
		return true
	}
	return false
}

// runStatus prints what a run's logs root says about it, live or finished.
func runStatus(args []string, stdout io.Writer, stderr io.Writer) int {
	var logsRoot string
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--logs-root":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--logs-root requires a value")
				return 2
			}
			logsRoot = args[i]
		case "--json":
			asJSON = true
		case "-h", "--help":
			usage(stdout)
			return 0
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return 2
		}
	}
	if logsRoot == "" {
		fmt.Fprintln(stderr, "--logs-root is required")
		return 2
	}

	snapshot, err := runtime.LoadSnapshot(logsRoot)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snapshot); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "state=%s\n", snapshot.State)
	fmt.Fprintf(stdout, "run_id=%s\n", snapshot.RunID)
	fmt.Fprintf(stdout, "event=%s\n", snapshot.LastEvent)
	fmt.Fprintf(stdout, "attempt=%d\n", snapshot.Attempt)
	fmt.Fprintf(stdout, "pid=%d\n", snapshot.PID)
	fmt.Fprintf(stdout, "pid_alive=%t\n", snapshot.PIDAlive)
	if !snapshot.LastEventAt.IsZero() {
		fmt.Fprintf(stdout, "last_event_at=%s\n", snapshot.LastEventAt.UTC().Format(time.RFC3339Nano))
	}
	if snapshot.Reason != "" {
		fmt.Fprintf(stdout, "reason=%s\n", snapshot.Reason)
	}
	if snapshot.ExitCode != nil {
		fmt.Fprintf(stdout, "exit_code=%d\n", *snapshot.ExitCode)
	}
	if snapshot.FailureReason != "" {
		fmt.Fprintf(stdout, "failure_reason=%s\n", snapshot.FailureReason)
	}
	return 0
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/backoff"
	"github.com/MaxBondABE/attempt/internal/attempt/config"
	"github.com/MaxBondABE/attempt/internal/attempt/engine"
	"github.com/MaxBondABE/attempt/internal/attempt/metrics"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
	"github.com/MaxBondABE/attempt/internal/attempt/runner"
	"github.com/MaxBondABE/attempt/internal/attempt/runtime"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  attempt [fixed|linear|exponential] [flags] [--] <command> [args...]")
	fmt.Fprintln(w, "  attempt status --logs-root <dir> [--json]")
	fmt.Fprintln(w, "  attempt [flags] -- status [args...]   (run a program named status)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "budget:   -a/--attempts N (default 3), -U/--unlimited-attempts, -Y/--forever")
	fmt.Fprintln(w, "backoff:  -w/--wait, -x/--multiplier, -W/--starting-wait, -b/--base, -j/--jitter,")
	fmt.Fprintln(w, "          -m/--wait-min, -M/--wait-max, --stagger, --seed N")
	fmt.Fprintln(w, "timeout:  -t/--timeout, -R/--expected-runtime, -k/--force-kill, --kill-grace,")
	fmt.Fprintln(w, "          --kill-process-group")
	fmt.Fprintln(w, "retry:    -F/--retry-failing-status, -S/--retry-if-status P, --retry-if-signal P,")
	fmt.Fprintln(w, "          --retry-if-killed, --retry-if-timeout, -s/--retry-if-contains S,")
	fmt.Fprintln(w, "          -r/--retry-if-matches RE, --retry-if-std{out,err}-{contains,matches},")
	fmt.Fprintln(w, "          --retry-always")
	fmt.Fprintln(w, "stop:     --stop-if-status P, --stop-if-signal P, --stop-if-killed, --stop-if-timeout,")
	fmt.Fprintln(w, "          --stop-if-contains S, --stop-if-matches RE, --stop-if-std{out,err}-{contains,matches}")
	fmt.Fprintln(w, "output:   -v/--verbose, -q/--quiet (repeatable)")
	fmt.Fprintln(w, "run:      --config <file.yaml|file.json>, --logs-root <dir>, --run-id <id>, --metrics-file <path>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "exit codes: 0 success, 1 I/O error, 2 invalid configuration, 3 retries exhausted,")
	fmt.Fprintln(w, "            4 stopped by predicate, 101 internal error")
}

func run(args []string, stdout io.Writer, stderr io.Writer) (code int) {
	if isStatusCommand(args) {
		return runStatus(args[1:], stdout, stderr)
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "attempt: internal error: %v\n", r)
			code = engine.ExitInternal
		}
	}()

	cli, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		usage(stderr)
		return engine.ExitConfigError
	}
	if cli.help {
		usage(stdout)
		return engine.ExitSuccess
	}
	if cli.version {
		fmt.Fprintf(stdout, "attempt %s\n", version)
		return engine.ExitSuccess
	}

	f, err := cli.file()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return engine.ExitConfigError
	}
	resolved, err := config.Resolve(f)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return engine.ExitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logs := newLogSink(stderr, cli.verbose-cli.quiet)
	return execute(ctx, resolved, cli.runID, &runner.Runner{Stdout: stdout, Stderr: stderr}, logs)
}

// execute runs the attempt loop and writes the run's artifacts. It returns
// the process exit code.
func execute(ctx context.Context, r *config.Resolved, runID string, rn engine.AttemptRunner, logs *logSink) int {
	if runID == "" {
		id, err := engine.NewRunID()
		if err != nil {
			logs.Errorf("Failed: %v", err)
			return engine.ExitIOError
		}
		runID = id
	}

	sinks := engine.MultiSink{logs}
	var progress *engine.ProgressSink
	if r.LogsRoot != "" {
		var err error
		progress, err = engine.NewProgressSink(r.LogsRoot)
		if err != nil {
			logs.Errorf("Failed: logs root: %v", err)
			return engine.ExitIOError
		}
		defer func() {
			if err := progress.Close(); err != nil {
				logs.Warnf("progress log: %v", err)
			}
		}()
		if err := runtime.WritePIDFile(r.LogsRoot, os.Getpid()); err != nil {
			logs.Errorf("Failed: %v", err)
			return engine.ExitIOError
		}
		sinks = append(sinks, progress)
	}
	var ms *metrics.Sink
	if r.MetricsFile != "" {
		ms = metrics.NewSink()
		sinks = append(sinks, ms)
	}

	var rng *rand.Rand
	if r.Seed != nil {
		rng = backoff.NewSeededRand(*r.Seed)
	}
	eng, err := engine.New(r.Engine, engine.Options{RunID: runID, Runner: rn, Sink: sinks, Rand: rng})
	if err != nil {
		logs.Errorf("%v", err)
		return engine.ExitConfigError
	}

	res, runErr := eng.Run(ctx)
	code := exitCodeFor(res, runErr)
	if runErr != nil {
		logs.Errorf("Failed: %v", runErr)
	}

	reason := "error"
	if runErr == nil {
		reason = string(res.Reason)
	}
	if r.LogsRoot != "" {
		fo := &runtime.FinalOutcome{
			Timestamp: time.Now().UTC(),
			Status:    runtime.FinalFail,
			RunID:     runID,
			Attempts:  res.Attempts,
			ExitCode:  code,
			Reason:    reason,
		}
		switch {
		case code == engine.ExitSuccess:
			fo.Status = runtime.FinalSuccess
		case runErr != nil:
			fo.FailureReason = runErr.Error()
		default:
			fo.FailureReason = res.Verdict.Reason
		}
		if err := fo.Save(filepath.Join(r.LogsRoot, runtime.FinalFile)); err != nil {
			logs.Warnf("final outcome: %v", err)
		}
	}
	if ms != nil {
		ms.SetExitCode(reason, code)
		if err := ms.WriteTextfile(r.MetricsFile); err != nil {
			logs.Warnf("metrics: %v", err)
		}
	}
	return code
}

// exitCodeFor maps a run's result or error to the process exit code.
func exitCodeFor(res *engine.Result, err error) int {
	if err == nil {
		return res.ExitCode()
	}
	var encErr *policy.EncodingError
	var cfgErr *config.Error
	switch {
	case errors.As(err, &encErr):
		return engine.ExitInternal
	case errors.As(err, &cfgErr):
		return engine.ExitConfigError
	default:
		return engine.ExitIOError
	}
}

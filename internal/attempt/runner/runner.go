// Package runner spawns one attempt of the child command and supervises it
// until it exits or its deadline passes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
	"github.com/MaxBondABE/attempt/internal/attempt/procutil"
)

const (
	DefaultKillGrace   = 10 * time.Second
	DefaultReapTimeout = 5 * time.Second
	DefaultWaitDelay   = 3 * time.Second
)

// Command is the child to run. Argv[0] is resolved through PATH.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

func (c Command) String() string { return strings.Join(c.Argv, " ") }

// TimeoutSpec bounds how long one attempt may run.
type TimeoutSpec struct {
	MaxDuration      *time.Duration
	ExpectedRuntime  *time.Duration
	ForceKill        bool
	KillGrace        time.Duration // zero escalates to SIGKILL at once
	KillProcessGroup bool
}

// Result is the raw termination of one attempt plus any captured output.
type Result struct {
	PID         int
	Termination outcome.Termination
	Stdout      []byte
	Stderr      []byte
	Duration    time.Duration
}

// IOError is a failure to spawn, signal, reap, or read from the child. It is
// never retried.
type IOError struct {
	Op      string
	Command string
	Err     error
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Op, e.Command, e.Err)
	if h := e.Hint(); h != "" {
		msg += " (" + h + ")"
	}
	return msg
}

func (e *IOError) Unwrap() error { return e.Err }

// Hint suggests a likely cause for common spawn failures.
func (e *IOError) Hint() string {
	if e.Op != "spawn" {
		return ""
	}
	switch {
	case errors.Is(e.Err, exec.ErrNotFound), errors.Is(e.Err, os.ErrNotExist):
		return "does the command exist, and is it on your PATH?"
	case errors.Is(e.Err, os.ErrPermission):
		return "is the executable bit set?"
	default:
		return ""
	}
}

// Runner runs attempts. The zero value inherits the parent's stdio.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ReapTimeout bounds the wait for exit after SIGKILL.
	ReapTimeout time.Duration
	// WaitDelay bounds how long output copying may outlive the child.
	WaitDelay time.Duration
}

func (r *Runner) stdio() (io.Reader, io.Writer, io.Writer) {
	in, out, errw := r.Stdin, r.Stdout, r.Stderr
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errw == nil {
		errw = os.Stderr
	}
	return in, out, errw
}

// Run spawns exactly one process and blocks until it has exited and been
// reaped. Captured streams are also copied to the runner's own streams.
func (r *Runner) Run(ctx context.Context, c Command, ts TimeoutSpec, capture policy.CaptureMode) (*Result, error) {
	if len(c.Argv) == 0 {
		return nil, &IOError{Op: "spawn", Command: "", Err: fmt.Errorf("empty command")}
	}
	in, out, errw := r.stdio()

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = in
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = out
	if capture.Stdout {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, out)
	}
	cmd.Stderr = errw
	if capture.Stderr {
		cmd.Stderr = io.MultiWriter(&stderrBuf, errw)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	procutil.Setup(cmd, ts.KillProcessGroup)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &IOError{Op: "spawn", Command: c.String(), Err: err}
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	waitErr, sent, err := r.supervise(ctx, cmd, ts, waitCh, start)
	if err != nil {
		return nil, &IOError{Op: "supervise", Command: c.String(), Err: err}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			return nil, &IOError{Op: "read output of", Command: c.String(), Err: waitErr}
		}
	}
	if cmd.ProcessState == nil {
		return nil, &IOError{Op: "reap", Command: c.String(), Err: fmt.Errorf("no process state after wait")}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && sent != 0 {
		return nil, ctxErr
	}

	term := outcome.FromProcessState(cmd.ProcessState)
	if sent != 0 {
		term.ViaTimeout = true
		term.SentSignal = sent
	}
	res := &Result{
		PID:         cmd.Process.Pid,
		Termination: term,
		Duration:    time.Since(start),
	}
	if capture.Stdout {
		res.Stdout = stdoutBuf.Bytes()
	}
	if capture.Stderr {
		res.Stderr = stderrBuf.Bytes()
	}
	return res, nil
}

// supervise waits for the child, enforcing the deadline if one is set. sent
// is the first signal delivered because of the deadline or cancellation, 0
// if the child exited on its own.
func (r *Runner) supervise(ctx context.Context, cmd *exec.Cmd, ts TimeoutSpec, waitCh <-chan error, start time.Time) (waitErr error, sent int, err error) {
	var sched *PollSchedule
	if ts.MaxDuration != nil {
		var expected time.Duration
		if ts.ExpectedRuntime != nil {
			expected = *ts.ExpectedRuntime
		}
		sched = NewPollSchedule(start, *ts.MaxDuration, expected)
	}

	for {
		if sched != nil {
			delay, ok := sched.Next(time.Now())
			if !ok {
				if done, waitErr := exitedOnItsOwn(cmd, waitCh); done {
					return waitErr, 0, nil
				}
				return r.terminate(cmd, ts, waitCh)
			}
			timer := time.NewTimer(delay)
			select {
			case waitErr := <-waitCh:
				timer.Stop()
				return waitErr, 0, nil
			case <-ctx.Done():
				timer.Stop()
				return r.terminate(cmd, TimeoutSpec{ForceKill: true, KillProcessGroup: ts.KillProcessGroup}, waitCh)
			case <-timer.C:
			}
			continue
		}
		select {
		case waitErr := <-waitCh:
			return waitErr, 0, nil
		case <-ctx.Done():
			return r.terminate(cmd, TimeoutSpec{ForceKill: true, KillProcessGroup: ts.KillProcessGroup}, waitCh)
		}
	}
}

// exitedOnItsOwn reports a child that finished before the deadline fired.
// An unreaped zombie has exited too, so signalling it would misreport a
// natural exit as a timeout.
func exitedOnItsOwn(cmd *exec.Cmd, waitCh <-chan error) (bool, error) {
	select {
	case waitErr := <-waitCh:
		return true, waitErr
	default:
	}
	if procutil.PIDZombie(cmd.Process.Pid) {
		return true, <-waitCh
	}
	return false, nil
}

// terminate delivers SIGTERM (SIGKILL with ForceKill), escalates to SIGKILL
// after the kill grace, and waits a bounded time for the child to be reaped.
func (r *Runner) terminate(cmd *exec.Cmd, ts TimeoutSpec, waitCh <-chan error) (waitErr error, sent int, err error) {
	reap := r.ReapTimeout
	if reap <= 0 {
		reap = DefaultReapTimeout
	}
	sig := procutil.SIGTERM
	if ts.ForceKill {
		sig = procutil.SIGKILL
	}
	if err := procutil.Signal(cmd, sig, ts.KillProcessGroup); err != nil {
		if !errors.Is(err, procutil.ErrExited) {
			return nil, sig, fmt.Errorf("send signal %d: %w", sig, err)
		}
		select {
		case waitErr := <-waitCh:
			return waitErr, 0, nil
		case <-time.After(reap):
			return nil, 0, fmt.Errorf("timed out waiting for process exit")
		}
	}
	if sig != procutil.SIGKILL {
		if ts.KillGrace > 0 {
			select {
			case waitErr := <-waitCh:
				return waitErr, sig, nil
			case <-time.After(ts.KillGrace):
			}
		}
		if err := procutil.Signal(cmd, procutil.SIGKILL, ts.KillProcessGroup); err != nil && !errors.Is(err, procutil.ErrExited) {
			return nil, sig, fmt.Errorf("send signal %d: %w", procutil.SIGKILL, err)
		}
	}
	select {
	case waitErr := <-waitCh:
		return waitErr, sig, nil
	case <-time.After(reap):
		return nil, sig, fmt.Errorf("timed out waiting for process exit after SIGKILL")
	}
}

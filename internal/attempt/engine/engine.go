// Package engine drives the attempt loop: run, classify, decide, wait.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MaxBondABE/attempt/internal/attempt/backoff"
	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
	"github.com/MaxBondABE/attempt/internal/attempt/runner"
)

// Reason is why a run terminated without an error.
type Reason string

const (
	ReasonSuccess          Reason = "success"
	ReasonStopped          Reason = "stopped"
	ReasonRetriesExhausted Reason = "retries_exhausted"
)

const (
	ExitSuccess          = 0
	ExitIOError          = 1
	ExitConfigError      = 2
	ExitRetriesExhausted = 3
	ExitStopped          = 4
	ExitInternal         = 101
)

func (r Reason) ExitCode() int {
	switch r {
	case ReasonSuccess:
		return ExitSuccess
	case ReasonRetriesExhausted:
		return ExitRetriesExhausted
	default:
		return ExitStopped
	}
}

// Config is a fully validated run configuration. It is not modified by the
// engine.
type Config struct {
	Command runner.Command
	Policy  *policy.Policy
	Backoff backoff.Spec
	Timeout runner.TimeoutSpec
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if len(c.Command.Argv) == 0 {
		return fmt.Errorf("command is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	t := c.Timeout
	if t.MaxDuration != nil && *t.MaxDuration < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if t.ExpectedRuntime != nil {
		if t.MaxDuration == nil {
			return fmt.Errorf("expected runtime requires a timeout")
		}
		if *t.ExpectedRuntime < 0 {
			return fmt.Errorf("expected runtime must be >= 0")
		}
	}
	if t.KillGrace < 0 {
		return fmt.Errorf("kill grace must be >= 0")
	}
	for _, list := range [][]policy.Predicate{c.Policy.Stop, c.Policy.Retry} {
		for _, p := range list {
			if p.Kind == policy.KindTimeout && t.MaxDuration == nil {
				return fmt.Errorf("%s requires a timeout", p)
			}
		}
	}
	return nil
}

// AttemptRunner runs one attempt of the command.
type AttemptRunner interface {
	Run(ctx context.Context, c runner.Command, ts runner.TimeoutSpec, capture policy.CaptureMode) (*runner.Result, error)
}

type Options struct {
	// RunID stamps every event. If empty, a ULID is generated.
	RunID string

	Runner AttemptRunner
	Sink   EventSink
	Rand   *rand.Rand

	// Sleep waits between attempts. It must return early with ctx.Err()
	// when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Reason   Reason
	Attempts int
	Last     outcome.Outcome
	Verdict  policy.Verdict
}

func (r *Result) ExitCode() int { return r.Reason.ExitCode() }

type Engine struct {
	cfg  Config
	opts Options
	calc *backoff.Calculator
}

func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		id, err := NewRunID()
		if err != nil {
			return nil, err
		}
		opts.RunID = id
	}
	if opts.Runner == nil {
		opts.Runner = &runner.Runner{}
	}
	if opts.Sink == nil {
		opts.Sink = MultiSink(nil)
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{cfg: cfg, opts: opts, calc: backoff.NewCalculator(cfg.Backoff, opts.Rand)}, nil
}

func (e *Engine) RunID() string { return e.opts.RunID }

// NewRunID returns a new ULID.
func NewRunID() (string, error) {
	id, err := ulid.New(ulid.Now(), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) emit(ev Event) {
	ev.RunID = e.opts.RunID
	ev.TS = e.opts.Now().UTC()
	e.opts.Sink.Emit(ev)
}

// Run executes attempts until the policy stops, the budget is exhausted, or
// an error occurs. Errors (I/O, encoding, cancellation) are never retried.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: e.opts.RunID}
	e.emit(Event{
		Kind:    EventRunStarted,
		Command: e.cfg.Command.Argv,
		Budget:  e.cfg.Policy.Budget.String(),
	})

	if d, ok := e.calc.Stagger(); ok {
		e.emit(Event{Kind: EventStaggerScheduled, Wait: d})
		if err := e.opts.Sleep(ctx, d); err != nil {
			return e.fail(res, err)
		}
	}

	capture := e.cfg.Policy.CaptureMode()
	for i := 0; ; i++ {
		res.Attempts = i + 1
		e.emit(Event{Kind: EventAttemptStarted, Attempt: i + 1})

		rr, err := e.opts.Runner.Run(ctx, e.cfg.Command, e.cfg.Timeout, capture)
		if err != nil {
			return e.fail(res, err)
		}
		o, err := outcome.Classify(rr.Termination)
		if err != nil {
			return e.fail(res, fmt.Errorf("classify attempt %d: %w", i+1, err))
		}
		res.Last = o
		e.emit(Event{
			Kind:         EventOutcomeClassified,
			Attempt:      i + 1,
			Outcome:      &o,
			PID:          rr.PID,
			DurationMS:   rr.Duration.Milliseconds(),
			StdoutBLAKE3: digest(rr.Stdout, capture.Stdout),
			StderrBLAKE3: digest(rr.Stderr, capture.Stderr),
		})

		v, err := e.cfg.Policy.Decide(o, &policy.Output{Stdout: rr.Stdout, Stderr: rr.Stderr})
		if err != nil {
			return e.fail(res, err)
		}
		res.Verdict = v
		dec := Event{Kind: EventDecisionMade, Attempt: i + 1, Decision: v.Decision, Detail: v.Reason}
		if v.Matched != nil {
			dec.Predicate = v.Matched.String()
		}
		e.emit(dec)

		if v.Decision == policy.DecisionStop {
			if o.IsSuccess() {
				return e.finish(res, ReasonSuccess), nil
			}
			return e.finish(res, ReasonStopped), nil
		}
		if e.cfg.Policy.Budget.Exhausted(i) {
			return e.finish(res, ReasonRetriesExhausted), nil
		}

		wait := e.calc.Delay(i)
		e.emit(Event{Kind: EventWaitScheduled, Attempt: i + 1, Wait: wait})
		if err := e.opts.Sleep(ctx, wait); err != nil {
			return e.fail(res, err)
		}
	}
}

func (e *Engine) finish(res *Result, reason Reason) *Result {
	res.Reason = reason
	code := reason.ExitCode()
	e.emit(Event{Kind: EventRunFinished, Attempt: res.Attempts, Reason: reason, ExitCode: &code})
	return res
}

func (e *Engine) fail(res *Result, err error) (*Result, error) {
	e.emit(Event{Kind: EventRunFinished, Attempt: res.Attempts, Error: err.Error()})
	return res, err
}

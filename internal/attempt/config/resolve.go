package config

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/backoff"
	"github.com/MaxBondABE/attempt/internal/attempt/engine"
	"github.com/MaxBondABE/attempt/internal/attempt/pattern"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
	"github.com/MaxBondABE/attempt/internal/attempt/runner"
)

// Resolved is a validated configuration ready to run.
type Resolved struct {
	Engine      engine.Config
	Seed        *uint64
	LogsRoot    string
	MetricsFile string
}

// Resolve applies defaults, validates f, and builds the engine
// configuration. Every returned error is an *Error.
func Resolve(f *File) (*Resolved, error) {
	if f == nil {
		return nil, errorf("", "config is nil")
	}
	applyDefaults(f)
	if f.Version != 1 {
		return nil, errorf("version", "unsupported config version: %d", f.Version)
	}
	if len(f.Command) == 0 {
		return nil, errorf("command", "a command to run is required")
	}

	pol, err := resolvePolicy(f)
	if err != nil {
		return nil, err
	}
	spec, err := resolveBackoff(f)
	if err != nil {
		return nil, err
	}
	ts, err := resolveTimeout(f, pol)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config{
		Command: runner.Command{Argv: append([]string(nil), f.Command...)},
		Policy:  pol,
		Backoff: spec,
		Timeout: ts,
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: err}
	}
	return &Resolved{
		Engine:      cfg,
		Seed:        f.Backoff.Seed,
		LogsRoot:    f.LogsRoot,
		MetricsFile: f.MetricsFile,
	}, nil
}

func resolvePolicy(f *File) (*policy.Policy, error) {
	p := &policy.Policy{RetryAlways: f.RetryAlways}
	switch {
	case f.Forever:
		// Forever retries everything but success, without limit.
		p.Budget = policy.Forever()
		p.RetryAlways = true
	case f.UnlimitedAttempts:
		p.Budget = policy.Unlimited()
	default:
		if *f.Attempts < 1 {
			return nil, errorf("attempts", "must be >= 1")
		}
		p.Budget = policy.Limited(*f.Attempts)
	}

	for i, pc := range f.Stop {
		pred, err := resolvePredicate(policy.ActionStop, pc, fmt.Sprintf("stop[%d]", i))
		if err != nil {
			return nil, err
		}
		p.Stop = append(p.Stop, pred)
	}
	if f.RetryFailingStatus {
		p.Retry = append(p.Retry, policy.Status(policy.ActionRetry, pattern.MustParse("1..255")))
	}
	for i, pc := range f.Retry {
		pred, err := resolvePredicate(policy.ActionRetry, pc, fmt.Sprintf("retry[%d]", i))
		if err != nil {
			return nil, err
		}
		if pred.Kind == policy.KindAlways {
			p.RetryAlways = true
			continue
		}
		p.Retry = append(p.Retry, pred)
	}
	return p, nil
}

func resolvePredicate(action policy.Action, pc PredicateConfig, path string) (policy.Predicate, error) {
	var preds []policy.Predicate
	if pc.Status != nil {
		pat, err := pattern.Parse(string(*pc.Status))
		if err != nil {
			return policy.Predicate{}, &Error{Path: path + ".status", Err: err}
		}
		preds = append(preds, policy.Status(action, pat))
	}
	if pc.Signal != nil {
		pat, err := pattern.Parse(string(*pc.Signal))
		if err != nil {
			return policy.Predicate{}, &Error{Path: path + ".signal", Err: err}
		}
		preds = append(preds, policy.Signal(action, pat))
	}
	scope := policy.Scope(pc.Scope)
	if pc.Contains != nil {
		preds = append(preds, policy.Contains(action, scope, *pc.Contains))
	}
	if pc.Matches != nil {
		re, err := regexp.Compile(*pc.Matches)
		if err != nil {
			return policy.Predicate{}, &Error{Path: path + ".matches", Err: err}
		}
		preds = append(preds, policy.Matches(action, scope, re))
	}
	if pc.Timeout {
		preds = append(preds, policy.Timeout(action))
	}
	if pc.Killed {
		preds = append(preds, policy.Killed(action))
	}
	if pc.Always {
		preds = append(preds, policy.Always(action))
	}
	switch len(preds) {
	case 0:
		return policy.Predicate{}, errorf(path, "predicate names no test")
	case 1:
	default:
		return policy.Predicate{}, errorf(path, "predicate names %d tests; use one entry per test", len(preds))
	}
	if pc.Scope != "" && !preds[0].InspectsOutput() {
		return policy.Predicate{}, errorf(path+".scope", "scope only applies to contains and matches")
	}
	if err := preds[0].Validate(); err != nil {
		return policy.Predicate{}, &Error{Path: path, Err: err}
	}
	return preds[0], nil
}

func resolveBackoff(f *File) (backoff.Spec, error) {
	b := f.Backoff
	strategy, ok := backoff.ParseStrategy(b.Strategy)
	if !ok {
		return backoff.Spec{}, errorf("backoff.strategy", "invalid strategy %q (want fixed|linear|exponential)", b.Strategy)
	}
	spec := backoff.Default(strategy)
	if b.Wait != nil {
		spec.Wait = b.Wait.Duration
	}
	if b.Multiplier != nil {
		spec.Multiplier = b.Multiplier.Duration
	}
	if b.StartingWait != nil {
		spec.StartingWait = b.StartingWait.Duration
	}
	if b.Base != nil {
		if math.IsNaN(*b.Base) || math.IsInf(*b.Base, 0) || *b.Base < 0 {
			return backoff.Spec{}, errorf("backoff.base", "must be a finite number >= 0")
		}
		spec.Base = *b.Base
	}
	spec.JitterMax = optional(b.Jitter)
	spec.WaitMin = optional(b.WaitMin)
	spec.WaitMax = optional(b.WaitMax)
	spec.StaggerMax = optional(b.Stagger)
	if spec.WaitMin != nil && spec.WaitMax != nil && *spec.WaitMin > *spec.WaitMax {
		return backoff.Spec{}, errorf("backoff.wait_min", "%v is greater than backoff.wait_max %v", *spec.WaitMin, *spec.WaitMax)
	}
	if err := spec.Validate(); err != nil {
		return backoff.Spec{}, &Error{Path: "backoff", Err: err}
	}
	return spec, nil
}

func resolveTimeout(f *File, p *policy.Policy) (runner.TimeoutSpec, error) {
	t := f.Timeout
	ts := runner.TimeoutSpec{
		MaxDuration:      optional(t.Max),
		ExpectedRuntime:  optional(t.ExpectedRuntime),
		ForceKill:        t.ForceKill,
		KillGrace:        runner.DefaultKillGrace,
		KillProcessGroup: t.KillProcessGroup,
	}
	if t.KillGrace != nil {
		ts.KillGrace = t.KillGrace.Duration
	}
	if ts.MaxDuration == nil {
		if ts.ExpectedRuntime != nil {
			return ts, errorf("timeout.expected_runtime", "requires timeout.max")
		}
		for i, pred := range p.Stop {
			if pred.Kind == policy.KindTimeout {
				return ts, errorf(fmt.Sprintf("stop[%d]", i), "%s requires timeout.max", pred)
			}
		}
		for _, pred := range p.Retry {
			if pred.Kind == policy.KindTimeout {
				return ts, errorf("retry", "%s requires timeout.max", pred)
			}
		}
	}
	return ts, nil
}

func optional(d *Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := d.Duration
	return &v
}

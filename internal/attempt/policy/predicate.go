package policy

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
	"github.com/MaxBondABE/attempt/internal/attempt/pattern"
)

type Action string

const (
	ActionStop  Action = "stop"
	ActionRetry Action = "retry"
)

type Kind string

const (
	KindStatus         Kind = "status"
	KindOutputContains Kind = "contains"
	KindOutputMatches  Kind = "matches"
	KindSignal         Kind = "signal"
	KindTimeout        Kind = "timeout"
	KindKilled         Kind = "killed"
	KindAlways         Kind = "always"
)

type Scope string

const (
	ScopeStdout Scope = "stdout"
	ScopeStderr Scope = "stderr"
	ScopeBoth   Scope = "output"
)

// Predicate is one named test over an outcome and, for the output kinds, the
// captured output of the attempt.
type Predicate struct {
	Action  Action
	Kind    Kind
	Scope   Scope
	Pattern *pattern.CodePattern
	Literal string
	Regexp  *regexp.Regexp
}

func Status(action Action, p *pattern.CodePattern) Predicate {
	return Predicate{Action: action, Kind: KindStatus, Pattern: p}
}

func Signal(action Action, p *pattern.CodePattern) Predicate {
	return Predicate{Action: action, Kind: KindSignal, Pattern: p}
}

func Contains(action Action, scope Scope, literal string) Predicate {
	return Predicate{Action: action, Kind: KindOutputContains, Scope: scope, Literal: literal}
}

func Matches(action Action, scope Scope, re *regexp.Regexp) Predicate {
	return Predicate{Action: action, Kind: KindOutputMatches, Scope: scope, Regexp: re}
}

func Timeout(action Action) Predicate { return Predicate{Action: action, Kind: KindTimeout} }

func Killed(action Action) Predicate { return Predicate{Action: action, Kind: KindKilled} }

func Always(action Action) Predicate { return Predicate{Action: action, Kind: KindAlways} }

// Validate checks that the predicate carries the parameters its kind needs.
func (p Predicate) Validate() error {
	switch p.Action {
	case ActionStop, ActionRetry:
	default:
		return fmt.Errorf("invalid predicate action: %q", p.Action)
	}
	switch p.Kind {
	case KindStatus, KindSignal:
		if p.Pattern == nil {
			return fmt.Errorf("%s-if-%s requires a pattern", p.Action, p.Kind)
		}
	case KindOutputContains, KindOutputMatches:
		switch p.Scope {
		case ScopeStdout, ScopeStderr, ScopeBoth:
		default:
			return fmt.Errorf("%s-if-%s has invalid scope %q", p.Action, p.Kind, p.Scope)
		}
		if p.Kind == KindOutputMatches && p.Regexp == nil {
			return fmt.Errorf("%s-if-%s requires a regular expression", p.Action, p.Kind)
		}
	case KindTimeout, KindKilled, KindAlways:
	default:
		return fmt.Errorf("invalid predicate kind: %q", p.Kind)
	}
	return nil
}

// InspectsOutput reports whether the predicate reads captured output.
func (p Predicate) InspectsOutput() bool {
	return p.Kind == KindOutputContains || p.Kind == KindOutputMatches
}

func (p Predicate) String() string {
	name := string(p.Action) + "-if-"
	switch p.Kind {
	case KindStatus, KindSignal:
		return fmt.Sprintf("%s%s %s", name, p.Kind, p.Pattern)
	case KindOutputContains, KindOutputMatches:
		arg := p.Literal
		if p.Kind == KindOutputMatches && p.Regexp != nil {
			arg = p.Regexp.String()
		}
		if p.Scope == ScopeBoth {
			return fmt.Sprintf("%s%s %q", name, p.Kind, arg)
		}
		return fmt.Sprintf("%s%s-%s %q", name, p.Scope, p.Kind, arg)
	case KindAlways:
		return string(p.Action) + "-always"
	default:
		return name + string(p.Kind)
	}
}

// matches dispatches on the closed set of predicate kinds.
func (p Predicate) matches(o outcome.Outcome, out *outputView) (bool, error) {
	switch p.Kind {
	case KindAlways:
		return true, nil
	case KindStatus:
		code, ok := o.ExitStatus()
		return ok && p.Pattern.Contains(code), nil
	case KindSignal:
		return outcome.SignalsSupported && o.IsKilled() && p.Pattern.Contains(o.Signal), nil
	case KindKilled:
		return outcome.SignalsSupported && o.IsKilled(), nil
	case KindTimeout:
		return o.IsKilled() && o.ViaTimeout, nil
	case KindOutputContains:
		return out.any(p.Scope, func(b []byte) bool {
			return bytes.Contains(b, []byte(p.Literal))
		})
	case KindOutputMatches:
		return out.any(p.Scope, p.Regexp.Match)
	default:
		return false, fmt.Errorf("invalid predicate kind: %q", p.Kind)
	}
}

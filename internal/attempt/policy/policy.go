// Package policy decides whether a finished attempt is retried or stopped.
//
// Precedence is fixed: a successful attempt always stops; otherwise any
// matching stop predicate stops; otherwise the retry predicates (or the
// built-in default when none are configured) decide.
package policy

import (
	"fmt"
	"unicode/utf8"

	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
)

type Decision string

const (
	DecisionStop  Decision = "stop"
	DecisionRetry Decision = "retry"
)

type BudgetMode string

const (
	BudgetLimited   BudgetMode = "limited"
	BudgetUnlimited BudgetMode = "unlimited"
	BudgetForever   BudgetMode = "forever"
)

// Budget bounds the number of attempts. Limit applies to BudgetLimited only.
type Budget struct {
	Mode  BudgetMode
	Limit int
}

func Limited(n int) Budget { return Budget{Mode: BudgetLimited, Limit: n} }

func Unlimited() Budget { return Budget{Mode: BudgetUnlimited} }

func Forever() Budget { return Budget{Mode: BudgetForever} }

// Exhausted reports whether no attempt may follow attempt index i (0-based).
func (b Budget) Exhausted(i int) bool {
	if b.Mode != BudgetLimited {
		return false
	}
	return i+1 >= b.Limit
}

func (b Budget) String() string {
	if b.Mode == BudgetLimited {
		return fmt.Sprintf("%d attempts", b.Limit)
	}
	return string(b.Mode)
}

// Policy is the full predicate configuration for a run.
type Policy struct {
	Stop        []Predicate
	Retry       []Predicate
	RetryAlways bool
	Budget      Budget
}

// Default is the policy used when nothing is configured: retry failing
// statuses and signal kills, three attempts.
func Default() *Policy {
	return &Policy{Budget: Limited(3)}
}

func (p *Policy) Validate() error {
	if p == nil {
		return fmt.Errorf("policy is nil")
	}
	switch p.Budget.Mode {
	case BudgetLimited:
		if p.Budget.Limit < 1 {
			return fmt.Errorf("attempts must be >= 1")
		}
	case BudgetUnlimited, BudgetForever:
	default:
		return fmt.Errorf("invalid attempt budget: %q", p.Budget.Mode)
	}
	for _, pred := range p.Stop {
		if pred.Action != ActionStop {
			return fmt.Errorf("%s configured as a stop predicate", pred)
		}
		if err := pred.Validate(); err != nil {
			return err
		}
	}
	for _, pred := range p.Retry {
		if pred.Action != ActionRetry {
			return fmt.Errorf("%s configured as a retry predicate", pred)
		}
		if err := pred.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CaptureMode is the set of streams some predicate inspects.
type CaptureMode struct {
	Stdout bool
	Stderr bool
}

func (m CaptureMode) Any() bool { return m.Stdout || m.Stderr }

// CaptureMode computes which streams must be captured for evaluation.
func (p *Policy) CaptureMode() CaptureMode {
	var m CaptureMode
	for _, list := range [][]Predicate{p.Stop, p.Retry} {
		for _, pred := range list {
			if !pred.InspectsOutput() {
				continue
			}
			switch pred.Scope {
			case ScopeStdout:
				m.Stdout = true
			case ScopeStderr:
				m.Stderr = true
			case ScopeBoth:
				m.Stdout = true
				m.Stderr = true
			}
		}
	}
	return m
}

// Output is the captured output of one attempt. Streams that were not
// captured are nil.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// EncodingError reports captured output that is not valid UTF-8 while an
// output predicate needed to read it.
type EncodingError struct {
	Stream Scope
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to parse command %s as UTF-8", e.Stream)
}

// Verdict is the result of evaluating a policy against one attempt.
type Verdict struct {
	Decision Decision
	// Matched is the predicate that decided, nil for the implicit success
	// stop, the built-in default, or when no retry predicate matched.
	Matched *Predicate
	Reason  string
}

// Decide evaluates the policy. It never consults earlier attempts.
func (p *Policy) Decide(o outcome.Outcome, out *Output) (Verdict, error) {
	if o.IsSuccess() {
		return Verdict{Decision: DecisionStop, Reason: "command was successful"}, nil
	}
	view := newOutputView(out)

	for i := range p.Stop {
		ok, err := p.Stop[i].matches(o, view)
		if err != nil {
			return Verdict{}, err
		}
		if ok {
			return Verdict{Decision: DecisionStop, Matched: &p.Stop[i], Reason: p.Stop[i].String()}, nil
		}
	}

	if p.RetryAlways {
		return Verdict{Decision: DecisionRetry, Reason: "retrying by default"}, nil
	}
	if len(p.Retry) > 0 {
		for i := range p.Retry {
			ok, err := p.Retry[i].matches(o, view)
			if err != nil {
				return Verdict{}, err
			}
			if ok {
				return Verdict{Decision: DecisionRetry, Matched: &p.Retry[i], Reason: p.Retry[i].String()}, nil
			}
		}
		return Verdict{Decision: DecisionStop, Reason: "no retry predicates were matched"}, nil
	}

	switch o.Kind {
	case outcome.KindFailedStatus, outcome.KindKilledBySignal:
		return Verdict{Decision: DecisionRetry, Reason: "command failed"}, nil
	}
	return Verdict{Decision: DecisionStop, Reason: "no retry predicates were matched"}, nil
}

// outputView validates each stream at most once, and only when a predicate
// actually reads it.
type outputView struct {
	out     *Output
	checked [2]bool
}

func newOutputView(out *Output) *outputView {
	if out == nil {
		out = &Output{}
	}
	return &outputView{out: out}
}

func (v *outputView) stream(s Scope) ([]byte, error) {
	idx, b := 0, v.out.Stdout
	if s == ScopeStderr {
		idx, b = 1, v.out.Stderr
	}
	if !v.checked[idx] {
		if !utf8.Valid(b) {
			return nil, &EncodingError{Stream: s}
		}
		v.checked[idx] = true
	}
	return b, nil
}

func (v *outputView) any(scope Scope, fn func([]byte) bool) (bool, error) {
	streams := []Scope{scope}
	if scope == ScopeBoth {
		streams = []Scope{ScopeStdout, ScopeStderr}
	}
	for _, s := range streams {
		b, err := v.stream(s)
		if err != nil {
			return false, err
		}
		if fn(b) {
			return true, nil
		}
	}
	return false, nil
}

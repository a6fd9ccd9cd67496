package policy

import (
	"errors"
	"regexp"
	"testing"

	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
	"github.com/MaxBondABE/attempt/internal/attempt/pattern"
)

var (
	success      = outcome.Success()
	failing      = outcome.FailedStatus(1)
	killed       = outcome.KilledBySignal(9, false)
	sigterm      = outcome.KilledBySignal(15, false)
	timedOut     = outcome.KilledBySignal(15, true)
	fooOnStdout  = &Output{Stdout: []byte("foo"), Stderr: []byte("")}
	fooOnStderr  = &Output{Stdout: []byte(""), Stderr: []byte("foo")}
	barOnStdout  = &Output{Stdout: []byte("bar"), Stderr: []byte("")}
	noOutput     = &Output{}
	invalidUTF8  = &Output{Stdout: []byte{0xff, 0xfe, 'f', 'o', 'o'}}
	statusOne    = pattern.MustParse("1")
	statusRanges = pattern.MustParse("100..199")
)

func mustDecide(t *testing.T, p *Policy, o outcome.Outcome, out *Output) Decision {
	t.Helper()
	v, err := p.Decide(o, out)
	if err != nil {
		t.Fatalf("Decide(%v): %v", o, err)
	}
	return v.Decision
}

func TestDecide_SuccessAlwaysStops(t *testing.T) {
	policies := []*Policy{
		Default(),
		{RetryAlways: true, Budget: Forever()},
		{Retry: []Predicate{Status(ActionRetry, pattern.MustParse("0..255"))}, Budget: Limited(3)},
		{Retry: []Predicate{Always(ActionRetry)}, Budget: Limited(3)},
		{Retry: []Predicate{Contains(ActionRetry, ScopeBoth, "foo")}, Budget: Limited(3)},
	}
	for i, p := range policies {
		v, err := p.Decide(success, fooOnStdout)
		if err != nil {
			t.Fatalf("policy %d: %v", i, err)
		}
		if v.Decision != DecisionStop || v.Matched != nil {
			t.Fatalf("policy %d: success must stop without a predicate, got %+v", i, v)
		}
	}
}

func TestDecide_SuccessSkipsOutputInspection(t *testing.T) {
	p := &Policy{Stop: []Predicate{Contains(ActionStop, ScopeStdout, "foo")}, Budget: Limited(3)}
	if got := mustDecide(t, p, success, invalidUTF8); got != DecisionStop {
		t.Fatalf("got %v", got)
	}
}

func TestDecide_StopTakesPrecedenceOverRetry(t *testing.T) {
	p := &Policy{
		Stop:   []Predicate{Status(ActionStop, statusOne)},
		Retry:  []Predicate{Status(ActionRetry, statusOne)},
		Budget: Limited(3),
	}
	v, err := p.Decide(failing, noOutput)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != DecisionStop || v.Matched == nil || v.Matched.Action != ActionStop {
		t.Fatalf("expected stop predicate to win, got %+v", v)
	}

	p.RetryAlways = true
	if got := mustDecide(t, p, failing, noOutput); got != DecisionStop {
		t.Fatalf("retry-always must not override a matching stop predicate, got %v", got)
	}
}

func TestDecide_DefaultRetriesFailuresAndKills(t *testing.T) {
	p := Default()
	if got := mustDecide(t, p, failing, nil); got != DecisionRetry {
		t.Fatalf("failing status: got %v", got)
	}
	if got := mustDecide(t, p, killed, nil); got != DecisionRetry {
		t.Fatalf("killed: got %v", got)
	}
	if got := mustDecide(t, p, timedOut, nil); got != DecisionRetry {
		t.Fatalf("timed out: got %v", got)
	}
}

func TestDecide_DefaultEquivalentToExplicitFailingStatusAndKilled(t *testing.T) {
	explicit := &Policy{
		Retry: []Predicate{
			Status(ActionRetry, pattern.MustParse("1..255")),
			Killed(ActionRetry),
		},
		Budget: Limited(3),
	}
	def := Default()
	outcomes := []outcome.Outcome{success, killed, sigterm, timedOut}
	for c := 1; c <= 255; c++ {
		outcomes = append(outcomes, outcome.FailedStatus(c))
	}
	for _, o := range outcomes {
		a := mustDecide(t, def, o, nil)
		b := mustDecide(t, explicit, o, nil)
		if a != b {
			t.Fatalf("%v: default=%v explicit=%v", o, a, b)
		}
	}
}

func TestDecide_ExplicitRetryHasNoFallback(t *testing.T) {
	p := &Policy{Retry: []Predicate{Status(ActionRetry, pattern.MustParse("10"))}, Budget: Limited(3)}
	v, err := p.Decide(failing, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if v.Decision != DecisionStop {
		t.Fatalf("expected stop when explicit retry predicates do not match, got %+v", v)
	}
}

func TestDecide_StatusPatternMembership(t *testing.T) {
	p := &Policy{Retry: []Predicate{Status(ActionRetry, statusRanges)}, Budget: Limited(3)}
	for c := 1; c <= 255; c++ {
		want := DecisionStop
		if c >= 100 && c <= 199 {
			want = DecisionRetry
		}
		if got := mustDecide(t, p, outcome.FailedStatus(c), nil); got != want {
			t.Fatalf("status %d: got %v want %v", c, got, want)
		}
	}
}

func TestDecide_StopIfStatus(t *testing.T) {
	p := &Policy{Stop: []Predicate{Status(ActionStop, statusOne)}, Budget: Limited(3)}
	v, err := p.Decide(failing, nil)
	if err != nil || v.Matched == nil {
		t.Fatalf("expected stop-if-status match, got %+v, %v", v, err)
	}
	// Only the stop predicate is configured, so a different failure falls
	// back to the default retry behavior.
	if got := mustDecide(t, p, outcome.FailedStatus(2), nil); got != DecisionRetry {
		t.Fatalf("status 2: got %v", got)
	}
}

func TestDecide_TimeoutAndKilled(t *testing.T) {
	stopTimeout := &Policy{Stop: []Predicate{Timeout(ActionStop)}, Budget: Limited(3)}
	if v, _ := stopTimeout.Decide(timedOut, nil); v.Matched == nil {
		t.Fatalf("stop-if-timeout should match a timeout kill")
	}
	if v, _ := stopTimeout.Decide(killed, nil); v.Matched != nil {
		t.Fatalf("stop-if-timeout must not match a plain kill")
	}

	stopKilled := &Policy{Stop: []Predicate{Killed(ActionStop)}, Budget: Limited(3)}
	if !outcome.SignalsSupported {
		t.Skip("signal kills unsupported")
	}
	for _, o := range []outcome.Outcome{killed, timedOut} {
		if v, _ := stopKilled.Decide(o, nil); v.Matched == nil {
			t.Fatalf("stop-if-killed should match %v", o)
		}
	}
	if v, _ := stopKilled.Decide(failing, nil); v.Matched != nil {
		t.Fatalf("stop-if-killed must not match a status failure")
	}

	retryTimeout := &Policy{Retry: []Predicate{Timeout(ActionRetry)}, Budget: Limited(3)}
	if got := mustDecide(t, retryTimeout, timedOut, nil); got != DecisionRetry {
		t.Fatalf("retry-if-timeout: got %v", got)
	}
	if got := mustDecide(t, retryTimeout, killed, nil); got != DecisionStop {
		t.Fatalf("retry-if-timeout on plain kill: got %v", got)
	}
}

func TestDecide_SignalPatterns(t *testing.T) {
	if !outcome.SignalsSupported {
		t.Skip("signal kills unsupported")
	}
	cases := []struct {
		pattern string
		sig9    bool
		sig15   bool
	}{
		{"1..9", true, false},
		{"1..20", true, true},
		{"20..30", false, false},
		{"15", false, true},
	}
	for _, tc := range cases {
		p := &Policy{Retry: []Predicate{Signal(ActionRetry, pattern.MustParse(tc.pattern))}, Budget: Limited(3)}
		if got := mustDecide(t, p, killed, nil) == DecisionRetry; got != tc.sig9 {
			t.Fatalf("%s vs signal 9: got %v", tc.pattern, got)
		}
		if got := mustDecide(t, p, sigterm, nil) == DecisionRetry; got != tc.sig15 {
			t.Fatalf("%s vs signal 15: got %v", tc.pattern, got)
		}
		if got := mustDecide(t, p, failing, nil); got != DecisionStop {
			t.Fatalf("%s vs status 1: got %v", tc.pattern, got)
		}
	}
}

func TestDecide_OutputScopes(t *testing.T) {
	type expect struct{ stdout, stderr, bar bool }
	cases := []struct {
		name string
		pred Predicate
		want expect
	}{
		{"contains both", Contains(ActionRetry, ScopeBoth, "foo"), expect{true, true, false}},
		{"contains stdout", Contains(ActionRetry, ScopeStdout, "foo"), expect{true, false, false}},
		{"contains stderr", Contains(ActionRetry, ScopeStderr, "foo"), expect{false, true, false}},
		{"matches both", Matches(ActionRetry, ScopeBoth, regexp.MustCompile("f.o")), expect{true, true, false}},
		{"matches stdout", Matches(ActionRetry, ScopeStdout, regexp.MustCompile("^foo$")), expect{true, false, false}},
		{"matches stderr", Matches(ActionRetry, ScopeStderr, regexp.MustCompile("fo+")), expect{false, true, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Policy{Retry: []Predicate{tc.pred}, Budget: Limited(3)}
			check := func(out *Output, want bool) {
				t.Helper()
				if got := mustDecide(t, p, failing, out) == DecisionRetry; got != want {
					t.Fatalf("output %+v: got %v want %v", out, got, want)
				}
			}
			check(fooOnStdout, tc.want.stdout)
			check(fooOnStderr, tc.want.stderr)
			check(barOnStdout, tc.want.bar)
			check(noOutput, false)

			stop := tc.pred
			stop.Action = ActionStop
			sp := &Policy{Stop: []Predicate{stop}, Budget: Limited(3)}
			if v, _ := sp.Decide(failing, fooOnStdout); (v.Matched != nil) != tc.want.stdout {
				t.Fatalf("stop variant on stdout: %+v", v)
			}
		})
	}
}

func TestDecide_UnicodeRegex(t *testing.T) {
	p := &Policy{Retry: []Predicate{Matches(ActionRetry, ScopeStdout, regexp.MustCompile(`^\p{Greek}+$`))}, Budget: Limited(3)}
	if got := mustDecide(t, p, failing, &Output{Stdout: []byte("αβγ")}); got != DecisionRetry {
		t.Fatalf("got %v", got)
	}
}

func TestDecide_InvalidUTF8IsAnEncodingError(t *testing.T) {
	p := &Policy{Retry: []Predicate{Contains(ActionRetry, ScopeStdout, "foo")}, Budget: Limited(3)}
	_, err := p.Decide(failing, invalidUTF8)
	var ee *EncodingError
	if !errors.As(err, &ee) || ee.Stream != ScopeStdout {
		t.Fatalf("expected stdout EncodingError, got %v", err)
	}

	// Streams no predicate reads are never validated.
	p = &Policy{Retry: []Predicate{Contains(ActionRetry, ScopeStderr, "foo")}, Budget: Limited(3)}
	if _, err := p.Decide(failing, invalidUTF8); err != nil {
		t.Fatalf("stderr-only predicate should ignore stdout: %v", err)
	}
}

func TestDecide_RetryAlways(t *testing.T) {
	p := &Policy{RetryAlways: true, Budget: Limited(3)}
	for _, o := range []outcome.Outcome{failing, killed} {
		if got := mustDecide(t, p, o, nil); got != DecisionRetry {
			t.Fatalf("%v: got %v", o, got)
		}
	}
}

func TestBudget_Exhausted(t *testing.T) {
	b := Limited(3)
	if b.Exhausted(0) || b.Exhausted(1) || !b.Exhausted(2) {
		t.Fatalf("limited(3) exhaustion wrong")
	}
	if Limited(1).Exhausted(0) != true {
		t.Fatalf("limited(1) must exhaust after the first attempt")
	}
	for _, u := range []Budget{Unlimited(), Forever()} {
		if u.Exhausted(1 << 30) {
			t.Fatalf("%v must never exhaust", u)
		}
	}
}

func TestPolicy_CaptureMode(t *testing.T) {
	p := Default()
	if p.CaptureMode().Any() {
		t.Fatalf("default policy must not capture")
	}
	p = &Policy{
		Stop:   []Predicate{Contains(ActionStop, ScopeStderr, "x")},
		Retry:  []Predicate{Status(ActionRetry, statusOne)},
		Budget: Limited(3),
	}
	if m := p.CaptureMode(); m.Stdout || !m.Stderr {
		t.Fatalf("capture: %+v", m)
	}
	p.Retry = append(p.Retry, Matches(ActionRetry, ScopeBoth, regexp.MustCompile("x")))
	if m := p.CaptureMode(); !m.Stdout || !m.Stderr {
		t.Fatalf("capture: %+v", m)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default: %v", err)
	}
	bad := []*Policy{
		{Budget: Limited(0)},
		{Budget: Budget{Mode: "sometimes"}},
		{Stop: []Predicate{Status(ActionRetry, statusOne)}, Budget: Limited(1)},
		{Retry: []Predicate{{Action: ActionRetry, Kind: KindStatus}}, Budget: Limited(1)},
		{Retry: []Predicate{{Action: ActionRetry, Kind: KindOutputMatches, Scope: ScopeBoth}}, Budget: Limited(1)},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("policy %d: expected validation error", i)
		}
	}
}

func TestPredicate_String(t *testing.T) {
	cases := map[string]Predicate{
		"stop-if-status 1":             Status(ActionStop, statusOne),
		`retry-if-stdout-contains "x"`: Contains(ActionRetry, ScopeStdout, "x"),
		`retry-if-matches "a+"`:        Matches(ActionRetry, ScopeBoth, regexp.MustCompile("a+")),
		"stop-if-timeout":              Timeout(ActionStop),
		"retry-always":                 Always(ActionRetry),
	}
	for want, p := range cases {
		if got := p.String(); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

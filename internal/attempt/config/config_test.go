package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/backoff"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func mustResolve(t *testing.T, f *File) *Resolved {
	t.Helper()
	r, err := Resolve(f)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return r
}

func TestLoadFile_YAML(t *testing.T) {
	p := writeFile(t, "run.yaml", `
version: 1
command: ["curl", "-f", "http://localhost:8080/health"]
attempts: 5
backoff:
  strategy: exp
  multiplier: 250ms
  base: 3
  jitter: 0.5
  wait_max: 1m
  seed: 42
timeout:
  max: 5s
  expected_runtime: 10
  kill_grace: 2s
stop:
  - status: 2
  - stderr_ignored_key_check: false
`)
	if _, err := LoadFile(p); err == nil {
		t.Fatalf("expected unknown predicate key to be rejected")
	}

	p = writeFile(t, "run.yaml", `
version: 1
command: ["curl", "-f", "http://localhost:8080/health"]
attempts: 5
backoff:
  strategy: exp
  multiplier: 250ms
  base: 3
  jitter: 0.5
  wait_max: 1m
  seed: 42
timeout:
  max: 5s
  expected_runtime: 10
  kill_grace: 2s
stop:
  - status: 2
  - contains: "permission denied"
    scope: stderr
retry:
  - status: "1,7..9"
  - timeout: true
`)
	f, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	r := mustResolve(t, f)
	cfg := r.Engine
	if got := strings.Join(cfg.Command.Argv, " "); got != "curl -f http://localhost:8080/health" {
		t.Fatalf("command: %q", got)
	}
	if cfg.Policy.Budget != policy.Limited(5) {
		t.Fatalf("budget: %+v", cfg.Policy.Budget)
	}
	if cfg.Backoff.Strategy != backoff.StrategyExponential || cfg.Backoff.Multiplier != 250*time.Millisecond || cfg.Backoff.Base != 3 {
		t.Fatalf("backoff: %+v", cfg.Backoff)
	}
	if cfg.Backoff.JitterMax == nil || *cfg.Backoff.JitterMax != 500*time.Millisecond {
		t.Fatalf("jitter: %v", cfg.Backoff.JitterMax)
	}
	if cfg.Backoff.WaitMax == nil || *cfg.Backoff.WaitMax != time.Minute || cfg.Backoff.WaitMin != nil {
		t.Fatalf("wait clamps: %v %v", cfg.Backoff.WaitMin, cfg.Backoff.WaitMax)
	}
	if r.Seed == nil || *r.Seed != 42 {
		t.Fatalf("seed: %v", r.Seed)
	}
	if cfg.Timeout.MaxDuration == nil || *cfg.Timeout.MaxDuration != 5*time.Second {
		t.Fatalf("timeout: %v", cfg.Timeout.MaxDuration)
	}
	if cfg.Timeout.ExpectedRuntime == nil || *cfg.Timeout.ExpectedRuntime != 10*time.Second || cfg.Timeout.KillGrace != 2*time.Second {
		t.Fatalf("timeout spec: %+v", cfg.Timeout)
	}
	if len(cfg.Policy.Stop) != 2 || cfg.Policy.Stop[1].Scope != policy.ScopeStderr {
		t.Fatalf("stop: %v", cfg.Policy.Stop)
	}
	if len(cfg.Policy.Retry) != 2 || !cfg.Policy.Retry[0].Pattern.Contains(8) || cfg.Policy.Retry[1].Kind != policy.KindTimeout {
		t.Fatalf("retry: %v", cfg.Policy.Retry)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	p := writeFile(t, "run.json", `{
  "version": 1,
  "command": ["/bin/false"],
  "unlimited_attempts": true,
  "backoff": {"strategy": "linear", "multiplier": 2, "starting_wait": "500ms"},
  "retry": [{"matches": "connection (refused|reset)"}],
  "logs_root": "/tmp/attempt-logs"
}`)
	f, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	r := mustResolve(t, f)
	if r.Engine.Policy.Budget != policy.Unlimited() {
		t.Fatalf("budget: %+v", r.Engine.Policy.Budget)
	}
	if r.Engine.Backoff.Multiplier != 2*time.Second || r.Engine.Backoff.StartingWait != 500*time.Millisecond {
		t.Fatalf("backoff: %+v", r.Engine.Backoff)
	}
	pred := r.Engine.Policy.Retry[0]
	if pred.Kind != policy.KindOutputMatches || pred.Scope != policy.ScopeBoth {
		t.Fatalf("retry predicate: %+v", pred)
	}
	if r.LogsRoot != "/tmp/attempt-logs" {
		t.Fatalf("logs root: %q", r.LogsRoot)
	}
}

func TestLoadFile_RejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown.yaml":   "version: 1\nbogus: true\n",
		"version.yaml":   "version: 2\n",
		"attempts.yaml":  "attempts: 0\n",
		"strategy.yaml":  "backoff:\n  strategy: random\n",
		"twodocs.yaml":   "attempts: 2\n---\nattempts: 3\n",
		"scope.yaml":     "retry:\n  - contains: x\n    scope: both\n",
		"trailing.json":  `{"attempts": 2} {"attempts": 3}`,
		"unknown.json":   `{"command": ["x"], "nope": 1}`,
		"negative.json":  `{"backoff": {"wait": -1}}`,
		"statustoo.json": `{"retry": [{"status": 256}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, name, body))
			if err == nil {
				t.Fatalf("expected error")
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadFile_EmptyYAMLUsesDefaults(t *testing.T) {
	f, err := LoadFile(writeFile(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	f.Command = []string{"true"}
	r := mustResolve(t, f)
	if r.Engine.Policy.Budget != policy.Limited(DefaultAttempts) {
		t.Fatalf("budget: %+v", r.Engine.Policy.Budget)
	}
	if r.Engine.Backoff.Strategy != backoff.StrategyFixed || r.Engine.Backoff.Wait != time.Second {
		t.Fatalf("backoff: %+v", r.Engine.Backoff)
	}
	if len(r.Engine.Policy.Stop) != 0 || len(r.Engine.Policy.Retry) != 0 || r.Engine.Policy.RetryAlways {
		t.Fatalf("policy should be the built-in default: %+v", r.Engine.Policy)
	}
	if r.Engine.Timeout.MaxDuration != nil {
		t.Fatalf("no timeout by default")
	}
}

func TestResolve_ForeverImpliesRetryAlwaysAndNoLimit(t *testing.T) {
	r := mustResolve(t, &File{Command: []string{"x"}, Forever: true})
	if r.Engine.Policy.Budget != policy.Forever() || !r.Engine.Policy.RetryAlways {
		t.Fatalf("policy: %+v", r.Engine.Policy)
	}
	if r.Engine.Policy.Budget.Exhausted(1000) {
		t.Fatalf("forever must never exhaust")
	}
}

func TestResolve_RetryFailingStatus(t *testing.T) {
	r := mustResolve(t, &File{Command: []string{"x"}, RetryFailingStatus: true})
	retry := r.Engine.Policy.Retry
	if len(retry) != 1 || retry[0].Kind != policy.KindStatus || retry[0].Pattern.Contains(0) || !retry[0].Pattern.Contains(255) {
		t.Fatalf("retry: %+v", retry)
	}
}

func TestResolve_Errors(t *testing.T) {
	two := 2
	neg := -1
	lo, hi := Duration{5 * time.Second}, Duration{time.Second}
	timeout := Duration{time.Second}
	status := Codes("5..1")
	bad := []struct {
		name string
		f    File
		path string
	}{
		{"no command", File{}, "command"},
		{"attempts", File{Command: []string{"x"}, Attempts: &neg}, "attempts"},
		{"wait clamps", File{Command: []string{"x"}, Backoff: BackoffConfig{WaitMin: &lo, WaitMax: &hi}}, "backoff.wait_min"},
		{"timeout predicate", File{Command: []string{"x"}, Stop: []PredicateConfig{{Timeout: true}}}, "stop[0]"},
		{"retry timeout predicate", File{Command: []string{"x"}, Retry: []PredicateConfig{{Timeout: true}}}, "retry"},
		{"expected runtime", File{Command: []string{"x"}, Timeout: TimeoutConfig{ExpectedRuntime: &timeout}}, "timeout.expected_runtime"},
		{"backwards range", File{Command: []string{"x"}, Retry: []PredicateConfig{{Status: &status}}}, "retry[0].status"},
		{"empty predicate", File{Command: []string{"x"}, Stop: []PredicateConfig{{}}}, "stop[0]"},
		{"two tests", File{Command: []string{"x"}, Stop: []PredicateConfig{{Timeout: true, Killed: true}}, Timeout: TimeoutConfig{Max: &timeout}}, "stop[0]"},
		{"scope on status", File{Command: []string{"x"}, Stop: []PredicateConfig{{Status: ptrCodes("1"), Scope: "stdout"}}}, "stop[0].scope"},
		{"bad regex", File{Command: []string{"x"}, Retry: []PredicateConfig{{Matches: ptrString("(")}}}, "retry[0].matches"},
		{"version", File{Version: two, Command: []string{"x"}}, "version"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.f
			_, err := Resolve(&f)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cerr.Path != tc.path {
				t.Fatalf("path: got %q want %q (%v)", cerr.Path, tc.path, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("1m30s")
	if err != nil || d.Duration != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDuration("5 10s"); err == nil {
		t.Fatalf("mixed bare and unit tokens must fail")
	}
}

func ptrCodes(s string) *Codes   { c := Codes(s); return &c }
func ptrString(s string) *string { return &s }

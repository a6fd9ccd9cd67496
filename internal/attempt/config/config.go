// Package config loads, defaults, and validates run configuration, and
// resolves it into the engine's immutable types.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MaxBondABE/attempt/internal/attempt/duration"
)

// Error is a configuration problem. Path names the offending setting (a
// config key, a flag, or a file) when one is known.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(path, format string, args ...any) *Error {
	return &Error{Path: path, Err: fmt.Errorf(format, args...)}
}

// Duration accepts the human duration syntax ("1m30s", "500ms") or a bare
// number of seconds.
type Duration struct {
	time.Duration
}

func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return Duration{}, err
	}
	return Duration{d}, nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s, err := scalarString(b)
	if err != nil {
		return err
	}
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Codes is a status or signal pattern such as "1..5,10". A single integer
// is accepted in files.
type Codes string

func (c *Codes) UnmarshalYAML(n *yaml.Node) error {
	*c = Codes(n.Value)
	return nil
}

func (c *Codes) UnmarshalJSON(b []byte) error {
	s, err := scalarString(b)
	if err != nil {
		return err
	}
	*c = Codes(s)
	return nil
}

// scalarString reads a JSON string or number as text.
func scalarString(b []byte) (string, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("expected a string or number, got %s", strings.TrimSpace(string(b)))
	}
}

type BackoffConfig struct {
	Strategy     string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Wait         *Duration `json:"wait,omitempty" yaml:"wait,omitempty"`
	Multiplier   *Duration `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	StartingWait *Duration `json:"starting_wait,omitempty" yaml:"starting_wait,omitempty"`
	Base         *float64  `json:"base,omitempty" yaml:"base,omitempty"`
	Jitter       *Duration `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	WaitMin      *Duration `json:"wait_min,omitempty" yaml:"wait_min,omitempty"`
	WaitMax      *Duration `json:"wait_max,omitempty" yaml:"wait_max,omitempty"`
	Stagger      *Duration `json:"stagger,omitempty" yaml:"stagger,omitempty"`
	Seed         *uint64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

type TimeoutConfig struct {
	Max              *Duration `json:"max,omitempty" yaml:"max,omitempty"`
	ExpectedRuntime  *Duration `json:"expected_runtime,omitempty" yaml:"expected_runtime,omitempty"`
	ForceKill        bool      `json:"force_kill,omitempty" yaml:"force_kill,omitempty"`
	KillGrace        *Duration `json:"kill_grace,omitempty" yaml:"kill_grace,omitempty"`
	KillProcessGroup bool      `json:"kill_process_group,omitempty" yaml:"kill_process_group,omitempty"`
}

// PredicateConfig names exactly one test. Scope applies to contains and
// matches and defaults to both streams.
type PredicateConfig struct {
	Status   *Codes  `json:"status,omitempty" yaml:"status,omitempty"`
	Signal   *Codes  `json:"signal,omitempty" yaml:"signal,omitempty"`
	Contains *string `json:"contains,omitempty" yaml:"contains,omitempty"`
	Matches  *string `json:"matches,omitempty" yaml:"matches,omitempty"`
	Scope    string  `json:"scope,omitempty" yaml:"scope,omitempty"`
	Timeout  bool    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Killed   bool    `json:"killed,omitempty" yaml:"killed,omitempty"`
	Always   bool    `json:"always,omitempty" yaml:"always,omitempty"`
}

// File is the run configuration as written in a config file and overlaid
// by command-line flags.
type File struct {
	Version int      `json:"version" yaml:"version"`
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	Attempts          *int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	UnlimitedAttempts bool `json:"unlimited_attempts,omitempty" yaml:"unlimited_attempts,omitempty"`
	Forever           bool `json:"forever,omitempty" yaml:"forever,omitempty"`

	Backoff BackoffConfig `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Timeout TimeoutConfig `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Stop               []PredicateConfig `json:"stop,omitempty" yaml:"stop,omitempty"`
	Retry              []PredicateConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	RetryAlways        bool              `json:"retry_always,omitempty" yaml:"retry_always,omitempty"`
	RetryFailingStatus bool              `json:"retry_failing_status,omitempty" yaml:"retry_failing_status,omitempty"`

	LogsRoot    string `json:"logs_root,omitempty" yaml:"logs_root,omitempty"`
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
}

const (
	DefaultAttempts = 3
	DefaultScope    = "output"
)

func applyDefaults(f *File) {
	if f == nil {
		return
	}
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Attempts == nil {
		n := DefaultAttempts
		f.Attempts = &n
	}
	f.Backoff.Strategy = strings.ToLower(strings.TrimSpace(f.Backoff.Strategy))
	if f.Backoff.Strategy == "" {
		f.Backoff.Strategy = "fixed"
	}
	if f.Backoff.Strategy == "exp" {
		f.Backoff.Strategy = "exponential"
	}
	f.LogsRoot = strings.TrimSpace(f.LogsRoot)
	f.MetricsFile = strings.TrimSpace(f.MetricsFile)
	for _, list := range [][]PredicateConfig{f.Stop, f.Retry} {
		for i := range list {
			if list[i].Scope == "" && (list[i].Contains != nil || list[i].Matches != nil) {
				list[i].Scope = DefaultScope
			}
		}
	}
}

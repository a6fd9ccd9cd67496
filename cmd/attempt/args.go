package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MaxBondABE/attempt/internal/attempt/config"
)

// cliArgs is the parsed command line. Settings that also exist in config
// files are kept as overlays and applied after the file is loaded, so flags
// always win.
type cliArgs struct {
	configPath string
	runID      string
	verbose    int
	quiet      int
	help       bool
	version    bool

	command  []string
	overlays []func(*config.File) error
}

var strategyWords = map[string]bool{
	"fixed":       true,
	"linear":      true,
	"exponential": true,
	"exp":         true,
}

func (c *cliArgs) set(fn func(*config.File) error) {
	c.overlays = append(c.overlays, fn)
}

func (c *cliArgs) setDuration(flag string, fn func(*config.File, *config.Duration)) func(string) error {
	return func(v string) error {
		d, err := config.ParseDuration(v)
		if err != nil {
			return flagError(flag, err)
		}
		c.set(func(f *config.File) error { fn(f, &d); return nil })
		return nil
	}
}

func flagError(flag string, err error) error {
	return &config.Error{Path: flag, Err: err}
}

func stopPredicate(pc config.PredicateConfig) func(*config.File) error {
	return func(f *config.File) error { f.Stop = append(f.Stop, pc); return nil }
}

func retryPredicate(pc config.PredicateConfig) func(*config.File) error {
	return func(f *config.File) error { f.Retry = append(f.Retry, pc); return nil }
}

// shortFlags maps single-letter flags to their long names.
var shortFlags = map[string]string{
	"-a": "--attempts",
	"-U": "--unlimited-attempts",
	"-Y": "--forever",
	"-w": "--wait",
	"-x": "--multiplier",
	"-b": "--base",
	"-W": "--starting-wait",
	"-j": "--jitter",
	"-m": "--wait-min",
	"-M": "--wait-max",
	"-t": "--timeout",
	"-R": "--expected-runtime",
	"-k": "--force-kill",
	"-F": "--retry-failing-status",
	"-S": "--retry-if-status",
	"-s": "--retry-if-contains",
	"-r": "--retry-if-matches",
	"-v": "--verbose",
	"-q": "--quiet",
	"-h": "--help",
}

// parseArgs reads flags up to the first positional argument or "--"; the
// rest is the command to run. An optional leading strategy word selects the
// backoff strategy.
func parseArgs(args []string) (*cliArgs, error) {
	c := &cliArgs{}
	if len(args) > 0 && strategyWords[args[0]] {
		strategy := args[0]
		c.set(func(f *config.File) error { f.Backoff.Strategy = strategy; return nil })
		args = args[1:]
	}

	i := 0
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			i++
			break
		}
		if arg == "-" || !strings.HasPrefix(arg, "-") {
			break
		}
		if isRepeatedShort(arg, 'v') {
			c.verbose += len(arg) - 1
			continue
		}
		if isRepeatedShort(arg, 'q') {
			c.quiet += len(arg) - 1
			continue
		}

		name, inline, hasInline := strings.Cut(arg, "=")
		if long, ok := shortFlags[name]; ok {
			name = long
		}
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			i++
			if i >= len(args) {
				return "", flagError(name, fmt.Errorf("requires a value"))
			}
			return args[i], nil
		}
		noValue := func() error {
			if hasInline {
				return flagError(name, fmt.Errorf("does not take a value"))
			}
			return nil
		}

		var withValue func(string) error
		var flag func(*config.File) error
		switch name {
		case "--help":
			c.help = true
		case "--version":
			c.version = true
		case "--verbose":
			c.verbose++
		case "--quiet":
			c.quiet++

		case "--config":
			withValue = func(v string) error { c.configPath = v; return nil }
		case "--run-id":
			withValue = func(v string) error { c.runID = strings.TrimSpace(v); return nil }
		case "--logs-root":
			withValue = func(v string) error {
				c.set(func(f *config.File) error { f.LogsRoot = v; return nil })
				return nil
			}
		case "--metrics-file":
			withValue = func(v string) error {
				c.set(func(f *config.File) error { f.MetricsFile = v; return nil })
				return nil
			}
		case "--seed":
			withValue = func(v string) error {
				n, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return flagError(name, fmt.Errorf("must be a non-negative integer"))
				}
				c.set(func(f *config.File) error { f.Backoff.Seed = &n; return nil })
				return nil
			}

		case "--attempts":
			withValue = func(v string) error {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return flagError(name, fmt.Errorf("must be an integer >= 1, got %q", v))
				}
				c.set(func(f *config.File) error { f.Attempts = &n; return nil })
				return nil
			}
		case "--unlimited-attempts":
			flag = func(f *config.File) error { f.UnlimitedAttempts = true; return nil }
		case "--forever":
			flag = func(f *config.File) error { f.Forever = true; return nil }

		case "--wait":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.Wait = d })
		case "--multiplier":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.Multiplier = d })
		case "--starting-wait":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.StartingWait = d })
		case "--jitter":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.Jitter = d })
		case "--wait-min":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.WaitMin = d })
		case "--wait-max":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.WaitMax = d })
		case "--stagger":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Backoff.Stagger = d })
		case "--base":
			withValue = func(v string) error {
				b, err := strconv.ParseFloat(v, 64)
				if err != nil || b < 0 {
					return flagError(name, fmt.Errorf("must be a number >= 0, got %q", v))
				}
				c.set(func(f *config.File) error { f.Backoff.Base = &b; return nil })
				return nil
			}

		case "--timeout":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Timeout.Max = d })
		case "--expected-runtime":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Timeout.ExpectedRuntime = d })
		case "--kill-grace":
			withValue = c.setDuration(name, func(f *config.File, d *config.Duration) { f.Timeout.KillGrace = d })
		case "--force-kill":
			flag = func(f *config.File) error { f.Timeout.ForceKill = true; return nil }
		case "--kill-process-group":
			flag = func(f *config.File) error { f.Timeout.KillProcessGroup = true; return nil }

		case "--retry-failing-status":
			flag = func(f *config.File) error { f.RetryFailingStatus = true; return nil }
		case "--retry-always":
			flag = func(f *config.File) error { f.RetryAlways = true; return nil }
		case "--retry-if-killed":
			flag = retryPredicate(config.PredicateConfig{Killed: true})
		case "--stop-if-killed":
			flag = stopPredicate(config.PredicateConfig{Killed: true})
		case "--retry-if-timeout":
			flag = retryPredicate(config.PredicateConfig{Timeout: true})
		case "--stop-if-timeout":
			flag = stopPredicate(config.PredicateConfig{Timeout: true})

		default:
			pc, stop, ok := valuePredicate(name)
			if !ok {
				return nil, flagError(name, fmt.Errorf("unknown flag"))
			}
			withValue = func(v string) error {
				pc := pc.with(v)
				if stop {
					c.set(stopPredicate(pc.PredicateConfig))
				} else {
					c.set(retryPredicate(pc.PredicateConfig))
				}
				return nil
			}
		}

		switch {
		case withValue != nil:
			v, err := value()
			if err != nil {
				return nil, err
			}
			if err := withValue(v); err != nil {
				return nil, err
			}
		default:
			if err := noValue(); err != nil {
				return nil, err
			}
			if flag != nil {
				c.set(flag)
			}
		}
	}
	c.command = append([]string(nil), args[i:]...)
	if len(c.command) > 0 {
		cmd := c.command
		c.set(func(f *config.File) error { f.Command = cmd; return nil })
	}
	return c, nil
}

func isRepeatedShort(arg string, r rune) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	for _, c := range arg[1:] {
		if c != r {
			return false
		}
	}
	return true
}

// predicateTemplate is a value-taking predicate flag; with fills in the
// flag's argument.
type predicateTemplate struct {
	config.PredicateConfig
	field string
}

func (p predicateTemplate) with(v string) predicateTemplate {
	switch p.field {
	case "status":
		c := config.Codes(v)
		p.Status = &c
	case "signal":
		c := config.Codes(v)
		p.Signal = &c
	case "contains":
		p.Contains = &v
	case "matches":
		p.Matches = &v
	}
	return p
}

// valuePredicate decodes the --{stop,retry}-if-[std{out,err}-]{status,
// signal,contains,matches} family.
func valuePredicate(name string) (predicateTemplate, bool, bool) {
	var stop bool
	rest, ok := strings.CutPrefix(name, "--retry-if-")
	if !ok {
		rest, ok = strings.CutPrefix(name, "--stop-if-")
		if !ok {
			return predicateTemplate{}, false, false
		}
		stop = true
	}
	var p predicateTemplate
	switch {
	case strings.HasPrefix(rest, "stdout-"):
		p.Scope = "stdout"
		rest = strings.TrimPrefix(rest, "stdout-")
	case strings.HasPrefix(rest, "stderr-"):
		p.Scope = "stderr"
		rest = strings.TrimPrefix(rest, "stderr-")
	}
	switch rest {
	case "contains", "matches":
	case "status", "signal":
		if p.Scope != "" {
			return predicateTemplate{}, false, false
		}
	default:
		return predicateTemplate{}, false, false
	}
	p.field = rest
	return p, stop, true
}

// file loads the config file, if any, and applies the command-line overlays
// on top of it.
func (c *cliArgs) file() (*config.File, error) {
	f := &config.File{}
	if c.configPath != "" {
		loaded, err := config.LoadFile(c.configPath)
		if err != nil {
			return nil, err
		}
		f = loaded
	}
	for _, apply := range c.overlays {
		if err := apply(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

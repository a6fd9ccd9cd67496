// Package backoff computes the wait between attempts.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy accepts the strategy words used on the command line.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "fixed":
		return StrategyFixed, true
	case "linear":
		return StrategyLinear, true
	case "exponential", "exp":
		return StrategyExponential, true
	default:
		return "", false
	}
}

// Spec configures a backoff schedule. Only the fields of the selected
// strategy are read: Wait for fixed, Multiplier and StartingWait for linear,
// Multiplier and Base for exponential.
type Spec struct {
	Strategy     Strategy
	Wait         time.Duration
	Multiplier   time.Duration
	StartingWait time.Duration
	Base         float64

	JitterMax  *time.Duration
	WaitMin    *time.Duration
	WaitMax    *time.Duration
	StaggerMax *time.Duration
}

const (
	DefaultWait         = 1 * time.Second
	DefaultMultiplier   = 1 * time.Second
	DefaultStartingWait = 1 * time.Second
	DefaultBase         = 2.0
)

// Default returns the spec for strategy with the documented defaults.
func Default(s Strategy) Spec {
	return Spec{
		Strategy:     s,
		Wait:         DefaultWait,
		Multiplier:   DefaultMultiplier,
		StartingWait: DefaultStartingWait,
		Base:         DefaultBase,
	}
}

func (s Spec) Validate() error {
	switch s.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential:
	default:
		return fmt.Errorf("invalid backoff strategy: %q", s.Strategy)
	}
	if s.Wait < 0 {
		return fmt.Errorf("wait must be >= 0")
	}
	if s.Multiplier < 0 {
		return fmt.Errorf("multiplier must be >= 0")
	}
	if s.StartingWait < 0 {
		return fmt.Errorf("starting_wait must be >= 0")
	}
	if math.IsNaN(s.Base) || math.IsInf(s.Base, 0) || s.Base < 0 {
		return fmt.Errorf("base must be a finite number >= 0")
	}
	for name, d := range map[string]*time.Duration{
		"jitter":   s.JitterMax,
		"wait_min": s.WaitMin,
		"wait_max": s.WaitMax,
		"stagger":  s.StaggerMax,
	} {
		if d != nil && *d < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if s.WaitMin != nil && s.WaitMax != nil && *s.WaitMin > *s.WaitMax {
		return fmt.Errorf("wait_min (%v) is greater than wait_max (%v)", *s.WaitMin, *s.WaitMax)
	}
	return nil
}

// Calculator turns a Spec into concrete delays. It is not safe for
// concurrent use; the attempt loop is its only caller.
type Calculator struct {
	spec Spec
	rng  *rand.Rand
}

// NewCalculator returns a calculator drawing jitter and stagger from rng.
// A nil rng is replaced by one seeded from the runtime's random source.
func NewCalculator(spec Spec, rng *rand.Rand) *Calculator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Calculator{spec: spec, rng: rng}
}

// NewSeededRand returns a deterministic source for --seed.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Base returns the unmodified schedule value for attempt index i, before
// clamping and jitter.
func (c *Calculator) Base(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	s := c.spec
	var secs float64
	switch s.Strategy {
	case StrategyLinear:
		secs = s.Multiplier.Seconds()*float64(i) + s.StartingWait.Seconds()
	case StrategyExponential:
		secs = s.Multiplier.Seconds() * math.Pow(s.Base, float64(i))
	default:
		secs = s.Wait.Seconds()
	}
	return fromSeconds(secs)
}

// Delay is the wait after attempt index i: the base value raised to WaitMin,
// lowered to WaitMax, then extended by jitter in [0, JitterMax].
func (c *Calculator) Delay(i int) time.Duration {
	d := c.Base(i)
	if c.spec.WaitMin != nil && d < *c.spec.WaitMin {
		d = *c.spec.WaitMin
	}
	if c.spec.WaitMax != nil && d > *c.spec.WaitMax {
		d = *c.spec.WaitMax
	}
	if c.spec.JitterMax != nil && *c.spec.JitterMax > 0 {
		d = saturatingAdd(d, c.sample(*c.spec.JitterMax))
	}
	return d
}

// Stagger samples the one-shot delay before the first attempt. ok is false
// when no stagger is configured.
func (c *Calculator) Stagger() (d time.Duration, ok bool) {
	if c.spec.StaggerMax == nil {
		return 0, false
	}
	return c.sample(*c.spec.StaggerMax), true
}

// sample returns a uniform duration in [0, max].
func (c *Calculator) sample(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if max == math.MaxInt64 {
		return time.Duration(c.rng.Int64())
	}
	return time.Duration(c.rng.Int64N(int64(max) + 1))
}

func fromSeconds(secs float64) time.Duration {
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	ns := secs * float64(time.Second)
	if ns >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(math.Round(ns))
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

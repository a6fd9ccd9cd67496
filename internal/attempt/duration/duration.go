// Package duration parses human-written durations such as "1h30m", "500ms",
// "1.5h" or a bare "5" (seconds).
package duration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var units = map[string]time.Duration{
	"h":   time.Hour,
	"hr":  time.Hour,
	"m":   time.Minute,
	"min": time.Minute,
	"s":   time.Second,
	"ms":  time.Millisecond,
	"ns":  time.Nanosecond,
}

// Parse sums one or more <number><unit> tokens. A string that is only a
// number is read as seconds. Once any token carries a unit, all must.
func Parse(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("invalid duration %q: empty time string", s)
	}
	if isNumber(rest) {
		return scale(s, rest, time.Second)
	}

	var total time.Duration
	for rest != "" {
		n := strings.IndexFunc(rest, func(r rune) bool { return !isNumberRune(r) })
		if n < 0 {
			return 0, fmt.Errorf("invalid duration %q: if any time value has a unit, all must have units", s)
		}
		num := rest[:n]
		rest = strings.TrimLeftFunc(rest[n:], unicode.IsSpace)

		u := strings.IndexFunc(rest, func(r rune) bool { return isNumberRune(r) || unicode.IsSpace(r) })
		if u < 0 {
			u = len(rest)
		}
		unit := rest[:u]
		rest = strings.TrimLeftFunc(rest[u:], unicode.IsSpace)

		if num == "" {
			return 0, fmt.Errorf("invalid duration %q: missing number before %q", s, unit)
		}
		if unit == "" {
			return 0, fmt.Errorf("invalid duration %q: if any time value has a unit, all must have units", s)
		}
		scaleBy, ok := units[unit]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit of time %q", s, unit)
		}
		d, err := scale(s, num, scaleBy)
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-d {
			return 0, fmt.Errorf("invalid duration %q: too large", s)
		}
		total += d
	}
	return total, nil
}

func scale(input, num string, unit time.Duration) (time.Duration, error) {
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: invalid number %q", input, num)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be >= 0", input)
	}
	v := f * float64(unit)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid duration %q: too large", input)
	}
	return time.Duration(math.Round(v)), nil
}

func isNumber(s string) bool {
	for _, r := range s {
		if !isNumberRune(r) {
			return false
		}
	}
	return s != ""
}

func isNumberRune(r rune) bool {
	return (r >= '0' && r <= '9') || r == '.'
}

// Format renders d in the most compact unit that keeps two decimals of
// precision for sub-second values.
func Format(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2f seconds", d.Seconds())
	}
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}

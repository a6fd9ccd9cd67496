// Package pattern parses and matches sets of exit status codes and signal
// numbers, written as comma separated values and inclusive ranges such as
// "1..5,10,15..20".
package pattern

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinCode = 0
	MaxCode = 255
)

// Range is an inclusive range of codes.
type Range struct {
	Lo int
	Hi int
}

func (r Range) String() string {
	if r.Lo == r.Hi {
		return strconv.Itoa(r.Lo)
	}
	return fmt.Sprintf("%d..%d", r.Lo, r.Hi)
}

// CodePattern is an ordered set of inclusive ranges over [0,255]. The zero
// value matches nothing.
type CodePattern struct {
	ranges []Range
	table  [MaxCode + 1]bool
}

// ParseError describes why a pattern could not be parsed. Index is the byte
// offset of the offending item within Input.
type ParseError struct {
	Input  string
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q at offset %d: %s", e.Input, e.Index, e.Reason)
}

// Parse parses a pattern. Empty items ("1,,2", trailing commas) are ignored,
// but at least one value is required.
func Parse(s string) (*CodePattern, error) {
	p := &CodePattern{}
	offset := 0
	for _, item := range strings.Split(s, ",") {
		start := offset
		offset += len(item) + 1
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		idx := start + strings.Index(item, trimmed)
		r, reason := parseItem(trimmed)
		if reason != "" {
			return nil, &ParseError{Input: s, Index: idx, Reason: reason}
		}
		p.add(r)
	}
	if len(p.ranges) == 0 {
		return nil, &ParseError{Input: s, Index: 0, Reason: "pattern cannot be empty"}
	}
	return p, nil
}

// MustParse is Parse for patterns known to be valid.
func MustParse(s string) *CodePattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseItem(item string) (Range, string) {
	lo, hi, isRange := strings.Cut(item, "..")
	if !isRange {
		if strings.Contains(item, ".") {
			return Range{}, "ranges use two dots (..)"
		}
		v, reason := parseCode(item)
		if reason != "" {
			return Range{}, reason
		}
		return Range{Lo: v, Hi: v}, ""
	}
	lo = strings.TrimSpace(lo)
	hi = strings.TrimSpace(hi)
	switch {
	case lo == "":
		return Range{}, "range has no beginning"
	case hi == "":
		return Range{}, "range has no end"
	case strings.Contains(hi, "."):
		return Range{}, "ranges can only be between 2 numbers"
	}
	l, reason := parseCode(lo)
	if reason != "" {
		return Range{}, reason
	}
	h, reason := parseCode(hi)
	if reason != "" {
		return Range{}, reason
	}
	r := Range{Lo: l, Hi: h}
	return r, validateRange(r)
}

func parseCode(s string) (int, string) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, "must be digits, commas, periods, or whitespace"
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < MinCode || v > MaxCode {
		return 0, fmt.Sprintf("value must be in the range [%d, %d]", MinCode, MaxCode)
	}
	return v, ""
}

func validateRange(r Range) string {
	if r.Lo < MinCode || r.Hi > MaxCode {
		return fmt.Sprintf("value must be in the range [%d, %d]", MinCode, MaxCode)
	}
	if r.Lo > r.Hi {
		return fmt.Sprintf("range start %d is greater than its end %d", r.Lo, r.Hi)
	}
	return ""
}

func (p *CodePattern) add(r Range) {
	p.ranges = append(p.ranges, r)
	for c := r.Lo; c <= r.Hi; c++ {
		p.table[c] = true
	}
}

// Contains reports whether code lies in any of the pattern's ranges. Codes
// outside [0,255] never match.
func (p *CodePattern) Contains(code int) bool {
	if p == nil || code < MinCode || code > MaxCode {
		return false
	}
	return p.table[code]
}

// Ranges returns the ranges in the order they were written.
func (p *CodePattern) Ranges() []Range {
	if p == nil {
		return nil
	}
	out := make([]Range, len(p.ranges))
	copy(out, p.ranges)
	return out
}

func (p *CodePattern) String() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.ranges))
	for _, r := range p.ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

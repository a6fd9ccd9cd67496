package pattern

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

func TestParse_SingleCode(t *testing.T) {
	p, err := Parse("1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.Contains(1) {
		t.Fatalf("expected 1 to match")
	}
	if p.Contains(0) || p.Contains(2) {
		t.Fatalf("expected only 1 to match, got %s", p)
	}
}

func TestParse_SeveralCodesAndRanges(t *testing.T) {
	p, err := Parse(" 1..5, 10 ,15 .. 20,")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Range{{1, 5}, {10, 10}, {15, 20}}
	got := p.Ranges()
	if len(got) != len(want) {
		t.Fatalf("ranges: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d: got %v want %v", i, got[i], want[i])
		}
	}
	for c := 0; c <= MaxCode; c++ {
		in := (c >= 1 && c <= 5) || c == 10 || (c >= 15 && c <= 20)
		if p.Contains(c) != in {
			t.Fatalf("Contains(%d) = %v, want %v", c, p.Contains(c), in)
		}
	}
	if p.String() != "1..5,10,15..20" {
		t.Fatalf("String: got %q", p.String())
	}
}

func TestParse_EveryCodeMatchesItselfOnly(t *testing.T) {
	for c := MinCode; c <= MaxCode; c++ {
		p, err := Parse(strconv.Itoa(c))
		if err != nil {
			t.Fatalf("Parse(%d): %v", c, err)
		}
		if !p.Contains(c) {
			t.Fatalf("pattern %s should contain %d", p, c)
		}
		other := (c + 1) % (MaxCode + 1)
		if p.Contains(other) {
			t.Fatalf("pattern %s should not contain %d", p, other)
		}
	}
}

func TestParse_FullRange(t *testing.T) {
	p := MustParse("0..255")
	for c := MinCode; c <= MaxCode; c++ {
		if !p.Contains(c) {
			t.Fatalf("0..255 should contain %d", c)
		}
	}
	if p.Contains(-1) || p.Contains(256) {
		t.Fatalf("codes outside [0,255] must never match")
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"":        "empty",
		" , ,":    "empty",
		"256":     "range [0, 255]",
		"1..300":  "range [0, 255]",
		"5..1":    "greater than its end",
		"1.3":     "two dots",
		"1...3":   "between 2 numbers",
		"1..2..3": "between 2 numbers",
		"..3":     "no beginning",
		"3..":     "no end",
		"1 2":     "digits",
		"abc":     "digits",
		"-1":      "digits",
	}
	for in, wantFragment := range cases {
		_, err := Parse(in)
		if err == nil {
			t.Fatalf("Parse(%q): expected error", in)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q): expected *ParseError, got %T", in, err)
		}
		if !strings.Contains(err.Error(), wantFragment) {
			t.Fatalf("Parse(%q): error %q does not mention %q", in, err, wantFragment)
		}
	}
}

func TestParseError_IndexPointsAtItem(t *testing.T) {
	_, err := Parse("1, 2, 300")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Index != 6 {
		t.Fatalf("index: got %d want 6", pe.Index)
	}
}

func TestNilPatternMatchesNothing(t *testing.T) {
	var p *CodePattern
	if p.Contains(0) {
		t.Fatalf("nil pattern must not match")
	}
}

package duration

import (
	"testing"
	"time"
)

func TestParse_Units(t *testing.T) {
	cases := map[string]time.Duration{
		"5":      5 * time.Second,
		"5s":     5 * time.Second,
		"5m":     5 * time.Minute,
		"5min":   5 * time.Minute,
		"1h":     time.Hour,
		"1hr":    time.Hour,
		"500ms":  500 * time.Millisecond,
		"1000ns": time.Microsecond,
		"0":      0,
		"0.05":   50 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q): got %v want %v", in, got, want)
		}
	}
}

func TestParse_MultipleComponents(t *testing.T) {
	cases := map[string]time.Duration{
		"1h30m":         90 * time.Minute,
		"1h30m10s":      90*time.Minute + 10*time.Second,
		"1h 30m":        90 * time.Minute,
		"1hr 30min 10s": 90*time.Minute + 10*time.Second,
		"  1h  30m  ":   90 * time.Minute,
		"1.5h":          90 * time.Minute,
		"1.5h 30m":      2 * time.Hour,
		"1s500ms":       1500 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q): got %v want %v", in, got, want)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"10 20 30",
		"1h 30",
		"5 10m",
		"1h 2m 30",
		"abch",
		"1h abc",
		"1.xyz.222h",
		"2y",
		"1h2y",
		"-5s",
		".",
		"99999999999h",
	} {
		if d, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q): expected error, got %v", in, d)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1500 * time.Millisecond); got != "1.50 seconds" {
		t.Fatalf("Format(1.5s) = %q", got)
	}
	if got := Format(250 * time.Millisecond); got != "250 milliseconds" {
		t.Fatalf("Format(250ms) = %q", got)
	}
}

package engine

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/MaxBondABE/attempt/internal/attempt/outcome"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
)

type EventKind string

const (
	EventRunStarted        EventKind = "run_started"
	EventStaggerScheduled  EventKind = "stagger_scheduled"
	EventAttemptStarted    EventKind = "attempt_started"
	EventOutcomeClassified EventKind = "outcome_classified"
	EventDecisionMade      EventKind = "decision_made"
	EventWaitScheduled     EventKind = "wait_scheduled"
	EventRunFinished       EventKind = "run_finished"
)

// Event is one lifecycle notification. Attempt is 1-based; zero means the
// event is not tied to an attempt.
type Event struct {
	Kind    EventKind `json:"event"`
	RunID   string    `json:"run_id"`
	TS      time.Time `json:"ts"`
	Attempt int       `json:"attempt,omitempty"`

	Command []string `json:"command,omitempty"`
	Budget  string   `json:"budget,omitempty"`

	Outcome      *outcome.Outcome `json:"outcome,omitempty"`
	PID          int              `json:"pid,omitempty"`
	DurationMS   int64            `json:"duration_ms,omitempty"`
	StdoutBLAKE3 string           `json:"stdout_blake3,omitempty"`
	StderrBLAKE3 string           `json:"stderr_blake3,omitempty"`

	Decision  policy.Decision `json:"decision,omitempty"`
	Predicate string          `json:"predicate,omitempty"`

	Wait time.Duration `json:"wait_ns,omitempty"`

	Reason   Reason `json:"reason,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`

	// Detail is the human-readable explanation of a decision.
	Detail string `json:"detail,omitempty"`
}

// EventSink receives events in emission order from the attempt loop's
// goroutine.
type EventSink interface {
	Emit(Event)
}

// MultiSink fans each event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the recorded event kinds in order.
func (r *Recorder) Kinds() []EventKind {
	evs := r.Events()
	out := make([]EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

// digest returns the hex BLAKE3 sum of a captured stream, or "" when the
// stream was not captured.
func digest(b []byte, captured bool) string {
	if !captured {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

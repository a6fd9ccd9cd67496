package runner

import (
	"time"
)

type Phase int

const (
	// PhaseGrace covers the expected runtime, which does not count against
	// the deadline.
	PhaseGrace Phase = iota
	// PhaseArmed covers the deadline proper.
	PhaseArmed
)

const (
	GracePollDelay = 60 * time.Second
	ArmedPollBase  = 10 * time.Millisecond
	ArmedPollMax   = 15 * time.Second
)

// PollDelay returns the untruncated delay before the n-th poll (from 0) of a
// phase: constant during grace, doubling from 10ms up to 15s once armed.
func PollDelay(phase Phase, n int) time.Duration {
	if phase == PhaseGrace {
		return GracePollDelay
	}
	if n < 0 {
		n = 0
	}
	d := ArmedPollBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ArmedPollMax {
			return ArmedPollMax
		}
	}
	return d
}

// PollSchedule tracks one attempt's deadline: max duration measured from the
// end of the expected runtime.
type PollSchedule struct {
	start    time.Time
	expected time.Duration
	max      time.Duration
	n        int
}

func NewPollSchedule(start time.Time, max, expected time.Duration) *PollSchedule {
	if expected < 0 {
		expected = 0
	}
	return &PollSchedule{start: start, expected: expected, max: max}
}

// Deadline is the instant past which the child is terminated.
func (s *PollSchedule) Deadline() time.Time {
	return s.start.Add(s.expected).Add(s.max)
}

// Next returns how long to wait before checking again. ok is false once the
// deadline has passed.
func (s *PollSchedule) Next(now time.Time) (delay time.Duration, ok bool) {
	graceEnd := s.start.Add(s.expected)
	if now.Before(graceEnd) {
		return min(PollDelay(PhaseGrace, 0), graceEnd.Sub(now)), true
	}
	remaining := s.Deadline().Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	d := min(PollDelay(PhaseArmed, s.n), remaining)
	s.n++
	return d, true
}

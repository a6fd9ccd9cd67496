// Package outcome normalizes how a child process terminated into an Outcome.
package outcome

import "os"

// Termination is the raw shape of a finished child as observed by the runner.
type Termination struct {
	ExitCode int
	Signaled bool
	Signal   int

	// ViaTimeout is set when the runner signaled the child because its
	// deadline expired. SentSignal is the first signal it delivered.
	ViaTimeout bool
	SentSignal int
}

// FromProcessState extracts a Termination from a reaped process.
func FromProcessState(ps *os.ProcessState) Termination {
	if ps == nil {
		return Termination{ExitCode: -1}
	}
	if sig, ok := terminatingSignal(ps); ok {
		return Termination{Signaled: true, Signal: sig}
	}
	return Termination{ExitCode: ps.ExitCode()}
}

// Classify maps a raw termination to an Outcome. A timed-out child is
// reported as killed by a signal even when it trapped the signal and exited
// with a status of its own.
func Classify(t Termination) (Outcome, error) {
	o := classify(t)
	if err := o.Validate(); err != nil {
		return Outcome{}, err
	}
	return o, nil
}

func classify(t Termination) Outcome {
	if SignalsSupported {
		switch {
		case t.ViaTimeout && t.Signaled:
			return KilledBySignal(t.Signal, true)
		case t.ViaTimeout:
			return KilledBySignal(t.SentSignal, true)
		case t.Signaled:
			return KilledBySignal(t.Signal, false)
		}
	}
	if t.ExitCode == 0 {
		return Success()
	}
	return FailedStatus(t.ExitCode)
}

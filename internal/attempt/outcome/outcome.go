package outcome

import (
	"fmt"

	"github.com/MaxBondABE/attempt/internal/attempt/pattern"
)

type Kind string

const (
	KindSuccess        Kind = "success"
	KindFailedStatus   Kind = "failed_status"
	KindKilledBySignal Kind = "killed_by_signal"
)

// Outcome is the normalized result of one attempt. Exactly one variant is
// populated: Status is set only for KindFailedStatus, Signal and ViaTimeout
// only for KindKilledBySignal.
type Outcome struct {
	Kind       Kind `json:"kind"`
	Status     int  `json:"status,omitempty"`
	Signal     int  `json:"signal,omitempty"`
	ViaTimeout bool `json:"via_timeout,omitempty"`
}

func Success() Outcome {
	return Outcome{Kind: KindSuccess}
}

func FailedStatus(code int) Outcome {
	return Outcome{Kind: KindFailedStatus, Status: code}
}

func KilledBySignal(signal int, viaTimeout bool) Outcome {
	return Outcome{Kind: KindKilledBySignal, Signal: signal, ViaTimeout: viaTimeout}
}

func (o Outcome) IsSuccess() bool { return o.Kind == KindSuccess }

func (o Outcome) IsKilled() bool { return o.Kind == KindKilledBySignal }

// ExitStatus returns the status code for a FailedStatus outcome, and 0 for
// Success. ok is false for signal terminations.
func (o Outcome) ExitStatus() (code int, ok bool) {
	switch o.Kind {
	case KindSuccess:
		return 0, true
	case KindFailedStatus:
		return o.Status, true
	default:
		return 0, false
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return "success"
	case KindFailedStatus:
		return fmt.Sprintf("exit status %d", o.Status)
	case KindKilledBySignal:
		if o.ViaTimeout {
			return fmt.Sprintf("killed by signal %d (timeout)", o.Signal)
		}
		return fmt.Sprintf("killed by signal %d", o.Signal)
	default:
		return fmt.Sprintf("unknown outcome %q", string(o.Kind))
	}
}

// Validate checks the variant invariants.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindSuccess:
		if o.Status != 0 || o.Signal != 0 || o.ViaTimeout {
			return fmt.Errorf("success outcome carries status or signal data")
		}
	case KindFailedStatus:
		if o.Status == 0 {
			return fmt.Errorf("failed_status outcome must have a non-zero status")
		}
		if !inCodeRange(o.Status) {
			return fmt.Errorf("status %d outside [%d, %d]", o.Status, pattern.MinCode, pattern.MaxCode)
		}
		if o.Signal != 0 || o.ViaTimeout {
			return fmt.Errorf("failed_status outcome carries signal data")
		}
	case KindKilledBySignal:
		if !inCodeRange(o.Signal) {
			return fmt.Errorf("signal %d outside [%d, %d]", o.Signal, pattern.MinCode, pattern.MaxCode)
		}
		if o.Status != 0 {
			return fmt.Errorf("killed_by_signal outcome carries a status")
		}
	default:
		return fmt.Errorf("invalid outcome kind: %q", string(o.Kind))
	}
	return nil
}

func inCodeRange(v int) bool {
	return v >= pattern.MinCode && v <= pattern.MaxCode
}

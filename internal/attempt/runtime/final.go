package runtime

import (
	"fmt"
	"time"
)

type FinalStatus string

const (
	FinalSuccess FinalStatus = "success"
	FinalFail    FinalStatus = "fail"
)

// FinalOutcome is the terminal record of a run, written to final.json.
type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID    string `json:"run_id"`
	Attempts int    `json:"attempts"`
	ExitCode int    `json:"exit_code"`
	Reason   string `json:"reason"`

	FailureReason string `json:"failure_reason,omitempty"`
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	return WriteJSONAtomicFile(path, fo)
}

package runtime

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MaxBondABE/attempt/internal/attempt/procutil"
)

type State string

const (
	StateUnknown State = "unknown"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFail    State = "fail"
)

// Snapshot is a compact view of a run reconstructed from its logs root.
type Snapshot struct {
	LogsRoot      string    `json:"logs_root"`
	RunID         string    `json:"run_id,omitempty"`
	State         State     `json:"state"`
	LastEvent     string    `json:"last_event,omitempty"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
	Attempt       int       `json:"attempt,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	PID           int       `json:"pid,omitempty"`
	PIDAlive      bool      `json:"pid_alive"`
}

// LoadSnapshot reads run artifacts in logsRoot. A terminal final.json wins
// over live.json and progress.ndjson, which are best-effort activity feeds.
func LoadSnapshot(logsRoot string) (*Snapshot, error) {
	root := strings.TrimSpace(logsRoot)
	if root == "" {
		return nil, fmt.Errorf("logs root is required")
	}
	s := &Snapshot{LogsRoot: root, State: StateUnknown}

	if err := applyFinalOutcome(s); err != nil {
		return nil, err
	}
	terminal := s.State == StateSuccess || s.State == StateFail
	if !terminal {
		if err := applyLiveOrProgress(s); err != nil {
			return nil, err
		}
	}
	if err := applyPIDFile(s, terminal); err != nil {
		return nil, err
	}
	if s.State == StateUnknown && s.PIDAlive {
		s.State = StateRunning
	}
	return s, nil
}

func applyFinalOutcome(s *Snapshot) error {
	path := filepath.Join(s.LogsRoot, FinalFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var doc FinalOutcome
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	s.RunID = strings.TrimSpace(doc.RunID)
	s.Attempt = doc.Attempts
	s.Reason = doc.Reason
	if !doc.Timestamp.IsZero() {
		s.LastEventAt = doc.Timestamp
	}
	switch doc.Status {
	case FinalSuccess:
		s.State = StateSuccess
	case FinalFail:
		s.State = StateFail
		s.FailureReason = strings.TrimSpace(doc.FailureReason)
	default:
		return nil
	}
	code := doc.ExitCode
	s.ExitCode = &code
	return nil
}

// eventRecord is the subset of a progress event the snapshot reads. It
// mirrors the engine's JSON field names.
type eventRecord struct {
	Event   string    `json:"event"`
	RunID   string    `json:"run_id"`
	TS      time.Time `json:"ts"`
	Attempt int       `json:"attempt"`
}

func applyLiveOrProgress(s *Snapshot) error {
	ev, found, err := readLiveEvent(filepath.Join(s.LogsRoot, LiveFile))
	if err != nil {
		return err
	}
	if !found {
		ev, found, err = readLastProgressEvent(filepath.Join(s.LogsRoot, ProgressFile))
		if err != nil {
			return err
		}
	}
	if !found {
		return nil
	}
	s.RunID = strings.TrimSpace(ev.RunID)
	s.LastEvent = strings.TrimSpace(ev.Event)
	s.Attempt = ev.Attempt
	s.LastEventAt = ev.TS
	return nil
}

func applyPIDFile(s *Snapshot, terminal bool) error {
	path := filepath.Join(s.LogsRoot, PIDFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	raw := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		if terminal {
			return nil
		}
		return fmt.Errorf("parse %s: invalid pid %q", path, raw)
	}
	s.PID = pid
	s.PIDAlive = procutil.PIDAlive(pid)
	return nil
}

func readLiveEvent(path string) (eventRecord, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return eventRecord{}, false, nil
		}
		return eventRecord{}, false, err
	}
	return decodeEvent(path, b)
}

// readLastProgressEvent scans the NDJSON feed for its last non-blank line.
func readLastProgressEvent(path string) (eventRecord, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return eventRecord{}, false, nil
		}
		return eventRecord{}, false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	var last []byte
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := sc.Err(); err != nil {
		return eventRecord{}, false, err
	}
	if len(last) == 0 {
		return eventRecord{}, false, nil
	}
	return decodeEvent(path, last)
}

func decodeEvent(path string, b []byte) (eventRecord, bool, error) {
	var ev eventRecord
	if err := json.Unmarshal(b, &ev); err != nil {
		return eventRecord{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return ev, true, nil
}

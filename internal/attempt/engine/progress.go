package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/MaxBondABE/attempt/internal/attempt/runtime"
)

// ProgressSink appends every event to logsRoot/progress.ndjson and mirrors
// the latest one to logsRoot/live.json.
type ProgressSink struct {
	logsRoot string

	mu  sync.Mutex
	f   *os.File
	err error
}

func NewProgressSink(logsRoot string) (*ProgressSink, error) {
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logsRoot, runtime.ProgressFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &ProgressSink{logsRoot: logsRoot, f: f}, nil
}

// Emit never fails the run; the first write error is kept for Err.
func (s *ProgressSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.keep(err)
		return
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		s.keep(err)
	}
	if err := runtime.WriteFileAtomic(filepath.Join(s.logsRoot, runtime.LiveFile), append(b, '\n')); err != nil {
		s.keep(err)
	}
}

func (s *ProgressSink) keep(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *ProgressSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ProgressSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return s.err
	}
	err := s.f.Close()
	s.f = nil
	if s.err != nil {
		return s.err
	}
	return err
}

// Package runtime owns the on-disk artifacts of a run under its logs root.
package runtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

const (
	PIDFile      = "run.pid"
	ProgressFile = "progress.ndjson"
	LiveFile     = "live.json"
	FinalFile    = "final.json"
)

// WriteFileAtomic replaces path with b so readers never see a partial file.
func WriteFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func WriteJSONAtomicFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(b, '\n'))
}

// WritePIDFile records the supervising process in logsRoot/run.pid.
func WritePIDFile(logsRoot string, pid int) error {
	return WriteFileAtomic(filepath.Join(logsRoot, PIDFile), []byte(strconv.Itoa(pid)+"\n"))
}

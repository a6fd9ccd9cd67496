// Package procutil delivers signals to attempt children and inspects their
// liveness.
package procutil

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrExited is returned by Signal when the child exited before the signal
// could be delivered.
var ErrExited = errors.New("process already exited")

// ProcFSAvailable reports whether procfs is available for process introspection.
func ProcFSAvailable() bool {
	_, err := os.Stat("/proc/self/stat")
	return err == nil
}

// PIDZombie reports whether pid has exited but not yet been reaped.
func PIDZombie(pid int) bool {
	state, ok := processState(pid)
	return ok && (state == 'Z' || state == 'X')
}

// processState returns the one-letter scheduler state of pid, from procfs
// when mounted and from ps(1) otherwise.
func processState(pid int) (byte, bool) {
	if pid <= 0 {
		return 0, false
	}
	if ProcFSAvailable() {
		b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
		if err != nil {
			return 0, false
		}
		return statState(string(b))
	}
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, false
	}
	return s[0], true
}

// statState reads the field after the parenthesized command name of a
// /proc/<pid>/stat line. The name itself may contain ')'.
func statState(line string) (byte, bool) {
	i := strings.LastIndexByte(line, ')')
	if i < 0 || i+2 >= len(line) {
		return 0, false
	}
	return line[i+2], true
}

//go:build !unix

package procutil

import (
	"errors"
	"os"
	"os/exec"
)

// Without signal delivery both escalation steps terminate the process.
const (
	SIGTERM = 15
	SIGKILL = 9
)

func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

func Setup(cmd *exec.Cmd, group bool) {}

func Signal(cmd *exec.Cmd, sig int, group bool) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrExited
		}
		return err
	}
	return nil
}

//go:build unix

package procutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const (
	SIGTERM = int(syscall.SIGTERM)
	SIGKILL = int(syscall.SIGKILL)
)

// PIDAlive reports whether a process exists and is not a zombie.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if PIDZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Setup prepares cmd before Start. With group set the child leads a new
// process group so Signal can reach its descendants.
func Setup(cmd *exec.Cmd, group bool) {
	if group {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
}

// Signal delivers sig to the started child, or to its whole process group
// when group is set. A process that is already gone yields ErrExited.
func Signal(cmd *exec.Cmd, sig int, group bool) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if group {
		return killProcessGroup(cmd, syscall.Signal(sig))
	}
	if err := cmd.Process.Signal(syscall.Signal(sig)); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return ErrExited
		}
		return err
	}
	return nil
}

func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrExited
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrExited
		}
		return err
	}
	return nil
}

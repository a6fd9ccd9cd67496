//go:build unix

package outcome

import (
	"os"
	"syscall"
)

// SignalsSupported reports whether children can terminate by signal on this
// platform.
const SignalsSupported = true

func terminatingSignal(ps *os.ProcessState) (int, bool) {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}

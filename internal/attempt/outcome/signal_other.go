//go:build !unix

package outcome

import "os"

// SignalsSupported reports whether children can terminate by signal on this
// platform. Without it KilledBySignal is never produced and the Signal and
// Killed predicates never match.
const SignalsSupported = false

func terminatingSignal(*os.ProcessState) (int, bool) {
	return 0, false
}

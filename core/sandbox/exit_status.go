//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// exitCode reports the shell-convention exit code, mapping a signal death
// to 128+signal so resource kills by the kernel are distinguishable.
func exitCode(cmd *exec.Cmd) int {
	state := cmd.ProcessState
	if state == nil {
		return -1
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

//go:build !windows

package sandbox

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// ============================================================================
// Process Group Management
// ============================================================================

// ProcessGroup places a child process in its own process group so that
// signals reach the whole tree, including any workers the tool script
// spawns. Must be set up before the command starts.
type ProcessGroup struct {
	mu     sync.Mutex
	pgid   int
	killed bool
}

// Setup configures cmd to start in a new process group.
func (pg *ProcessGroup) Setup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Register records the group id once the command has started.
func (pg *ProcessGroup) Register(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return fmt.Errorf("getpgid failed: %w", err)
	}

	pg.mu.Lock()
	pg.pgid = pgid
	pg.mu.Unlock()
	return nil
}

// Signal delivers sig to every process in the group.
func (pg *ProcessGroup) Signal(sig syscall.Signal) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.pgid == 0 || pg.killed {
		return nil
	}
	return syscall.Kill(-pg.pgid, sig)
}

// Kill sends SIGKILL to the group and marks it dead.
func (pg *ProcessGroup) Kill() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.pgid == 0 || pg.killed {
		return nil
	}
	pg.killed = true
	return syscall.Kill(-pg.pgid, syscall.SIGKILL)
}

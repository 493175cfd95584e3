//go:build windows

package sandbox

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// ProcessGroup on Windows falls back to signalling the direct child;
// grandchildren spawned by a tool script are not tracked.
type ProcessGroup struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool
}

func (pg *ProcessGroup) Setup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	pg.cmd = cmd
}

func (pg *ProcessGroup) Register(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	pg.mu.Lock()
	pg.cmd = cmd
	pg.mu.Unlock()
	return nil
}

func (pg *ProcessGroup) Signal(sig syscall.Signal) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.killed || pg.cmd == nil || pg.cmd.Process == nil {
		return nil
	}
	return pg.cmd.Process.Signal(sig)
}

func (pg *ProcessGroup) Kill() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.killed || pg.cmd == nil || pg.cmd.Process == nil {
		return nil
	}
	pg.killed = true
	return pg.cmd.Process.Kill()
}

package sandbox

import (
	"syscall"
	"time"
)

// ============================================================================
// Graceful Kill Escalation
// ============================================================================

// KillResult records which signals were needed to stop a process group.
type KillResult struct {
	SentSIGINT  bool
	SentSIGTERM bool
	SentSIGKILL bool
	ExitedAfter string
	Duration    time.Duration
}

// killSequence escalates SIGINT, then SIGTERM, then SIGKILL against a
// process group, giving the tool a grace window after each signal to
// flush partial outputs before it is forced down.
type killSequence struct {
	sigintGrace  time.Duration
	sigtermGrace time.Duration
}

func newKillSequence(sigintGrace, sigtermGrace time.Duration) *killSequence {
	if sigintGrace <= 0 {
		sigintGrace = 2 * time.Second
	}
	if sigtermGrace <= 0 {
		sigtermGrace = 2 * time.Second
	}
	return &killSequence{
		sigintGrace:  sigintGrace,
		sigtermGrace: sigtermGrace,
	}
}

// Execute runs the escalation. exited must close when the process has
// been reaped; the sequence stops escalating as soon as that happens.
func (ks *killSequence) Execute(pg *ProcessGroup, exited <-chan struct{}) KillResult {
	start := time.Now()
	result := KillResult{}

	result.SentSIGINT = true
	pg.Signal(syscall.SIGINT)
	if waitOrTimeout(exited, ks.sigintGrace) {
		result.ExitedAfter = "SIGINT"
		result.Duration = time.Since(start)
		return result
	}

	result.SentSIGTERM = true
	pg.Signal(syscall.SIGTERM)
	if waitOrTimeout(exited, ks.sigtermGrace) {
		result.ExitedAfter = "SIGTERM"
		result.Duration = time.Since(start)
		return result
	}

	result.SentSIGKILL = true
	pg.Kill()
	<-exited
	result.ExitedAfter = "SIGKILL"
	result.Duration = time.Since(start)
	return result
}

func waitOrTimeout(exited <-chan struct{}, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}

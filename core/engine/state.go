package engine

// ============================================================================
// Loop States
// ============================================================================

// LoopState is where a project's orchestration loop currently sits. Exactly
// one loop exists per project; the state is observational, the turn latch in
// the project manager is what actually serializes work.
type LoopState int

const (
	// StateAwaitingUser means the loop is idle, waiting for input.
	StateAwaitingUser LoopState = iota
	// StateModelThinking means a provider call is in flight.
	StateModelThinking
	// StateToolDispatch means tool invocations are executing.
	StateToolDispatch
	// StateResponding means a final assistant turn is being committed.
	StateResponding
	// StateRecovering means a tool failed and the model is being re-asked.
	StateRecovering
)

var loopStateNames = map[LoopState]string{
	StateAwaitingUser:  "awaiting_user",
	StateModelThinking: "model_thinking",
	StateToolDispatch:  "tool_dispatch",
	StateResponding:    "responding",
	StateRecovering:    "recovering",
}

func (s LoopState) String() string {
	if name, ok := loopStateNames[s]; ok {
		return name
	}
	return "unknown"
}

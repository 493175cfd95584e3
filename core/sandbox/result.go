package sandbox

import (
	"time"

	"github.com/adalundhe/ascent/core/artifacts"
	"github.com/adalundhe/ascent/core/tools"
)

// ============================================================================
// Execution Results
// ============================================================================

// FailureKind classifies why an execution failed. The orchestrator folds
// the kind into the tool result turn so the model can decide whether to
// retry, repair its arguments, or surface the failure to the user.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDependencyMissing
	FailureRuntimeError
	FailureTimeout
	FailureResourceExhausted
	FailureCancelled
)

var failureKindNames = map[FailureKind]string{
	FailureNone:              "none",
	FailureDependencyMissing: "dependency_missing",
	FailureRuntimeError:      "runtime_error",
	FailureTimeout:           "timeout",
	FailureResourceExhausted: "resource_exhausted",
	FailureCancelled:         "cancelled",
}

func (k FailureKind) String() string {
	if name, ok := failureKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ExecutionResult is what an invocation produced. Artifacts maps each
// declared output name to the version the store assigned when the output
// was collected. Stdout and Stderr are bounded captures.
type ExecutionResult struct {
	Status    tools.InvocationStatus
	Kind      FailureKind
	Summary   string
	Stdout    string
	Stderr    string
	Artifacts map[string]artifacts.Artifact
	Figures   []string
	Tables    map[string]string
	Duration  time.Duration
	Cached    bool
}

// Failed reports whether the execution ended in any failure kind.
func (r *ExecutionResult) Failed() bool {
	return r.Kind != FailureNone
}

// response is the structured reply a tool script writes to response.json
// inside its scratch directory. Everything is optional; a tool that only
// writes its declared outputs still succeeds.
type response struct {
	Summary string            `json:"summary,omitempty"`
	Tables  map[string]string `json:"tables,omitempty"`
	Figures []string          `json:"figures,omitempty"`
}

// request is the structured job description handed to a tool script as
// its single argument. Input paths are relative to the scratch directory.
type request struct {
	Tool         string               `json:"tool"`
	Arguments    map[string]any       `json:"arguments"`
	Inputs       map[string]inputSpec `json:"inputs,omitempty"`
	Outputs      map[string]string    `json:"outputs,omitempty"`
	AllowNetwork bool                 `json:"allow_network"`
}

type inputSpec struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Hash    string `json:"hash"`
}

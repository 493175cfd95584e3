// Package project owns the durable per-project conversation state: the
// ordered turn history, the pipeline stage, and the artifact index. All
// mutation goes through the Manager, which persists write-through.
package project

import (
	"errors"
	"time"
)

// =============================================================================
// Pipeline Stage
// =============================================================================

// Stage is the phase of the data-science pipeline a project has reached.
// Stages only ever advance; they never regress automatically.
type Stage int

const (
	// StageIngest covers data upload and registration.
	StageIngest Stage = iota
	// StageExplore covers descriptive statistics and EDA.
	StageExplore
	// StageEngineer covers imputation and feature engineering.
	StageEngineer
	// StageModel covers AutoML model search and training.
	StageModel
	// StageExplain covers model explanation and reporting.
	StageExplain
	// StageDone marks a completed project.
	StageDone
)

var stageNames = map[Stage]string{
	StageIngest:   "ingest",
	StageExplore:  "explore",
	StageEngineer: "engineer",
	StageModel:    "model",
	StageExplain:  "explain",
	StageDone:     "done",
}

// String returns the string representation of a stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStage converts a stage name back to its Stage value.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return StageIngest, errors.New("unknown stage: " + name)
}

// =============================================================================
// Turns
// =============================================================================

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Visibility controls which views of the history a turn appears in. The full
// history always retains every turn for audit.
type Visibility string

const (
	// VisibilityAll shows the turn to both the user and the model.
	VisibilityAll Visibility = "all"
	// VisibilityUserOnly keeps the turn out of the model's context window.
	VisibilityUserOnly Visibility = "user_only"
	// VisibilityModelOnly keeps the turn out of the user transcript, e.g.
	// corrective turns synthesized after a schema violation.
	VisibilityModelOnly Visibility = "model_only"
)

// ToolCallRecord is the structured tool-call payload carried by an assistant
// turn, one entry per call requested by the model.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultRecord is the structured result payload carried by a tool turn.
type ToolResultRecord struct {
	CallID    string            `json:"call_id"`
	Tool      string            `json:"tool"`
	Status    string            `json:"status"`
	Summary   string            `json:"summary,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Excerpt   string            `json:"excerpt,omitempty"`
	Artifacts map[string]int    `json:"artifacts,omitempty"`
	Figures   []string          `json:"figures,omitempty"`
	Tables    map[string]string `json:"tables,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
}

// Turn is one exchange unit in a project's conversation. Turns are immutable
// once appended; ordering is by sequence number, not wall clock.
type Turn struct {
	// Seq is the 1-based position in the project history, assigned on append.
	Seq int `json:"seq"`

	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`

	ToolCalls  []ToolCallRecord  `json:"tool_calls,omitempty"`
	ToolResult *ToolResultRecord `json:"tool_result,omitempty"`

	// ProjectID back-references the owning project.
	ProjectID string `json:"project_id"`
}

// =============================================================================
// Project
// =============================================================================

// ArtifactRef records the latest known version of a named artifact in the
// project's artifact index.
type ArtifactRef struct {
	Name          string `json:"name"`
	LatestVersion int    `json:"latest_version"`
	ContentHash   string `json:"content_hash"`
}

// Project is a long-lived unit of conversational work.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stage     Stage     `json:"-"`
	StageName string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Profile names the provider backend profile this project uses.
	Profile string `json:"profile,omitempty"`

	// Params holds validated per-project engine parameters.
	Params map[string]string `json:"params,omitempty"`

	// Summary is the durable rolling summary of turns that have fallen out
	// of the model's context window.
	Summary string `json:"summary,omitempty"`

	Turns     []Turn                 `json:"turns"`
	Artifacts map[string]ArtifactRef `json:"artifacts,omitempty"`
}

// LastTurn returns the most recently appended turn.
func (p *Project) LastTurn() (Turn, bool) {
	if len(p.Turns) == 0 {
		return Turn{}, false
	}
	return p.Turns[len(p.Turns)-1], true
}

// =============================================================================
// Parameters
// =============================================================================

// ParamSpec declares one per-project engine parameter.
type ParamSpec struct {
	Name        string
	Default     string
	Description string
	// Enum restricts the value to a fixed set when non-empty.
	Enum []string
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrProjectNotFound indicates the project was not found.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists indicates a project with the same ID already exists.
	ErrProjectExists = errors.New("project already exists")

	// ErrConcurrentModification indicates a concurrent turn was rejected.
	// The caller must retry the whole turn.
	ErrConcurrentModification = errors.New("concurrent modification rejected")

	// ErrStageRegression indicates an attempt to move a stage backwards.
	ErrStageRegression = errors.New("pipeline stage cannot regress")

	// ErrUnknownParam indicates an engine parameter not declared by any spec.
	ErrUnknownParam = errors.New("unknown engine parameter")

	// ErrInvalidParamValue indicates an engine parameter value outside its
	// declared enum.
	ErrInvalidParamValue = errors.New("invalid engine parameter value")
)

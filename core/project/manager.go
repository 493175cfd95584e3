package project

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns all live projects. Turn appends are write-through: a
// successful Append has durably committed before it returns, and concurrent
// appends for the same project are rejected rather than interleaved.
type Manager struct {
	mu       sync.RWMutex
	projects map[string]*heldProject

	persister Persister
	params    []ParamSpec
	logger    *slog.Logger
}

// heldProject pairs a project with its turn latch. The latch serializes turn
// processing per project without blocking: a second writer is rejected.
type heldProject struct {
	turnMu  sync.Mutex
	project *Project
}

// ManagerConfig holds configuration for creating a Manager.
type ManagerConfig struct {
	// Persister stores project state durably. Required.
	Persister Persister

	// Params declares the engine parameters projects may set.
	Params []ParamSpec

	// Logger receives structured state-change logs.
	Logger *slog.Logger
}

// NewManager creates a project manager backed by the given persister.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Persister == nil {
		return nil, fmt.Errorf("project manager requires a persister")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		projects:  make(map[string]*heldProject),
		persister: cfg.Persister,
		params:    cfg.Params,
		logger:    logger,
	}, nil
}

// Create makes a new project at the ingest stage and persists it.
// Unknown parameters are rejected; missing ones get their declared defaults.
func (m *Manager) Create(name, profile string, params map[string]string) (*Project, error) {
	resolved, err := m.resolveParams(params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	proj := &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Stage:     StageIngest,
		StageName: StageIngest.String(),
		CreatedAt: now,
		UpdatedAt: now,
		Profile:   profile,
		Params:    resolved,
		Artifacts: make(map[string]ArtifactRef),
	}

	if err := m.persister.Save(proj); err != nil {
		return nil, fmt.Errorf("persist new project: %w", err)
	}

	m.mu.Lock()
	m.projects[proj.ID] = &heldProject{project: proj}
	m.mu.Unlock()

	m.logger.Info("project created", "project", proj.ID, "name", name, "profile", profile)
	return cloneProject(proj), nil
}

func (m *Manager) resolveParams(params map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(m.params))

	for key, value := range params {
		spec, ok := m.findParam(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParam, key)
		}
		if len(spec.Enum) > 0 && !containsString(spec.Enum, value) {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidParamValue, key, value)
		}
		resolved[key] = value
	}

	// Fill in declared defaults for anything the caller left out.
	for _, spec := range m.params {
		if _, ok := resolved[spec.Name]; !ok {
			resolved[spec.Name] = spec.Default
		}
	}

	return resolved, nil
}

func (m *Manager) findParam(name string) (ParamSpec, bool) {
	for _, spec := range m.params {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Append durably commits a turn to the project history. The sequence number
// is assigned here; turns are immutable afterwards. A concurrent Append for
// the same project fails with ErrConcurrentModification, and a persistence
// failure leaves the in-memory history untouched (all-or-nothing).
func (m *Manager) Append(projectID string, turn Turn) (Turn, error) {
	held, err := m.held(projectID)
	if err != nil {
		return Turn{}, err
	}

	if !held.turnMu.TryLock() {
		return Turn{}, ErrConcurrentModification
	}
	defer held.turnMu.Unlock()

	return m.appendLocked(held, turn)
}

// appendLocked requires the caller to hold the project's turn latch. It takes
// m.mu for the mutation and the write-through save so Snapshot and Window
// never observe a half-committed turn.
func (m *Manager) appendLocked(held *heldProject, turn Turn) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	proj := held.project

	turn.Seq = len(proj.Turns) + 1
	turn.ProjectID = proj.ID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if turn.Visibility == "" {
		turn.Visibility = VisibilityAll
	}

	proj.Turns = append(proj.Turns, turn)
	proj.UpdatedAt = time.Now().UTC()

	if err := m.persister.Save(proj); err != nil {
		proj.Turns = proj.Turns[:len(proj.Turns)-1]
		return Turn{}, fmt.Errorf("persist turn: %w", err)
	}

	return turn, nil
}

// BeginTurn claims the project's turn latch for a full orchestration cycle,
// so the loop can append several turns (assistant, tool, corrective) without
// another caller interleaving. The returned release function must be called
// on every exit path.
func (m *Manager) BeginTurn(projectID string) (func(), error) {
	held, err := m.held(projectID)
	if err != nil {
		return nil, err
	}

	if !held.turnMu.TryLock() {
		return nil, ErrConcurrentModification
	}

	var once sync.Once
	return func() { once.Do(held.turnMu.Unlock) }, nil
}

// AppendInTurn appends while the caller holds the latch from BeginTurn.
func (m *Manager) AppendInTurn(projectID string, turn Turn) (Turn, error) {
	held, err := m.held(projectID)
	if err != nil {
		return Turn{}, err
	}
	return m.appendLocked(held, turn)
}

// CurrentStage returns the project's pipeline stage.
func (m *Manager) CurrentStage(projectID string) (Stage, error) {
	held, err := m.held(projectID)
	if err != nil {
		return StageIngest, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return held.project.Stage, nil
}

// AdvanceStage moves the stage forward monotonically. Requests to move to an
// earlier or equal stage are ignored, never an error: tools from earlier
// stages remain usable at any time.
func (m *Manager) AdvanceStage(projectID string, target Stage) error {
	held, err := m.held(projectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	proj := held.project
	if target <= proj.Stage {
		m.mu.Unlock()
		return nil
	}
	previous := proj.Stage
	proj.Stage = target
	proj.StageName = target.String()
	proj.UpdatedAt = time.Now().UTC()

	if err := m.persister.Save(proj); err != nil {
		proj.Stage = previous
		proj.StageName = previous.String()
		m.mu.Unlock()
		return fmt.Errorf("persist stage change: %w", err)
	}
	m.mu.Unlock()

	m.logger.Info("stage advanced",
		"project", projectID, "from", previous.String(), "to", target.String())
	return nil
}

// RecordArtifact updates the project's artifact index with a new latest
// version for the named artifact.
func (m *Manager) RecordArtifact(projectID, name string, version int, hash string) error {
	held, err := m.held(projectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	proj := held.project
	if proj.Artifacts == nil {
		proj.Artifacts = make(map[string]ArtifactRef)
	}
	proj.Artifacts[name] = ArtifactRef{Name: name, LatestVersion: version, ContentHash: hash}
	proj.UpdatedAt = time.Now().UTC()

	if err := m.persister.Save(proj); err != nil {
		return fmt.Errorf("persist artifact index: %w", err)
	}
	return nil
}

// SetSummary replaces the durable rolling summary of evicted turns.
func (m *Manager) SetSummary(projectID, summary string) error {
	held, err := m.held(projectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held.project.Summary = summary
	held.project.UpdatedAt = time.Now().UTC()
	return m.persister.Save(held.project)
}

// maxSummaryLines bounds the rolling summary so a long project never grows
// an unbounded prompt preamble.
const maxSummaryLines = 60

// CompactHistory regenerates the rolling summary from every model-visible
// turn older than the most recent keep, then persists it. The summary is a
// deterministic digest rebuilt from the full history each time, so the call
// is idempotent and nothing tracks which turns were already summarized.
func (m *Manager) CompactHistory(projectID string, keep int) error {
	held, err := m.held(projectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	proj := held.project
	if keep <= 0 || len(proj.Turns) <= keep {
		return nil
	}

	summary := digestTurns(proj.Turns[:len(proj.Turns)-keep])
	if summary == proj.Summary {
		return nil
	}

	proj.Summary = summary
	proj.UpdatedAt = time.Now().UTC()
	return m.persister.Save(proj)
}

// digestTurns renders evicted turns as one line each, oldest first, keeping
// only the most recent maxSummaryLines.
func digestTurns(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.Visibility == VisibilityUserOnly {
			continue
		}
		if line := digestTurn(turn); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) > maxSummaryLines {
		lines = lines[len(lines)-maxSummaryLines:]
	}
	return strings.Join(lines, "\n")
}

func digestTurn(turn Turn) string {
	if turn.Role == RoleTool {
		if turn.ToolResult == nil {
			return ""
		}
		line := fmt.Sprintf("tool %s %s", turn.ToolResult.Tool, turn.ToolResult.Status)
		if turn.ToolResult.Summary != "" {
			line += ": " + turn.ToolResult.Summary
		}
		return clipLine(line)
	}

	content := strings.TrimSpace(turn.Content)
	if content == "" && len(turn.ToolCalls) > 0 {
		names := make([]string, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			names = append(names, call.Name)
		}
		content = "called " + strings.Join(names, ", ")
	}
	if content == "" {
		return ""
	}
	return clipLine(fmt.Sprintf("%s: %s", turn.Role, content))
}

func clipLine(line string) string {
	if index := strings.IndexByte(line, '\n'); index >= 0 {
		line = line[:index]
	}
	if len(line) > 160 {
		line = line[:160] + "..."
	}
	return line
}

// Snapshot returns a deep, consistent copy of the project.
func (m *Manager) Snapshot(projectID string) (*Project, error) {
	held, err := m.held(projectID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneProject(held.project), nil
}

// Window returns the bounded view presented to the model: the project's
// rolling summary plus the most recent n model-visible turns. The full
// history stays in durable storage regardless.
func (m *Manager) Window(projectID string, n int) (summary string, turns []Turn, err error) {
	held, err := m.held(projectID)
	if err != nil {
		return "", nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	proj := held.project
	visible := make([]Turn, 0, len(proj.Turns))
	for _, turn := range proj.Turns {
		if turn.Visibility == VisibilityUserOnly {
			continue
		}
		visible = append(visible, turn)
	}

	if n > 0 && len(visible) > n {
		visible = visible[len(visible)-n:]
	}

	out := make([]Turn, len(visible))
	copy(out, visible)
	return proj.Summary, out, nil
}

// Restore loads a project from durable storage into the manager, replacing
// any in-memory copy. Used on process start and after crashes.
func (m *Manager) Restore(projectID string) (*Project, error) {
	proj, err := m.persister.Load(projectID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.projects[proj.ID] = &heldProject{project: proj}
	m.mu.Unlock()

	m.logger.Info("project restored", "project", proj.ID, "turns", len(proj.Turns))
	return cloneProject(proj), nil
}

// List returns ids of all persisted projects.
func (m *Manager) List() ([]string, error) {
	return m.persister.List()
}

// Delete removes a project explicitly, both in memory and durably. Projects
// are never destroyed any other way.
func (m *Manager) Delete(projectID string) error {
	m.mu.Lock()
	delete(m.projects, projectID)
	m.mu.Unlock()

	return m.persister.Delete(projectID)
}

func (m *Manager) held(projectID string) (*heldProject, error) {
	m.mu.RLock()
	held, ok := m.projects[projectID]
	m.mu.RUnlock()
	if ok {
		return held, nil
	}

	// Fall through to durable storage before giving up.
	proj, err := m.persister.Load(projectID)
	if err != nil {
		return nil, ErrProjectNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.projects[projectID]; ok {
		return existing, nil
	}
	held = &heldProject{project: proj}
	m.projects[projectID] = held
	return held, nil
}

func cloneProject(p *Project) *Project {
	clone := *p

	clone.Turns = make([]Turn, len(p.Turns))
	copy(clone.Turns, p.Turns)
	for i, turn := range clone.Turns {
		if turn.ToolCalls != nil {
			calls := make([]ToolCallRecord, len(turn.ToolCalls))
			copy(calls, turn.ToolCalls)
			clone.Turns[i].ToolCalls = calls
		}
		if turn.ToolResult != nil {
			result := *turn.ToolResult
			clone.Turns[i].ToolResult = &result
		}
	}

	clone.Artifacts = make(map[string]ArtifactRef, len(p.Artifacts))
	for name, ref := range p.Artifacts {
		clone.Artifacts[name] = ref
	}

	clone.Params = make(map[string]string, len(p.Params))
	for key, value := range p.Params {
		clone.Params[key] = value
	}

	return &clone
}

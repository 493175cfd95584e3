// Package engine runs the orchestration loop: it carries a user message
// through model calls, tool validation, sandboxed execution and history
// bookkeeping until the model settles on a plain reply. The engine holds no
// durable state of its own; everything it decides is committed to the
// project history as it happens.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/adalundhe/ascent/core/artifacts"
	ascenterrors "github.com/adalundhe/ascent/core/errors"
	"github.com/adalundhe/ascent/core/project"
	"github.com/adalundhe/ascent/core/providers"
	"github.com/adalundhe/ascent/core/sandbox"
	"github.com/adalundhe/ascent/core/tools"
)

// ============================================================================
// Dependencies
// ============================================================================

// Executor runs one validated invocation. *sandbox.Sandbox satisfies this.
type Executor interface {
	Execute(ctx context.Context, desc tools.Descriptor, inv *tools.Invocation) *sandbox.ExecutionResult
}

// ProviderSource resolves a profile name to a ready provider.
// *providers.Registry satisfies this.
type ProviderSource interface {
	Get(ctx context.Context, profile string) (providers.Provider, error)
}

// ArtifactLister is the slice of the artifact store the prompt builder
// needs. *artifacts.Store satisfies this.
type ArtifactLister interface {
	List(projectID string) ([]artifacts.Artifact, error)
}

type Config struct {
	// ValidationRetries bounds corrective turns after schema violations.
	ValidationRetries int

	// ContextWindow is the number of recent turns shown to the model.
	ContextWindow int

	// ErrorExcerptBytes bounds the stderr excerpt folded into a failure turn.
	ErrorExcerptBytes int

	// MaxToolRounds bounds model-tool round trips within one user turn.
	MaxToolRounds int

	// SystemPrompt overrides the built-in instructions when non-empty.
	SystemPrompt string

	// LogDir enables per-turn log files when non-empty.
	LogDir string
}

type Options struct {
	Config    Config
	Tools     *tools.Registry
	Providers ProviderSource
	Projects  *project.Manager
	Executor  Executor
	Artifacts ArtifactLister
	Logger    *slog.Logger
}

// Engine is the per-process orchestrator. One Engine serves any number of
// projects; within a project turns are strictly sequential, across projects
// they run concurrently.
type Engine struct {
	cfg       Config
	tools     *tools.Registry
	providers ProviderSource
	projects  *project.Manager
	executor  Executor
	store     ArtifactLister
	logger    *slog.Logger
	turnLog   turnLogger

	mu     sync.Mutex
	states map[string]LoopState
	cancel map[string]context.CancelFunc
}

func New(opts Options) (*Engine, error) {
	if opts.Tools == nil || opts.Providers == nil || opts.Projects == nil || opts.Executor == nil {
		return nil, fmt.Errorf("engine: tools, providers, projects and executor are all required")
	}

	cfg := opts.Config
	if cfg.ValidationRetries < 0 {
		cfg.ValidationRetries = 0
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 40
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 16
	}
	if cfg.ErrorExcerptBytes <= 0 {
		cfg.ErrorExcerptBytes = 2048
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		tools:     opts.Tools,
		providers: opts.Providers,
		projects:  opts.Projects,
		executor:  opts.Executor,
		store:     opts.Artifacts,
		logger:    logger,
		turnLog:   turnLogger{dir: cfg.LogDir},
		states:    make(map[string]LoopState),
		cancel:    make(map[string]context.CancelFunc),
	}, nil
}

// Reply is what a completed user turn produced.
type Reply struct {
	Text        string
	ToolResults []project.ToolResultRecord

	// Failed marks replies that report a turn-ending failure rather than a
	// normal assistant response.
	Failed bool
}

// State reports where a project's loop currently sits.
func (e *Engine) State(projectID string) LoopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[projectID]
}

// Cancel aborts the project's in-flight work, if any. The running dispatch
// observes the cancellation and winds down through the kill sequence.
func (e *Engine) Cancel(projectID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancel[projectID]
	e.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// HandleUserMessage runs one full orchestration cycle. A second caller for
// the same project while a cycle is in flight gets
// project.ErrConcurrentModification; callers for other projects proceed
// independently.
func (e *Engine) HandleUserMessage(ctx context.Context, projectID, message string) (*Reply, error) {
	endTurn, err := e.projects.BeginTurn(projectID)
	if err != nil {
		return nil, err
	}
	defer endTurn()

	// runs before endTurn: fold turns that fell out of the context window
	// into the rolling summary while the latch is still held
	defer func() {
		if err := e.projects.CompactHistory(projectID, e.cfg.ContextWindow); err != nil {
			e.logger.Warn("history compaction failed", "project", projectID, "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(projectID, cancel)
	defer e.untrack(projectID)

	e.setState(projectID, StateModelThinking)
	defer e.setState(projectID, StateAwaitingUser)

	if _, err := e.append(projectID, project.Turn{
		Role:       project.RoleUser,
		Content:    message,
		Visibility: project.VisibilityAll,
	}); err != nil {
		return nil, err
	}

	proj, err := e.projects.Snapshot(projectID)
	if err != nil {
		return nil, err
	}

	provider, err := e.providers.Get(ctx, proj.Profile)
	if err != nil {
		return e.failTurn(projectID, userFacingProviderFailure(err))
	}

	catalog := e.tools.List()
	providerTools := catalogTools(catalog)

	reply := &Reply{}
	validationAttempts := 0

	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		resp, err := e.think(ctx, provider, projectID, providerTools)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return e.failTurn(projectID, userFacingProviderFailure(err))
		}

		committed, err := e.append(projectID, assistantTurn(resp))
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			e.setState(projectID, StateResponding)
			reply.Text = resp.Content
			return reply, nil
		}

		bound, rejected := e.bindCalls(projectID, resp.ToolCalls)
		if len(rejected) > 0 {
			if err := e.rejectBatch(projectID, bound, rejected); err != nil {
				return nil, err
			}

			validationAttempts++
			if validationAttempts > e.cfg.ValidationRetries {
				return e.failTurn(projectID, fmt.Sprintf(
					"I could not produce a valid tool call after %d attempts. Last problems: %s",
					validationAttempts, rejected[0].Summary))
			}

			e.logger.Warn("tool call rejected, re-asking model",
				"project", projectID,
				"attempt", validationAttempts)
			continue
		}

		done, err := e.dispatch(ctx, projectID, committed.Seq, bound, reply)
		if err != nil {
			return nil, err
		}
		if done {
			return reply, nil
		}
	}

	return e.failTurn(projectID, "This request needed more tool rounds than I am allowed; stopping here so you can steer.")
}

// think performs one provider call over the current model-visible window.
func (e *Engine) think(ctx context.Context, provider providers.Provider, projectID string, providerTools []providers.Tool) (*providers.Response, error) {
	e.setState(projectID, StateModelThinking)

	summary, window, err := e.projects.Window(projectID, e.cfg.ContextWindow)
	if err != nil {
		return nil, err
	}
	proj, err := e.projects.Snapshot(projectID)
	if err != nil {
		return nil, err
	}

	return provider.Complete(ctx, &providers.Request{
		Messages:     convertTurns(window),
		SystemPrompt: e.buildSystemPrompt(proj, summary),
		Tools:        providerTools,
	})
}

// boundCall is one model-requested call resolved against the registry with
// its arguments validated and coerced.
type boundCall struct {
	call project.ToolCallRecord
	desc tools.Descriptor
	args map[string]any
	ok   bool
}

// bindCalls validates every call in the batch before anything executes.
// Validation is exhaustive: the model gets every violation in one pass.
func (e *Engine) bindCalls(projectID string, calls []providers.ToolCall) ([]boundCall, []project.ToolResultRecord) {
	bound := make([]boundCall, 0, len(calls))
	var rejected []project.ToolResultRecord

	for _, call := range calls {
		record := project.ToolCallRecord{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
		entry := boundCall{call: record}

		desc, err := e.tools.Resolve(call.Name)
		if err != nil {
			rejected = append(rejected, rejection(record, err.Error()))
			bound = append(bound, entry)
			continue
		}
		entry.desc = desc

		var rawArgs map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &rawArgs); err != nil {
			rejected = append(rejected, rejection(record, fmt.Sprintf("arguments are not a JSON object: %v", err)))
			bound = append(bound, entry)
			continue
		}

		validated, err := e.tools.Validate(call.Name, rawArgs)
		if err != nil {
			rejected = append(rejected, rejection(record, err.Error()))
			bound = append(bound, entry)
			continue
		}

		entry.args = validated
		entry.ok = true
		bound = append(bound, entry)
	}

	return bound, rejected
}

func rejection(call project.ToolCallRecord, detail string) project.ToolResultRecord {
	return project.ToolResultRecord{
		CallID:    call.ID,
		Tool:      call.Name,
		Status:    "rejected",
		ErrorKind: "validation",
		Summary:   detail,
	}
}

// rejectBatch commits a model-only result turn for every call in a batch
// that contained at least one invalid call. Valid siblings are skipped, not
// run, so a corrected batch always re-executes as a whole.
func (e *Engine) rejectBatch(projectID string, bound []boundCall, rejected []project.ToolResultRecord) error {
	byCall := make(map[string]project.ToolResultRecord, len(rejected))
	for _, record := range rejected {
		byCall[record.CallID] = record
	}

	for _, entry := range bound {
		record, wasRejected := byCall[entry.call.ID]
		if !wasRejected {
			record = project.ToolResultRecord{
				CallID:  entry.call.ID,
				Tool:    entry.call.Name,
				Status:  "skipped",
				Summary: "not executed: another call in this batch failed validation",
			}
		}

		if _, err := e.append(projectID, project.Turn{
			Role:       project.RoleTool,
			Visibility: project.VisibilityModelOnly,
			ToolResult: &record,
		}); err != nil {
			return err
		}
	}
	return nil
}

// dispatch executes a fully validated batch sequentially in the order the
// model requested. Returns done=true when the cycle should end now.
func (e *Engine) dispatch(ctx context.Context, projectID string, turnSeq int, bound []boundCall, reply *Reply) (bool, error) {
	e.setState(projectID, StateToolDispatch)

	anyFailed := false
	for _, entry := range bound {
		inv := tools.Invocation{
			ID:        uuid.NewString(),
			CallID:    entry.call.ID,
			Tool:      entry.call.Name,
			Arguments: entry.args,
			ProjectID: projectID,
			TurnSeq:   turnSeq,
			Status:    tools.StatusPending,
		}

		result := e.executor.Execute(ctx, entry.desc, &inv)
		record := e.resultRecord(entry, result)
		reply.ToolResults = append(reply.ToolResults, record)

		if _, err := e.append(projectID, project.Turn{
			Role:       project.RoleTool,
			Visibility: project.VisibilityAll,
			ToolResult: &record,
		}); err != nil {
			return false, err
		}

		if result.Failed() {
			anyFailed = true
			if result.Kind == sandbox.FailureCancelled || ctx.Err() != nil {
				reply.Text = "Tool execution was cancelled."
				reply.Failed = true
				return true, nil
			}
			continue
		}

		for name, artifact := range result.Artifacts {
			if err := e.projects.RecordArtifact(projectID, name, artifact.Version, artifact.Hash); err != nil {
				e.logger.Warn("artifact index update failed",
					"project", projectID,
					"artifact", name,
					"error", err)
			}
		}
		if err := e.projects.AdvanceStage(projectID, entry.desc.Stage); err != nil {
			e.logger.Warn("stage advance failed",
				"project", projectID,
				"stage", entry.desc.Stage.String(),
				"error", err)
		}
	}

	if anyFailed {
		e.setState(projectID, StateRecovering)
	}
	return false, nil
}

func (e *Engine) resultRecord(entry boundCall, result *sandbox.ExecutionResult) project.ToolResultRecord {
	record := project.ToolResultRecord{
		CallID:   entry.call.ID,
		Tool:     entry.call.Name,
		Status:   string(result.Status),
		Summary:  result.Summary,
		Figures:  result.Figures,
		Tables:   result.Tables,
		Duration: result.Duration,
	}

	if result.Failed() {
		record.ErrorKind = result.Kind.String()
		record.Excerpt = excerpt(strings.TrimSpace(result.Stderr), e.cfg.ErrorExcerptBytes)
	}

	if len(result.Artifacts) > 0 {
		record.Artifacts = make(map[string]int, len(result.Artifacts))
		for name, artifact := range result.Artifacts {
			record.Artifacts[name] = artifact.Version
		}
	}

	return record
}

func assistantTurn(resp *providers.Response) project.Turn {
	turn := project.Turn{
		Role:       project.RoleAssistant,
		Content:    resp.Content,
		Visibility: project.VisibilityAll,
	}
	for _, call := range resp.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, project.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	return turn
}

// failTurn commits a user-visible failure turn and settles the loop.
func (e *Engine) failTurn(projectID, message string) (*Reply, error) {
	if _, err := e.append(projectID, project.Turn{
		Role:       project.RoleAssistant,
		Content:    message,
		Visibility: project.VisibilityAll,
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: message, Failed: true}, nil
}

func (e *Engine) append(projectID string, turn project.Turn) (project.Turn, error) {
	committed, err := e.projects.AppendInTurn(projectID, turn)
	if err != nil {
		return project.Turn{}, err
	}
	e.turnLog.Log(committed)
	return committed, nil
}

func userFacingProviderFailure(err error) string {
	if ascenterrors.GetTier(err) == ascenterrors.TierUserFixable {
		return err.Error()
	}
	return fmt.Sprintf("The model backend failed after retries: %v", err)
}

func (e *Engine) setState(projectID string, state LoopState) {
	e.mu.Lock()
	e.states[projectID] = state
	e.mu.Unlock()
}

func (e *Engine) track(projectID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancel[projectID] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(projectID string) {
	e.mu.Lock()
	delete(e.cancel, projectID)
	e.mu.Unlock()
}

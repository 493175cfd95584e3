// Package sandbox runs tool implementations as subprocesses in an isolated
// runtime environment. Data crosses the boundary by message passing only: a
// JSON job description goes in, declared output files and a JSON response
// come back. The sandbox never shares memory with the orchestrator, so a
// crashed or killed tool process leaves the engine untouched.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/adalundhe/ascent/core/artifacts"
	"github.com/adalundhe/ascent/core/tools"
)

// ============================================================================
// Configuration
// ============================================================================

type Config struct {
	// Runtime is the interpreter for tool scripts, with its own installed
	// dependency set separate from the host process.
	Runtime     string
	RuntimeArgs []string

	// ScriptsDir holds the tool implementation scripts named by
	// descriptors.
	ScriptsDir string

	// Installer and InstallerArgs form the command for the single
	// dependency install-and-retry remediation, e.g. "pip install".
	Installer     string
	InstallerArgs []string

	// WorkRoot is where per-invocation scratch directories live.
	WorkRoot string

	// DefaultTimeout bounds invocations whose descriptor sets none.
	DefaultTimeout time.Duration

	// SIGINTGrace and SIGTERMGrace pace the kill escalation.
	SIGINTGrace  time.Duration
	SIGTERMGrace time.Duration

	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int

	// ResultCacheSize bounds memoized results for pure tools.
	ResultCacheSize int

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Runtime:         "python3",
		RuntimeArgs:     []string{"-u"},
		ScriptsDir:      "tools",
		Installer:       "pip",
		InstallerArgs:   []string{"install"},
		WorkRoot:        ".ascent/sandbox",
		DefaultTimeout:  10 * time.Minute,
		SIGINTGrace:     5 * time.Second,
		SIGTERMGrace:    3 * time.Second,
		MaxOutputBytes:  1 << 20,
		ResultCacheSize: 128,
	}
}

// ============================================================================
// Sandbox
// ============================================================================

// Sandbox executes tool invocations. It is safe for concurrent use; each
// invocation gets its own scratch directory and process group.
type Sandbox struct {
	cfg    Config
	store  *artifacts.Store
	cache  *resultCache
	killer *killSequence
	logger *slog.Logger
}

func New(cfg Config, store *artifacts.Store) (*Sandbox, error) {
	if cfg.Runtime == "" {
		return nil, fmt.Errorf("sandbox: runtime is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "ascent-sandbox")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: work root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := newResultCache(cfg.ResultCacheSize)
	if err != nil {
		return nil, err
	}

	return &Sandbox{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		killer: newKillSequence(cfg.SIGINTGrace, cfg.SIGTERMGrace),
		logger: logger,
	}, nil
}

// Execute runs one validated invocation to completion, mutating its status
// as it progresses. The returned result is never nil; failures are reported
// through its Kind rather than an error, because a failed tool run is a
// normal conversational outcome, not an engine fault.
func (s *Sandbox) Execute(ctx context.Context, desc tools.Descriptor, inv *tools.Invocation) *ExecutionResult {
	start := time.Now()
	inv.Status = tools.StatusRunning

	inputs, result := s.stageInputs(desc, inv)
	if result != nil {
		inv.Status = result.Status
		return result
	}

	var cacheKey string
	if desc.Impl.Pure {
		cacheKey = s.cache.Key(inv.ProjectID, desc.Name, inv.Arguments, inputs)
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.logger.Debug("sandbox cache hit",
				"tool", desc.Name,
				"invocation", inv.ID)
			inv.Status = cached.Status
			return cached
		}
	}

	workDir := filepath.Join(s.cfg.WorkRoot, inv.ID)
	if err := s.populateWorkDir(workDir, desc, inv, inputs); err != nil {
		inv.Status = tools.StatusFailed
		return s.internalFailure(start, err)
	}
	defer os.RemoveAll(workDir)

	result = s.runWithRemediation(ctx, desc, inv, workDir)

	if result.Kind == FailureNone {
		s.collectOutputs(desc, inv, workDir, result)
	}

	result.Duration = time.Since(start)
	if result.Kind == FailureNone {
		result.Status = tools.StatusSucceeded
		if desc.Impl.Pure {
			s.cache.Put(cacheKey, result)
		}
	} else {
		result.Status = tools.StatusFailed
	}
	inv.Status = result.Status

	s.logger.Info("tool execution finished",
		"tool", desc.Name,
		"invocation", inv.ID,
		"status", string(result.Status),
		"failure", result.Kind.String(),
		"duration", result.Duration)

	return result
}

// stageInputs resolves the latest version of every declared read. A missing
// input is a runtime failure the model can react to, not an engine error.
func (s *Sandbox) stageInputs(desc tools.Descriptor, inv *tools.Invocation) (map[string]artifacts.Artifact, *ExecutionResult) {
	inputs := make(map[string]artifacts.Artifact, len(desc.Effects.ReadsArtifacts))

	for _, name := range desc.Effects.ReadsArtifacts {
		artifact, err := s.store.GetLatest(inv.ProjectID, name)
		if err != nil {
			return nil, &ExecutionResult{
				Status:  tools.StatusFailed,
				Kind:    FailureRuntimeError,
				Summary: fmt.Sprintf("required artifact %q is not present in this project", name),
			}
		}
		inputs[name] = artifact
	}

	return inputs, nil
}

func (s *Sandbox) populateWorkDir(workDir string, desc tools.Descriptor, inv *tools.Invocation, inputs map[string]artifacts.Artifact) error {
	for _, sub := range []string{"inputs", "outputs", "figures"} {
		if err := os.MkdirAll(filepath.Join(workDir, sub), 0o755); err != nil {
			return fmt.Errorf("scratch dir: %w", err)
		}
	}

	req := request{
		Tool:         desc.Name,
		Arguments:    inv.Arguments,
		Inputs:       make(map[string]inputSpec, len(inputs)),
		Outputs:      make(map[string]string, len(desc.Effects.WritesArtifacts)),
		AllowNetwork: desc.Effects.RequiresNetwork,
	}

	for name, artifact := range inputs {
		rel := filepath.Join("inputs", name)
		if err := s.copyArtifact(artifact, filepath.Join(workDir, rel)); err != nil {
			return fmt.Errorf("stage %q: %w", name, err)
		}
		req.Inputs[name] = inputSpec{
			Path:    rel,
			Version: artifact.Version,
			Hash:    artifact.Hash,
		}
	}
	for _, name := range desc.Effects.WritesArtifacts {
		req.Outputs[name] = filepath.Join("outputs", name)
	}

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return os.WriteFile(filepath.Join(workDir, "request.json"), data, 0o644)
}

func (s *Sandbox) copyArtifact(artifact artifacts.Artifact, dst string) error {
	src, err := s.store.Open(artifact)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// runWithRemediation executes the tool, and on a missing-dependency failure
// installs the descriptor's declared packages and retries exactly once.
func (s *Sandbox) runWithRemediation(ctx context.Context, desc tools.Descriptor, inv *tools.Invocation, workDir string) *ExecutionResult {
	result := s.runOnce(ctx, desc, workDir)

	if result.Kind == FailureDependencyMissing &&
		s.cfg.Installer != "" &&
		len(desc.Impl.Packages) > 0 {

		s.logger.Warn("tool dependency missing, installing and retrying",
			"tool", desc.Name,
			"invocation", inv.ID,
			"packages", strings.Join(desc.Impl.Packages, ","))

		if err := s.installPackages(ctx, desc.Impl.Packages, workDir); err != nil {
			result.Summary = fmt.Sprintf("dependency install failed: %v", err)
			return result
		}
		result = s.runOnce(ctx, desc, workDir)
	}

	return result
}

func (s *Sandbox) installPackages(ctx context.Context, packages []string, workDir string) error {
	args := append(append([]string{}, s.cfg.InstallerArgs...), packages...)
	cmd := exec.CommandContext(ctx, s.cfg.Installer, args...)
	cmd.Dir = workDir
	cmd.Env = s.filteredEnv(false)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, truncate(string(output), 512))
	}
	return nil
}

func (s *Sandbox) runOnce(ctx context.Context, desc tools.Descriptor, workDir string) *ExecutionResult {
	timeout := desc.Impl.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	script := filepath.Join(s.cfg.ScriptsDir, desc.Impl.Script)
	args := append(append([]string{}, s.cfg.RuntimeArgs...), script, "request.json")

	cmd := exec.Command(s.cfg.Runtime, args...)
	cmd.Dir = workDir
	cmd.Env = s.filteredEnv(desc.Effects.RequiresNetwork)

	stdout := newBoundedBuffer(s.cfg.MaxOutputBytes)
	stderr := newBoundedBuffer(s.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	pg := &ProcessGroup{}
	pg.Setup(cmd)

	if err := cmd.Start(); err != nil {
		return &ExecutionResult{
			Kind:    FailureRuntimeError,
			Summary: fmt.Sprintf("failed to start tool process: %v", err),
		}
	}
	pg.Register(cmd)

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var killedFor FailureKind
	select {
	case <-exited:
	case <-timer.C:
		killedFor = FailureTimeout
		s.killer.Execute(pg, exited)
	case <-ctx.Done():
		killedFor = FailureCancelled
		s.killer.Execute(pg, exited)
	}

	result := &ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case killedFor == FailureTimeout:
		result.Kind = FailureTimeout
		result.Summary = fmt.Sprintf("tool exceeded its %s time limit", timeout)
	case killedFor == FailureCancelled:
		result.Kind = FailureCancelled
		result.Summary = "tool execution was cancelled"
	case waitErr == nil:
		result.Kind = FailureNone
	default:
		s.classifyFailure(cmd, result)
	}

	return result
}

// classifyFailure maps a nonzero exit into the failure taxonomy by
// inspecting the exit status and the tail of stderr.
func (s *Sandbox) classifyFailure(cmd *exec.Cmd, result *ExecutionResult) {
	code := exitCode(cmd)
	lastLine := lastNonEmptyLine(result.Stderr)

	switch {
	case isDependencyMissing(result.Stderr):
		result.Kind = FailureDependencyMissing
		result.Summary = fmt.Sprintf("missing runtime dependency: %s", lastLine)
	case code == 137 || strings.Contains(result.Stderr, "MemoryError"):
		result.Kind = FailureResourceExhausted
		result.Summary = "tool was killed after exhausting its resource limits"
	default:
		result.Kind = FailureRuntimeError
		if lastLine != "" {
			result.Summary = fmt.Sprintf("tool exited with status %d: %s", code, lastLine)
		} else {
			result.Summary = fmt.Sprintf("tool exited with status %d", code)
		}
	}
}

func isDependencyMissing(stderr string) bool {
	return strings.Contains(stderr, "ModuleNotFoundError") ||
		strings.Contains(stderr, "ImportError: No module named")
}

// collectOutputs moves declared writes and reported figures into the
// artifact store. A declared output the tool did not produce downgrades the
// run to a runtime failure so no partial version set is recorded.
func (s *Sandbox) collectOutputs(desc tools.Descriptor, inv *tools.Invocation, workDir string, result *ExecutionResult) {
	resp := s.readResponse(workDir)
	result.Summary = resp.Summary
	result.Tables = resp.Tables

	collected := make(map[string]artifacts.Artifact, len(desc.Effects.WritesArtifacts))
	for _, name := range desc.Effects.WritesArtifacts {
		path := filepath.Join(workDir, "outputs", name)
		if _, err := os.Stat(path); err != nil {
			result.Kind = FailureRuntimeError
			result.Summary = fmt.Sprintf("tool declared output %q but did not produce it", name)
			return
		}

		artifact, err := s.store.PutFile(inv.ProjectID, name, "tool:"+desc.Name, path)
		if err != nil {
			result.Kind = FailureRuntimeError
			result.Summary = fmt.Sprintf("failed to store output %q: %v", name, err)
			return
		}
		collected[name] = artifact
	}

	for _, figure := range resp.Figures {
		path := filepath.Join(workDir, figure)
		if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(workDir)) {
			continue
		}
		name := filepath.Base(figure)
		artifact, err := s.store.PutFile(inv.ProjectID, name, "tool:"+desc.Name, path)
		if err != nil {
			s.logger.Warn("failed to store figure",
				"tool", desc.Name,
				"figure", figure,
				"error", err)
			continue
		}
		collected[name] = artifact
		result.Figures = append(result.Figures, name)
	}

	result.Artifacts = collected
}

func (s *Sandbox) readResponse(workDir string) response {
	var resp response
	data, err := os.ReadFile(filepath.Join(workDir, "response.json"))
	if err != nil {
		return resp
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Warn("tool wrote malformed response.json", "error", err)
	}
	return resp
}

func (s *Sandbox) internalFailure(start time.Time, err error) *ExecutionResult {
	return &ExecutionResult{
		Status:   tools.StatusFailed,
		Kind:     FailureRuntimeError,
		Summary:  err.Error(),
		Duration: time.Since(start),
	}
}

// ============================================================================
// Environment Filtering
// ============================================================================

// credential-bearing variables never reach the tool process.
var blockedEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_SECRET_KEY",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIALS",
}

var blockedEnvNames = map[string]struct{}{
	"ANTHROPIC_API_KEY":              {},
	"OPENAI_API_KEY":                 {},
	"GEMINI_API_KEY":                 {},
	"GOOGLE_API_KEY":                 {},
	"AWS_ACCESS_KEY_ID":              {},
	"AWS_SECRET_ACCESS_KEY":          {},
	"AWS_SESSION_TOKEN":              {},
	"GOOGLE_APPLICATION_CREDENTIALS": {},
}

func (s *Sandbox) filteredEnv(allowNetwork bool) []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env)+1)

	for _, entry := range env {
		name, _, ok := strings.Cut(entry, "=")
		if !ok || envBlocked(name) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if allowNetwork {
		filtered = append(filtered, "ASCENT_ALLOW_NETWORK=1")
	} else {
		filtered = append(filtered, "ASCENT_ALLOW_NETWORK=0")
	}
	return filtered
}

func envBlocked(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := blockedEnvNames[upper]; ok {
		return true
	}
	for _, suffix := range blockedEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// ============================================================================
// Bounded Capture
// ============================================================================

type boundedBuffer struct {
	max       int
	data      []byte
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - len(b.data)
	if remaining > 0 {
		if len(p) <= remaining {
			b.data = append(b.data, p...)
		} else {
			b.data = append(b.data, p[:remaining]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// report full consumption so the child never blocks on a full pipe
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return string(b.data) + "\n[output truncated]"
	}
	return string(b.data)
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

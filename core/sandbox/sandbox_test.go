//go:build !windows

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ascent/core/artifacts"
	"github.com/adalundhe/ascent/core/tools"
)

func newTestSandbox(t *testing.T) (*Sandbox, *artifacts.Store, string) {
	t.Helper()

	store, err := artifacts.NewStore(artifacts.Config{
		Root: filepath.Join(t.TempDir(), "store"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	scripts := t.TempDir()

	cfg := DefaultConfig()
	cfg.Runtime = "/bin/sh"
	cfg.RuntimeArgs = nil
	cfg.ScriptsDir = scripts
	cfg.WorkRoot = filepath.Join(t.TempDir(), "work")
	cfg.DefaultTimeout = 10 * time.Second
	cfg.SIGINTGrace = 100 * time.Millisecond
	cfg.SIGTERMGrace = 100 * time.Millisecond

	sb, err := New(cfg, store)
	require.NoError(t, err)

	return sb, store, scripts
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func invocation(tool string, args map[string]any) *tools.Invocation {
	if args == nil {
		args = map[string]any{}
	}
	return &tools.Invocation{
		ID:        fmt.Sprintf("inv-%s-%d", tool, time.Now().UnixNano()),
		Tool:      tool,
		Arguments: args,
		ProjectID: "proj-1",
		Status:    tools.StatusPending,
	}
}

func TestExecuteCollectsDeclaredOutputs(t *testing.T) {
	sb, store, scripts := newTestSandbox(t)

	writeScript(t, scripts, "profile.sh", `
echo "col,missing" > outputs/report.csv
echo '{"summary":"profiled 3 columns","tables":{"missingness":"col,missing"}}' > response.json
`)

	desc := tools.Descriptor{
		Name: "ProfileData",
		Effects: tools.SideEffects{
			WritesArtifacts: []string{"report.csv"},
		},
		Impl: tools.Impl{Script: "profile.sh"},
	}

	inv := invocation("ProfileData", nil)
	result := sb.Execute(context.Background(), desc, inv)

	require.Equal(t, tools.StatusSucceeded, result.Status)
	require.False(t, result.Failed())
	assert.Equal(t, "profiled 3 columns", result.Summary)
	assert.Contains(t, result.Tables, "missingness")
	assert.Equal(t, tools.StatusSucceeded, inv.Status)

	version, ok := result.Artifacts["report.csv"]
	require.True(t, ok)
	assert.Equal(t, 1, version.Version)

	stored, err := store.GetLatest("proj-1", "report.csv")
	require.NoError(t, err)
	assert.Equal(t, version.Hash, stored.Hash)
}

func TestExecuteStagesInputArtifacts(t *testing.T) {
	sb, store, scripts := newTestSandbox(t)

	_, err := store.Put("proj-1", "dataset", "upload", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	writeScript(t, scripts, "transform.sh", `
cat inputs/dataset inputs/dataset > outputs/dataset
`)

	desc := tools.Descriptor{
		Name: "TransformData",
		Effects: tools.SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"dataset"},
		},
		Impl: tools.Impl{Script: "transform.sh"},
	}

	result := sb.Execute(context.Background(), desc, invocation("TransformData", nil))

	require.False(t, result.Failed())
	assert.Equal(t, 2, result.Artifacts["dataset"].Version)

	latest, err := store.GetLatest("proj-1", "dataset")
	require.NoError(t, err)
	assert.Equal(t, int64(len("a,b\n1,2\na,b\n1,2\n")), latest.Size)
}

func TestExecuteMissingInputFails(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "noop.sh", "exit 0\n")

	desc := tools.Descriptor{
		Name: "TrainModel",
		Effects: tools.SideEffects{
			ReadsArtifacts: []string{"features"},
		},
		Impl: tools.Impl{Script: "noop.sh"},
	}

	inv := invocation("TrainModel", nil)
	result := sb.Execute(context.Background(), desc, inv)

	require.Equal(t, FailureRuntimeError, result.Kind)
	assert.Contains(t, result.Summary, `"features"`)
	assert.Equal(t, tools.StatusFailed, inv.Status)
}

func TestExecuteUndeclaredOutputFails(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "lazy.sh", "exit 0\n")

	desc := tools.Descriptor{
		Name: "ProfileData",
		Effects: tools.SideEffects{
			WritesArtifacts: []string{"report.csv"},
		},
		Impl: tools.Impl{Script: "lazy.sh"},
	}

	result := sb.Execute(context.Background(), desc, invocation("ProfileData", nil))

	require.Equal(t, FailureRuntimeError, result.Kind)
	assert.Contains(t, result.Summary, "did not produce")
}

func TestExecuteClassifiesRuntimeError(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "crash.sh", `
echo "ValueError: column not found" >&2
exit 3
`)

	desc := tools.Descriptor{Name: "Crash", Impl: tools.Impl{Script: "crash.sh"}}
	result := sb.Execute(context.Background(), desc, invocation("Crash", nil))

	require.Equal(t, FailureRuntimeError, result.Kind)
	assert.Contains(t, result.Summary, "status 3")
	assert.Contains(t, result.Summary, "ValueError")
	assert.Contains(t, result.Stderr, "ValueError: column not found")
}

func TestExecuteInstallsMissingDependencyOnce(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)

	// fails with a missing-module error until the installer drops a marker
	// into the scratch directory, then succeeds on the single retry
	writeScript(t, scripts, "needs_dep.sh", `
if [ ! -f installed ]; then
  echo "ModuleNotFoundError: No module named 'shap'" >&2
  exit 1
fi
echo '{"summary":"explained"}' > response.json
`)

	sb.cfg.Installer = "/bin/sh"
	sb.cfg.InstallerArgs = []string{"-c", "touch installed"}

	desc := tools.Descriptor{
		Name: "ShapExplain",
		Impl: tools.Impl{
			Script:   "needs_dep.sh",
			Packages: []string{"shap"},
		},
	}

	result := sb.Execute(context.Background(), desc, invocation("ShapExplain", nil))

	require.False(t, result.Failed(), "summary: %s", result.Summary)
	assert.Equal(t, "explained", result.Summary)
}

func TestExecuteDependencyMissingWithoutInstaller(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "needs_dep.sh", `
echo "ModuleNotFoundError: No module named 'torch'" >&2
exit 1
`)

	sb.cfg.Installer = ""

	desc := tools.Descriptor{
		Name: "TrainModel",
		Impl: tools.Impl{Script: "needs_dep.sh", Packages: []string{"torch"}},
	}

	result := sb.Execute(context.Background(), desc, invocation("TrainModel", nil))

	require.Equal(t, FailureDependencyMissing, result.Kind)
	assert.Contains(t, result.Summary, "torch")
}

func TestExecuteTimeoutEscalatesKill(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "slow.sh", "sleep 30\n")

	desc := tools.Descriptor{
		Name: "Slow",
		Impl: tools.Impl{
			Script:  "slow.sh",
			Timeout: 200 * time.Millisecond,
		},
	}

	start := time.Now()
	result := sb.Execute(context.Background(), desc, invocation("Slow", nil))

	require.Equal(t, FailureTimeout, result.Kind)
	assert.Contains(t, result.Summary, "time limit")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteCancelKillsProcess(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "slow.sh", "sleep 30\n")

	desc := tools.Descriptor{Name: "Slow", Impl: tools.Impl{Script: "slow.sh"}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result := sb.Execute(ctx, desc, invocation("Slow", nil))

	require.Equal(t, FailureCancelled, result.Kind)
	assert.Equal(t, tools.StatusFailed, result.Status)
}

func TestExecuteFiltersCredentialEnvironment(t *testing.T) {
	sb, store, scripts := newTestSandbox(t)

	t.Setenv("ANTHROPIC_API_KEY", "sk-secret")
	t.Setenv("MY_SERVICE_TOKEN", "tok-secret")
	t.Setenv("ASCENT_HARMLESS", "visible")

	writeScript(t, scripts, "env.sh", `
printf '%s|%s|%s|%s' \
  "${ANTHROPIC_API_KEY:-absent}" \
  "${MY_SERVICE_TOKEN:-absent}" \
  "${ASCENT_HARMLESS:-absent}" \
  "${ASCENT_ALLOW_NETWORK}" > outputs/env
`)

	desc := tools.Descriptor{
		Name:    "EnvProbe",
		Effects: tools.SideEffects{WritesArtifacts: []string{"env"}},
		Impl:    tools.Impl{Script: "env.sh"},
	}

	result := sb.Execute(context.Background(), desc, invocation("EnvProbe", nil))
	require.False(t, result.Failed())

	artifact, err := store.GetLatest("proj-1", "env")
	require.NoError(t, err)
	content, err := store.Content(artifact)
	require.NoError(t, err)

	assert.Equal(t, "absent|absent|visible|0", string(content))
}

func TestExecuteCachesPureToolResults(t *testing.T) {
	sb, store, scripts := newTestSandbox(t)

	writeScript(t, scripts, "pure.sh", `
echo "deterministic" > outputs/blob
echo '{"summary":"computed"}' > response.json
`)

	desc := tools.Descriptor{
		Name:    "PureCompute",
		Effects: tools.SideEffects{WritesArtifacts: []string{"blob"}},
		Impl:    tools.Impl{Script: "pure.sh", Pure: true},
	}

	args := map[string]any{"bins": int64(10)}

	first := sb.Execute(context.Background(), desc, invocation("PureCompute", args))
	require.False(t, first.Failed())
	assert.False(t, first.Cached)

	second := sb.Execute(context.Background(), desc, invocation("PureCompute", args))
	require.False(t, second.Failed())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Artifacts["blob"].Version, second.Artifacts["blob"].Version)

	// the replay must not have run the script again
	versions, err := store.ListVersions("proj-1", "blob")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestExecutePureCacheMissesOnNewArguments(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)

	writeScript(t, scripts, "pure.sh", `
echo '{"summary":"computed"}' > response.json
`)

	desc := tools.Descriptor{
		Name: "PureCompute",
		Impl: tools.Impl{Script: "pure.sh", Pure: true},
	}

	first := sb.Execute(context.Background(), desc, invocation("PureCompute", map[string]any{"bins": int64(10)}))
	second := sb.Execute(context.Background(), desc, invocation("PureCompute", map[string]any{"bins": int64(20)}))

	assert.False(t, first.Cached)
	assert.False(t, second.Cached)
}

func TestExecutePureCacheIsScopedPerProject(t *testing.T) {
	sb, store, scripts := newTestSandbox(t)

	writeScript(t, scripts, "pure.sh", `
echo "deterministic" > outputs/blob
echo '{"summary":"computed"}' > response.json
`)

	desc := tools.Descriptor{
		Name:    "PureCompute",
		Effects: tools.SideEffects{WritesArtifacts: []string{"blob"}},
		Impl:    tools.Impl{Script: "pure.sh", Pure: true},
	}

	args := map[string]any{"bins": int64(10)}

	first := sb.Execute(context.Background(), desc, invocation("PureCompute", args))
	require.False(t, first.Failed())

	other := invocation("PureCompute", args)
	other.ProjectID = "proj-2"
	second := sb.Execute(context.Background(), desc, other)
	require.False(t, second.Failed())

	// identical inputs in a different project must run fresh: a replayed
	// result would carry artifact versions the second project does not own
	assert.False(t, second.Cached)
	assert.Equal(t, "proj-2", second.Artifacts["blob"].ProjectID)

	stored, err := store.GetLatest("proj-2", "blob")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)

	// replays within the producing project still hit
	third := sb.Execute(context.Background(), desc, invocation("PureCompute", args))
	require.False(t, third.Failed())
	assert.True(t, third.Cached)
}

func TestExecuteScratchDirRemoved(t *testing.T) {
	sb, _, scripts := newTestSandbox(t)
	writeScript(t, scripts, "noop.sh", "exit 0\n")

	desc := tools.Descriptor{Name: "Noop", Impl: tools.Impl{Script: "noop.sh"}}
	inv := invocation("Noop", nil)

	sb.Execute(context.Background(), desc, inv)

	_, err := os.Stat(filepath.Join(sb.cfg.WorkRoot, inv.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestBoundedBufferTruncates(t *testing.T) {
	buf := newBoundedBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	assert.Contains(t, buf.String(), "01234567")
	assert.Contains(t, buf.String(), "[output truncated]")
}

func TestEnvBlocked(t *testing.T) {
	assert.True(t, envBlocked("ANTHROPIC_API_KEY"))
	assert.True(t, envBlocked("some_service_token"))
	assert.True(t, envBlocked("DB_PASSWORD"))
	assert.False(t, envBlocked("HOME"))
	assert.False(t, envBlocked("PATH"))
	assert.False(t, envBlocked("ASCENT_ALLOW_NETWORK"))
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "dependency_missing", FailureDependencyMissing.String())
	assert.Equal(t, "timeout", FailureTimeout.String())
	assert.Equal(t, "unknown", FailureKind(99).String())
}

// Package config loads and layers the ascent configuration: defaults, then a
// YAML file, then environment overrides. The resulting Config is an explicit
// object threaded through the engine and providers, never ambient state.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Manager struct {
	configPtr atomic.Pointer[Config]
	path      string
}

type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Store     StoreConfig     `yaml:"store"`
	Loop      LoopConfig      `yaml:"loop"`
	Projects  ProjectsConfig  `yaml:"projects"`
}

// ProvidersConfig names the backend profiles available to projects. A project
// selects one profile by name; DefaultProfile is used when it selects none.
type ProvidersConfig struct {
	DefaultProfile string                   `yaml:"default_profile"`
	Profiles       map[string]ProfileConfig `yaml:"profiles"`
	Timeout        time.Duration            `yaml:"timeout"`
	MaxRetries     int                      `yaml:"max_retries"`
}

// ProfileConfig describes one named backend profile.
type ProfileConfig struct {
	// Type is the provider backend: "anthropic", "openai" or "gemini".
	Type string `yaml:"type"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the credential.
	// The key itself never appears in configuration files.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIVersion pins a backend API version where the backend supports it.
	APIVersion string `yaml:"api_version,omitempty"`

	// MaxTokens is the completion token budget per call.
	MaxTokens int `yaml:"max_tokens"`
}

type SandboxConfig struct {
	// Runtime is the interpreter invoked for tool implementations. It lives
	// in an environment with its own dependency set, separate from ascent.
	Runtime string `yaml:"runtime"`

	// RuntimeArgs are prepended to every tool command.
	RuntimeArgs []string `yaml:"runtime_args"`

	// ScriptsDir holds the tool implementation scripts.
	ScriptsDir string `yaml:"scripts_dir"`

	// Installer is the command used for the single dependency
	// install-and-retry attempt, e.g. "pip".
	Installer string `yaml:"installer"`

	// InstallerArgs sit between the installer command and the package list.
	InstallerArgs []string `yaml:"installer_args"`

	// WorkRoot is where per-invocation scratch directories are created.
	WorkRoot string `yaml:"work_root"`

	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// SIGINTGrace and SIGTERMGrace pace the kill escalation sequence.
	SIGINTGrace  time.Duration `yaml:"sigint_grace"`
	SIGTERMGrace time.Duration `yaml:"sigterm_grace"`

	// MaxOutputBytes caps captured stdout/stderr per invocation.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// ResultCacheSize bounds the memoized results kept for pure tools.
	ResultCacheSize int `yaml:"result_cache_size"`
}

type StoreConfig struct {
	// Root is the artifact store directory; the version ledger database and
	// artifact content both live under it.
	Root string `yaml:"root"`

	// CacheMaxCost bounds the hot metadata cache in bytes.
	CacheMaxCost int64 `yaml:"cache_max_cost"`
}

type LoopConfig struct {
	// ValidationRetries bounds corrective turns for schema violations.
	ValidationRetries int `yaml:"validation_retries"`

	// ContextWindow is the number of recent turns shown to the model.
	ContextWindow int `yaml:"context_window"`

	// ErrorExcerptBytes bounds the failure detail surfaced to the model.
	ErrorExcerptBytes int `yaml:"error_excerpt_bytes"`

	// MaxToolRounds bounds model-tool round trips within one user turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

type ProjectsConfig struct {
	// Dir is where project state is persisted.
	Dir string `yaml:"dir"`
}

func NewManager(path string) *Manager {
	m := &Manager{path: path}
	m.configPtr.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			DefaultProfile: "anthropic",
			Profiles: map[string]ProfileConfig{
				"anthropic": {
					Type:      "anthropic",
					Model:     "claude-sonnet-4-5-20250901",
					APIKeyEnv: "ANTHROPIC_API_KEY",
					MaxTokens: 8192,
				},
				"openai": {
					Type:      "openai",
					Model:     "gpt-5.2-codex",
					APIKeyEnv: "OPENAI_API_KEY",
					MaxTokens: 8192,
				},
				"gemini": {
					Type:      "gemini",
					Model:     "gemini-2.5-pro",
					APIKeyEnv: "GEMINI_API_KEY",
					MaxTokens: 8192,
				},
			},
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Sandbox: SandboxConfig{
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
		},
		Store: StoreConfig{
			Root:         ".ascent/artifacts",
			CacheMaxCost: 64 << 20,
		},
		Loop: LoopConfig{
			ValidationRetries: 2,
			ContextWindow:     40,
			ErrorExcerptBytes: 2048,
			MaxToolRounds:     16,
		},
		Projects: ProjectsConfig{
			Dir: ".ascent/projects",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.configPtr.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadYAMLFile(m.path, cfg); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	m.applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.configPtr.Store(cfg)
	return nil
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("ASCENT_DEFAULT_PROFILE"); v != "" {
		cfg.Providers.DefaultProfile = v
	}
	if v := os.Getenv("ASCENT_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Providers.Timeout = d
		}
	}
	if v := os.Getenv("ASCENT_SANDBOX_RUNTIME"); v != "" {
		cfg.Sandbox.Runtime = v
	}
	if v := os.Getenv("ASCENT_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sandbox.DefaultTimeout = d
		}
	}
	if v := os.Getenv("ASCENT_STORE_ROOT"); v != "" {
		cfg.Store.Root = v
	}
	if v := os.Getenv("ASCENT_PROJECTS_DIR"); v != "" {
		cfg.Projects.Dir = v
	}
	if v := os.Getenv("ASCENT_VALIDATION_RETRIES"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Loop.ValidationRetries = n
		}
	}
}

// Validate rejects configurations that cannot produce a working engine.
func (c *Config) Validate() error {
	if c.Providers.DefaultProfile == "" {
		return fmt.Errorf("providers: default_profile is required")
	}
	if _, ok := c.Providers.Profiles[c.Providers.DefaultProfile]; !ok {
		return fmt.Errorf("providers: default_profile %q has no profile entry", c.Providers.DefaultProfile)
	}
	for name, profile := range c.Providers.Profiles {
		if err := profile.validate(); err != nil {
			return fmt.Errorf("providers: profile %q: %w", name, err)
		}
	}
	if c.Loop.ValidationRetries < 0 {
		return fmt.Errorf("loop: validation_retries must not be negative")
	}
	if c.Loop.ContextWindow <= 0 {
		return fmt.Errorf("loop: context_window must be positive")
	}
	return nil
}

func (p ProfileConfig) validate() error {
	switch strings.ToLower(p.Type) {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	if p.APIKeyEnv == "" {
		return fmt.Errorf("api_key_env is required")
	}
	return nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

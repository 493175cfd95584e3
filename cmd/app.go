package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/ascent/core/artifacts"
	"github.com/adalundhe/ascent/core/config"
	"github.com/adalundhe/ascent/core/engine"
	"github.com/adalundhe/ascent/core/project"
	"github.com/adalundhe/ascent/core/providers"
	"github.com/adalundhe/ascent/core/sandbox"
	"github.com/adalundhe/ascent/core/tools"
)

// =============================================================================
// Application Wiring
// =============================================================================

// app holds every long-lived component a command may need, built once per
// process from the loaded configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *artifacts.Store
	tools     *tools.Registry
	providers *providers.Registry
	projects  *project.Manager
	sandbox   *sandbox.Sandbox
	engine    *engine.Engine
}

// buildApp loads configuration and wires the full component graph. Commands
// that only touch a slice of it still pay the whole cost; keeping one wiring
// path is worth more than a faster `projects list`.
func buildApp() (*app, error) {
	manager := config.NewManager(configPath)
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	cfg := manager.Get()

	logger := newLogger()

	store, err := artifacts.NewStore(artifacts.Config{
		Root:         cfg.Store.Root,
		CacheMaxCost: cfg.Store.CacheMaxCost,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	registry, err := tools.NewBuiltinRegistry()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("tool catalog: %w", err)
	}

	box, err := sandbox.New(sandbox.Config{
		Runtime:         cfg.Sandbox.Runtime,
		RuntimeArgs:     cfg.Sandbox.RuntimeArgs,
		ScriptsDir:      cfg.Sandbox.ScriptsDir,
		Installer:       cfg.Sandbox.Installer,
		InstallerArgs:   cfg.Sandbox.InstallerArgs,
		WorkRoot:        cfg.Sandbox.WorkRoot,
		DefaultTimeout:  cfg.Sandbox.DefaultTimeout,
		SIGINTGrace:     cfg.Sandbox.SIGINTGrace,
		SIGTERMGrace:    cfg.Sandbox.SIGTERMGrace,
		MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
		ResultCacheSize: cfg.Sandbox.ResultCacheSize,
		Logger:          logger,
	}, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	persister, err := project.NewFilePersister(cfg.Projects.Dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("project persistence: %w", err)
	}

	projects, err := project.NewManager(project.ManagerConfig{
		Persister: persister,
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("project manager: %w", err)
	}

	providerRegistry := providers.NewRegistry(cfg.Providers, logger)

	eng, err := engine.New(engine.Options{
		Config: engine.Config{
			ValidationRetries: cfg.Loop.ValidationRetries,
			ContextWindow:     cfg.Loop.ContextWindow,
			ErrorExcerptBytes: cfg.Loop.ErrorExcerptBytes,
			MaxToolRounds:     cfg.Loop.MaxToolRounds,
			LogDir:            filepath.Join(filepath.Dir(cfg.Projects.Dir), "logs"),
		},
		Tools:     registry,
		Providers: providerRegistry,
		Projects:  projects,
		Executor:  box,
		Artifacts: store,
		Logger:    logger,
	})
	if err != nil {
		providerRegistry.Close()
		store.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		tools:     registry,
		providers: providerRegistry,
		projects:  projects,
		sandbox:   box,
		engine:    eng,
	}, nil
}

func (a *app) Close() {
	a.providers.Close()
	a.store.Close()
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("ASCENT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/ascent/core/config"
	ascenterrors "github.com/adalundhe/ascent/core/errors"
)

// ============================================================================
// Profile Registry
// ============================================================================

// Registry resolves named backend profiles into ready providers. Providers
// are built lazily on first use, so a profile with no credential in the
// environment only fails when a project actually selects it.
type Registry struct {
	mu        sync.RWMutex
	cfg       config.ProvidersConfig
	providers map[string]Provider
	logger    *slog.Logger
}

func NewRegistry(cfg config.ProvidersConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Get returns the provider for a named profile, building it on first use.
// An empty profile name selects the configured default.
func (r *Registry) Get(ctx context.Context, profile string) (Provider, error) {
	if profile == "" {
		profile = r.cfg.DefaultProfile
	}

	r.mu.RLock()
	provider, ok := r.providers[profile]
	r.mu.RUnlock()
	if ok {
		return provider, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if provider, ok := r.providers[profile]; ok {
		return provider, nil
	}

	profileCfg, ok := r.cfg.Profiles[profile]
	if !ok {
		return nil, ascenterrors.NewTieredError(
			ascenterrors.TierUserFixable,
			fmt.Sprintf("unknown provider profile %q", profile),
			nil,
		)
	}

	provider, err := r.build(ctx, profileCfg)
	if err != nil {
		return nil, err
	}

	provider = newResilientProvider(provider, r.cfg, r.logger)
	r.providers[profile] = provider

	r.logger.Info("provider profile initialized",
		"profile", profile,
		"backend", provider.Name(),
		"model", profileCfg.Model)

	return provider, nil
}

// Profiles lists the configured profile names.
func (r *Registry) Profiles() []string {
	names := make([]string, 0, len(r.cfg.Profiles))
	for name := range r.cfg.Profiles {
		names = append(names, name)
	}
	return names
}

// Close releases every constructed provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, provider := range r.providers {
		if err := provider.Close(); err != nil {
			r.logger.Warn("provider close failed", "profile", name, "error", err)
		}
	}
	r.providers = make(map[string]Provider)
	return nil
}

func (r *Registry) build(ctx context.Context, profileCfg config.ProfileConfig) (Provider, error) {
	apiKey, err := resolveAPIKey(profileCfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Type:       ProviderType(strings.ToLower(profileCfg.Type)),
		Model:      profileCfg.Model,
		APIKey:     apiKey,
		BaseURL:    profileCfg.BaseURL,
		APIVersion: profileCfg.APIVersion,
		MaxTokens:  profileCfg.MaxTokens,
	}

	switch cfg.Type {
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderTypeGemini:
		return NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// ============================================================================
// Retry Wrapper
// ============================================================================

// resilientProvider layers per-call timeouts and tier-aware retries over a
// backend adapter. All classification happens in the adapter; this wrapper
// only reads tiers.
type resilientProvider struct {
	inner   Provider
	retry   *ascenterrors.RetryExecutor
	timeout time.Duration
	logger  *slog.Logger
}

func newResilientProvider(inner Provider, cfg config.ProvidersConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}

	policies := ascenterrors.DefaultRetryPolicies()
	if cfg.MaxRetries > 0 {
		for _, policy := range policies {
			if policy.MaxAttempts > 1 {
				policy.MaxAttempts = cfg.MaxRetries
			}
		}
	}

	return &resilientProvider{
		inner:   inner,
		retry:   ascenterrors.NewRetryExecutor(policies),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (p *resilientProvider) Name() string {
	return p.inner.Name()
}

func (p *resilientProvider) Close() error {
	return p.inner.Close()
}

func (p *resilientProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	var response *Response

	err := p.retry.Execute(ctx, func() error {
		callCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		result, err := p.inner.Complete(callCtx, req)
		if err != nil {
			p.logger.Warn("provider call failed",
				"backend", p.inner.Name(),
				"tier", ascenterrors.GetTier(err).String(),
				"error", err)
			return err
		}

		response = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/ascent/core/config"
	ascenterrors "github.com/adalundhe/ascent/core/errors"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		tier   ascenterrors.ErrorTier
	}{
		{http.StatusTooManyRequests, ascenterrors.TierExternalRateLimit},
		{http.StatusUnauthorized, ascenterrors.TierUserFixable},
		{http.StatusForbidden, ascenterrors.TierUserFixable},
		{http.StatusRequestTimeout, ascenterrors.TierTransient},
		{http.StatusInternalServerError, ascenterrors.TierExternalDegrading},
		{http.StatusServiceUnavailable, ascenterrors.TierExternalDegrading},
		{http.StatusBadRequest, ascenterrors.TierPermanent},
		{http.StatusNotFound, ascenterrors.TierPermanent},
	}

	for _, tt := range tests {
		err := classifyStatus("anthropic", tt.status, 0, nil)
		assert.Equal(t, tt.tier, ascenterrors.GetTier(err), "status %d", tt.status)
	}
}

func TestClassifyStatusCarriesRetryAfter(t *testing.T) {
	err := classifyStatus("openai", http.StatusTooManyRequests, 7*time.Second, nil)

	var tiered *ascenterrors.TieredError
	require.ErrorAs(t, err, &tiered)
	assert.Equal(t, 7*time.Second, tiered.RetryAfter)
}

func TestClassifyTransport(t *testing.T) {
	timeout := classifyTransport("gemini", context.DeadlineExceeded)
	assert.Equal(t, ascenterrors.TierTransient, ascenterrors.GetTier(timeout))

	cancelled := classifyTransport("gemini", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
}

func TestRetryAfterFromHeader(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, retryAfterFromHeader(resp))

	resp.Header.Set("Retry-After", "soon")
	assert.Equal(t, time.Duration(0), retryAfterFromHeader(resp))

	assert.Equal(t, time.Duration(0), retryAfterFromHeader(nil))
}

func TestResolveAPIKeyMissingIsUserFixable(t *testing.T) {
	t.Setenv("ASCENT_TEST_MISSING_KEY", "")

	_, err := resolveAPIKey("ASCENT_TEST_MISSING_KEY")
	require.Error(t, err)
	assert.Equal(t, ascenterrors.TierUserFixable, ascenterrors.GetTier(err))
	assert.Contains(t, err.Error(), "ASCENT_TEST_MISSING_KEY")
}

func testProvidersConfig() config.ProvidersConfig {
	return config.ProvidersConfig{
		DefaultProfile: "main",
		Profiles: map[string]config.ProfileConfig{
			"main": {
				Type:      "anthropic",
				Model:     "claude-sonnet-4-5-20250901",
				APIKeyEnv: "ASCENT_TEST_ANTHROPIC_KEY",
				MaxTokens: 4096,
			},
		},
		Timeout:    time.Minute,
		MaxRetries: 3,
	}
}

func TestRegistryBuildsDefaultProfile(t *testing.T) {
	t.Setenv("ASCENT_TEST_ANTHROPIC_KEY", "sk-test")

	registry := NewRegistry(testProvidersConfig(), nil)

	provider, err := registry.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider.Name())

	again, err := registry.Get(context.Background(), "main")
	require.NoError(t, err)
	assert.Same(t, provider, again)
}

func TestRegistryUnknownProfile(t *testing.T) {
	registry := NewRegistry(testProvidersConfig(), nil)

	_, err := registry.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, ascenterrors.TierUserFixable, ascenterrors.GetTier(err))
}

func TestRegistryMissingCredential(t *testing.T) {
	t.Setenv("ASCENT_TEST_ANTHROPIC_KEY", "")

	registry := NewRegistry(testProvidersConfig(), nil)

	_, err := registry.Get(context.Background(), "main")
	require.Error(t, err)
	assert.Equal(t, ascenterrors.TierUserFixable, ascenterrors.GetTier(err))
}

// fakeProvider scripts a sequence of responses for wrapper tests.
type fakeProvider struct {
	calls    int
	failures int
	failWith error
	response *Response
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failWith
	}
	return f.response, nil
}

func fastRetryConfig() config.ProvidersConfig {
	cfg := testProvidersConfig()
	cfg.Timeout = time.Second
	return cfg
}

func TestResilientProviderRetriesTransient(t *testing.T) {
	fake := &fakeProvider{
		failures: 2,
		failWith: ascenterrors.NewTieredError(ascenterrors.TierTransient, "blip", nil).
			WithRetryAfter(time.Millisecond),
		response: &Response{Content: "ok", StopReason: StopReasonEndTurn},
	}

	wrapped := newResilientProvider(fake, fastRetryConfig(), nil)
	if rp, ok := wrapped.(*resilientProvider); ok {
		rp.retry = ascenterrors.NewRetryExecutor(map[ascenterrors.ErrorTier]*ascenterrors.RetryPolicy{
			ascenterrors.TierTransient: {
				MaxAttempts:  3,
				InitialDelay: time.Millisecond,
				MaxDelay:     2 * time.Millisecond,
				Multiplier:   2.0,
			},
		})
	}

	resp, err := wrapped.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, fake.calls)
}

func TestResilientProviderDoesNotRetryPermanent(t *testing.T) {
	fake := &fakeProvider{
		failures: 10,
		failWith: ascenterrors.NewTieredError(ascenterrors.TierPermanent, "bad request", nil),
	}

	wrapped := newResilientProvider(fake, fastRetryConfig(), nil)

	_, err := wrapped.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestResilientProviderDefaultsNilLogger(t *testing.T) {
	wrapped := newResilientProvider(&fakeProvider{}, fastRetryConfig(), nil)

	rp, ok := wrapped.(*resilientProvider)
	require.True(t, ok)
	require.NotNil(t, rp.logger)

	// the retry path logs every failed attempt; with no logger supplied it
	// must fall back instead of dereferencing nil
	fake := &fakeProvider{
		failures: 1,
		failWith: ascenterrors.NewTieredError(ascenterrors.TierPermanent, "bad request", nil),
	}
	wrapped = newResilientProvider(fake, fastRetryConfig(), nil)
	_, err := wrapped.Complete(context.Background(), &Request{})
	require.Error(t, err)
}

func TestGeminiSchemaConversion(t *testing.T) {
	minimum := 0.0
	maximum := 0.5

	schema := geminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method": map[string]any{
				"type": "string",
				"enum": []string{"mean", "median"},
			},
			"max_missing_fraction": map[string]any{
				"type":    "number",
				"minimum": minimum,
				"maximum": maximum,
			},
			"columns": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"method"},
	})

	require.NotNil(t, schema)
	assert.Equal(t, []string{"method"}, schema.Required)
	assert.Equal(t, []string{"mean", "median"}, schema.Properties["method"].Enum)

	fraction := schema.Properties["max_missing_fraction"]
	require.NotNil(t, fraction.Maximum)
	assert.Equal(t, 0.5, *fraction.Maximum)

	require.NotNil(t, schema.Properties["columns"].Items)
}

func TestEnsureObjectType(t *testing.T) {
	assert.Equal(t, "object", ensureObjectType(nil)["type"])
	assert.Equal(t, "object", ensureObjectType(map[string]any{"properties": map[string]any{}})["type"])
	assert.Equal(t, "custom", ensureObjectType(map[string]any{"type": "custom"})["type"])
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, requiredFields(map[string]any{"required": []string{"a", "b"}}))
	assert.Equal(t, []string{"a"}, requiredFields(map[string]any{"required": []any{"a", 2}}))
	assert.Nil(t, requiredFields(map[string]any{}))
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Type: ProviderTypeOpenAI, Model: "gpt-5.2-codex", APIKey: "sk", MaxTokens: 100}
	require.NoError(t, cfg.Validate())

	for _, broken := range []Config{
		{APIKey: "sk", MaxTokens: 1},
		{Model: "m", MaxTokens: 1},
		{Model: "m", APIKey: "sk"},
	} {
		assert.Error(t, broken.Validate(), fmt.Sprintf("%+v", broken))
	}
}

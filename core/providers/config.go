package providers

import (
	"fmt"
	"os"

	ascenterrors "github.com/adalundhe/ascent/core/errors"
)

// ProviderType identifies a backend implementation.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeGemini    ProviderType = "gemini"
)

// Config is the resolved configuration for one backend instance. APIKey is
// filled in from the environment at construction time and never persisted.
type Config struct {
	Type       ProviderType
	Model      string
	APIKey     string
	BaseURL    string
	APIVersion string
	MaxTokens  int
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// resolveAPIKey reads the credential named by envVar. A missing credential
// is something only the user can fix, so it carries that tier.
func resolveAPIKey(envVar string) (string, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return "", ascenterrors.NewTieredError(
			ascenterrors.TierUserFixable,
			fmt.Sprintf("no API key found: set the %s environment variable", envVar),
			nil,
		)
	}
	return key, nil
}

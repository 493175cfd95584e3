// Package errors implements a tiered error taxonomy with classification and
// retry behavior shared across the orchestration control plane.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorTier represents the classification tier for errors.
// Each tier has defined behavior for retry policy and surfacing.
type ErrorTier int

const (
	// TierTransient indicates temporary errors that should be silently retried.
	// Examples: network timeouts, connection resets.
	TierTransient ErrorTier = iota

	// TierPermanent indicates errors that will not resolve with retry.
	// Examples: invalid input, unknown tool, schema violation.
	TierPermanent

	// TierUserFixable indicates errors that require user intervention.
	// Examples: missing API key, missing provider profile.
	TierUserFixable

	// TierExternalRateLimit indicates rate limiting from a provider backend.
	TierExternalRateLimit

	// TierExternalDegrading indicates provider backend degradation (5xx).
	TierExternalDegrading
)

var tierNames = map[ErrorTier]string{
	TierTransient:         "transient",
	TierPermanent:         "permanent",
	TierUserFixable:       "user_fixable",
	TierExternalRateLimit: "external_rate_limit",
	TierExternalDegrading: "external_degrading",
}

func (t ErrorTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// TieredError wraps an error with tier classification.
type TieredError struct {
	Tier       ErrorTier
	Message    string
	Underlying error
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Tier, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TieredError) Unwrap() error {
	return e.Underlying
}

// Is checks if the target error matches this TieredError's tier.
func (e *TieredError) Is(target error) bool {
	var te *TieredError
	if errors.As(target, &te) {
		return e.Tier == te.Tier
	}
	return false
}

// NewTieredError creates a new TieredError with the given tier and message.
func NewTieredError(tier ErrorTier, message string, underlying error) *TieredError {
	return &TieredError{
		Tier:       tier,
		Message:    message,
		Underlying: underlying,
	}
}

// WithRetryAfter adds a retry-after duration to the error.
func (e *TieredError) WithRetryAfter(d time.Duration) *TieredError {
	e.RetryAfter = d
	return e
}

// GetTier extracts the ErrorTier from an error, defaulting to Permanent.
func GetTier(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// IsRetryable checks if an error should be retried based on its tier.
func IsRetryable(err error) bool {
	switch GetTier(err) {
	case TierTransient, TierExternalRateLimit, TierExternalDegrading:
		return true
	default:
		return false
	}
}

// WrapWithTier wraps an error with a tier classification. A nil error stays
// nil, and an already-tiered error keeps its original tier.
func WrapWithTier(tier ErrorTier, message string, err error) error {
	if err == nil {
		return nil
	}

	var te *TieredError
	if errors.As(err, &te) {
		return &TieredError{
			Tier:       te.Tier,
			Message:    message,
			Underlying: err,
			RetryAfter: te.RetryAfter,
		}
	}

	return NewTieredError(tier, message, err)
}

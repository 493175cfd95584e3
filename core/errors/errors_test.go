package errors_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/adalundhe/ascent/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTieredError_Error verifies formatting with and without an underlying error.
func TestTieredError_Error(t *testing.T) {
	underlying := stderrors.New("connection refused")

	withCause := errors.NewTieredError(errors.TierTransient, "provider call failed", underlying)
	assert.Contains(t, withCause.Error(), "transient")
	assert.Contains(t, withCause.Error(), "connection refused")

	withoutCause := errors.NewTieredError(errors.TierPermanent, "unknown tool", nil)
	assert.Contains(t, withoutCause.Error(), "permanent")
	assert.NotContains(t, withoutCause.Error(), "<nil>")
}

// TestGetTier_DefaultsToPermanent verifies untiered errors classify as permanent.
func TestGetTier_DefaultsToPermanent(t *testing.T) {
	assert.Equal(t, errors.TierPermanent, errors.GetTier(stderrors.New("plain error")))
}

// TestGetTier_UnwrapsNestedTier verifies tier extraction through wrapping.
func TestGetTier_UnwrapsNestedTier(t *testing.T) {
	inner := errors.NewTieredError(errors.TierExternalRateLimit, "rate limited", nil)
	wrapped := errors.WrapWithTier(errors.TierPermanent, "completing turn", inner)

	// The original tier wins over the wrap tier.
	assert.Equal(t, errors.TierExternalRateLimit, errors.GetTier(wrapped))
}

// TestWrapWithTier_NilStaysNil verifies wrapping nil returns nil.
func TestWrapWithTier_NilStaysNil(t *testing.T) {
	assert.NoError(t, errors.WrapWithTier(errors.TierTransient, "context", nil))
}

// TestIsRetryable covers the retryable and non-retryable tiers.
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		tier      errors.ErrorTier
		retryable bool
	}{
		{"transient", errors.TierTransient, true},
		{"rate_limit", errors.TierExternalRateLimit, true},
		{"degrading", errors.TierExternalDegrading, true},
		{"permanent", errors.TierPermanent, false},
		{"user_fixable", errors.TierUserFixable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.NewTieredError(tt.tier, "test", nil)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

// TestCalculateDelay_ExponentialGrowth verifies doubling and capping.
func TestCalculateDelay_ExponentialGrowth(t *testing.T) {
	policy := &errors.RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, errors.CalculateDelay(0, policy))
	assert.Equal(t, 200*time.Millisecond, errors.CalculateDelay(1, policy))
	assert.Equal(t, 400*time.Millisecond, errors.CalculateDelay(2, policy))
	// Capped at MaxDelay.
	assert.Equal(t, 1*time.Second, errors.CalculateDelay(10, policy))
}

// TestAddJitter_StaysWithinRange verifies jitter bounds.
func TestAddJitter_StaysWithinRange(t *testing.T) {
	base := 1 * time.Second
	for i := 0; i < 100; i++ {
		jittered := errors.AddJitter(base, 0.1)
		assert.GreaterOrEqual(t, jittered, 900*time.Millisecond)
		assert.LessOrEqual(t, jittered, 1100*time.Millisecond)
	}
}

// TestRetryExecutor_RetriesTransientUntilSuccess verifies retry on transient
// failures and success propagation.
func TestRetryExecutor_RetriesTransientUntilSuccess(t *testing.T) {
	exec := errors.NewRetryExecutor(map[errors.ErrorTier]*errors.RetryPolicy{
		errors.TierTransient: {MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0},
	})

	attempts := 0
	err := exec.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.NewTieredError(errors.TierTransient, "flaky", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestRetryExecutor_PermanentFailsImmediately verifies no retry for permanent errors.
func TestRetryExecutor_PermanentFailsImmediately(t *testing.T) {
	exec := errors.NewRetryExecutor(nil)

	attempts := 0
	err := exec.Execute(context.Background(), func() error {
		attempts++
		return errors.NewTieredError(errors.TierPermanent, "schema violation", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// TestRetryExecutor_ExhaustsBoundedAttempts verifies the attempt bound holds.
func TestRetryExecutor_ExhaustsBoundedAttempts(t *testing.T) {
	exec := errors.NewRetryExecutor(map[errors.ErrorTier]*errors.RetryPolicy{
		errors.TierTransient: {MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2.0},
	})

	attempts := 0
	err := exec.Execute(context.Background(), func() error {
		attempts++
		return errors.NewTieredError(errors.TierTransient, "always failing", nil)
	})

	require.Error(t, err)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

// TestRetryExecutor_ContextCancellationStopsRetry verifies cancellation during
// backoff returns the last error instead of blocking.
func TestRetryExecutor_ContextCancellationStopsRetry(t *testing.T) {
	exec := errors.NewRetryExecutor(map[errors.ErrorTier]*errors.RetryPolicy{
		errors.TierTransient: {MaxAttempts: 5, InitialDelay: 10 * time.Second, Multiplier: 2.0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := exec.Execute(ctx, func() error {
		attempts++
		return errors.NewTieredError(errors.TierTransient, "failing", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// TestRetryExecutor_UsesRetryAfterHint verifies the provider hint is honored.
func TestRetryExecutor_UsesRetryAfterHint(t *testing.T) {
	exec := errors.NewRetryExecutor(map[errors.ErrorTier]*errors.RetryPolicy{
		errors.TierExternalRateLimit: {
			MaxAttempts:   1,
			InitialDelay:  10 * time.Second,
			Multiplier:    2.0,
			UseRetryAfter: true,
		},
	})

	start := time.Now()
	attempts := 0
	err := exec.Execute(context.Background(), func() error {
		attempts++
		return errors.NewTieredError(errors.TierExternalRateLimit, "rate limited", nil).
			WithRetryAfter(5 * time.Millisecond)
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	// The 5ms hint must override the 10s initial delay.
	assert.Less(t, time.Since(start), 5*time.Second)
}

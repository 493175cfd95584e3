package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ascenterrors "github.com/adalundhe/ascent/core/errors"
)

// ============================================================================
// Error Classification
// ============================================================================

// classifyStatus maps a backend HTTP status into the error taxonomy so the
// retry layer can treat rate limits, outages and bad credentials each on
// their own terms.
func classifyStatus(backend string, status int, retryAfter time.Duration, err error) error {
	message := fmt.Sprintf("%s request failed with status %d", backend, status)

	switch {
	case status == http.StatusTooManyRequests:
		tiered := ascenterrors.NewTieredError(ascenterrors.TierExternalRateLimit, message, err)
		if retryAfter > 0 {
			tiered = tiered.WithRetryAfter(retryAfter)
		}
		return tiered

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ascenterrors.NewTieredError(
			ascenterrors.TierUserFixable,
			fmt.Sprintf("%s rejected the configured credentials (status %d)", backend, status),
			err,
		)

	case status == http.StatusRequestTimeout:
		return ascenterrors.NewTieredError(ascenterrors.TierTransient, message, err)

	case status >= 500:
		return ascenterrors.NewTieredError(ascenterrors.TierExternalDegrading, message, err)

	default:
		return ascenterrors.NewTieredError(ascenterrors.TierPermanent, message, err)
	}
}

// classifyTransport handles failures that never produced a status: network
// errors and timeouts are worth retrying, anything else is permanent.
func classifyTransport(backend string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ascenterrors.NewTieredError(
			ascenterrors.TierTransient,
			fmt.Sprintf("%s request timed out", backend),
			err,
		)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ascenterrors.NewTieredError(
		ascenterrors.TierTransient,
		fmt.Sprintf("%s request failed: %v", backend, err),
		err,
	)
}

// retryAfterFromHeader parses a Retry-After header in seconds form.
func retryAfterFromHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

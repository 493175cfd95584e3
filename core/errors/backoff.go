package errors

import (
	"math"
	"math/rand"
	"time"
)

// CalculateDelay computes the backoff delay for a given attempt using
// exponential backoff: delay = initial * (multiplier ^ attempt), capped at
// the policy's max delay.
func CalculateDelay(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return 0
	}

	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	factor := math.Pow(multiplier, float64(attempt))
	delay := time.Duration(float64(policy.InitialDelay) * factor)

	return capDelay(delay, policy.MaxDelay)
}

func capDelay(delay, max time.Duration) time.Duration {
	if max > 0 && delay > max {
		return max
	}
	if delay < 0 {
		// Overflow from the exponential factor.
		return max
	}
	return delay
}

// AddJitter applies random jitter to a delay. jitterPercent is the fraction
// of the delay used as the jitter range, e.g. 0.1 for +/-10%.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || delay <= 0 {
		return delay
	}

	jitterRange := float64(delay) * jitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange

	result := time.Duration(float64(delay) + jitter)
	if result < 0 {
		return 0
	}
	return result
}

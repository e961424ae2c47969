// Package retry holds the one shared backoff policy used by both
// pipelines (spec: "no global counters" — every call site passes its own
// attempt count in and gets a pure function of it back).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultFloor is the lower bound of the delay sequence below; the upper
// bound is Delay's cap argument.
const (
	DefaultFloor = 2 * time.Second
)

// Delay returns the jitter-free exponential delay for the given attempt
// number (1-indexed): 2^(attempt-1) seconds, clamped to [floor, cap].
func Delay(attempt int, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1) << uint(attempt-1) * time.Second
	if d < DefaultFloor {
		d = DefaultFloor
	}
	if d > cap {
		d = cap
	}
	return d
}

// HTTPBackOff returns a jitter-free exponential backoff.BackOff suitable
// for retrying a single outbound HTTP call (connection resets, transient
// DNS failures) within one Prover Client or relay invocation — distinct
// from the job-level delivery scheduling in Delay above, which persists
// across separate alarm/consumer invocations and cannot be modeled as
// in-process backoff state.
func HTTPBackOff(ctx context.Context, maxElapsed time.Duration) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = DefaultFloor
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = maxElapsed
	return backoff.WithContext(eb, ctx)
}

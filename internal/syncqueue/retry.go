package syncqueue

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy decides the next state of an item after a failed execution:
// exponential backoff doubling from BaseDelay up to MaxDelay, with +/-20%
// jitter, until MaxRetries attempts have failed.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// randFloat returns a value in [0, 1). Replaceable for deterministic tests.
	randFloat func() float64
}

const jitterFraction = 0.2

// NewRetryPolicy builds a policy with the standard jitter source.
func NewRetryPolicy(base, max time.Duration, maxRetries int) RetryPolicy {
	return RetryPolicy{
		BaseDelay:  base,
		MaxDelay:   max,
		MaxRetries: maxRetries,
		randFloat:  rand.Float64,
	}
}

// WithRand returns a copy of the policy drawing jitter from randFloat.
// Intended for deterministic tests.
func (p RetryPolicy) WithRand(randFloat func() float64) RetryPolicy {
	p.randFloat = randFloat
	return p
}

// Decision is the outcome of applying the policy to one failure.
type Decision struct {
	// Status is StatusRetry or StatusFailed.
	Status Status
	// Retries is the updated attempt counter.
	Retries int
	// Delay is the jittered backoff; zero when Status is StatusFailed.
	Delay time.Duration
	// NextRetryAt is now+Delay; nil when Status is StatusFailed.
	NextRetryAt *time.Time
}

// Decide computes the transition after a failure given the item's current
// retry count (before this failure is counted). It is a pure function of
// (retries, now) apart from the jitter draw.
func (p RetryPolicy) Decide(retries int, now time.Time) Decision {
	attempt := retries + 1
	if attempt >= p.MaxRetries {
		return Decision{Status: StatusFailed, Retries: attempt}
	}

	delay := p.backoff(attempt)
	jittered := p.jitter(delay)
	next := now.Add(jittered)
	return Decision{
		Status:      StatusRetry,
		Retries:     attempt,
		Delay:       jittered,
		NextRetryAt: &next,
	}
}

// backoff returns the pre-jitter delay for a 1-indexed retry attempt:
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) jitter(delay time.Duration) time.Duration {
	randFloat := p.randFloat
	if randFloat == nil {
		randFloat = rand.Float64
	}
	factor := 1 - jitterFraction + 2*jitterFraction*randFloat()
	return time.Duration(float64(delay) * factor)
}

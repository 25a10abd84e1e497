package disturb

import (
	"context"
	"time"

	"github.com/petrijr/disturb/pkg/api"
)

// RetryPolicy controls how WithRetry re-runs a failing executor inside the
// step worker.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry. Values <= 1 keep
	// it constant.
	BackoffMultiplier float64

	// MaxBackoff caps the delay; zero means no cap.
	MaxBackoff time.Duration
}

func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < retry && p.BackoffMultiplier > 1; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// RetryBuilder assembles a RetryPolicy for StepWithRetry:
//
//	disturb.Retry(4).WithExponentialBackoff(50*time.Millisecond, 2, time.Second).Policy()
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a policy allowing maxAttempts runs of the executor. Values
// below one allow a single run.
func Retry(maxAttempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(maxAttempts, 1)}}
}

// WithExponentialBackoff waits initial before the first retry and multiplies
// the wait by multiplier (2 when not positive) up to limit. A zero limit
// leaves the wait uncapped.
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, limit time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2
	}
	r.policy.InitialBackoff, r.policy.BackoffMultiplier, r.policy.MaxBackoff = initial, multiplier, limit
	return r
}

// WithConstantBackoff waits d before every retry.
func (r RetryBuilder) WithConstantBackoff(d time.Duration) RetryBuilder {
	r.policy.InitialBackoff, r.policy.BackoffMultiplier, r.policy.MaxBackoff = d, 1, 0
	return r
}

// Immediate retries without waiting.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.policy.InitialBackoff, r.policy.BackoffMultiplier, r.policy.MaxBackoff = 0, 0, 0
	return r
}

// Policy returns the assembled policy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

// WithRetry wraps exec so that executor errors are retried according to p.
// A FAILED result is a decision of the step and is not retried.
func WithRetry(exec StepExecutor, p RetryPolicy) StepExecutor {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return api.StepExecutorFunc(func(ctx context.Context, payload api.Payload) (api.StepResult, error) {
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				if d := p.delay(attempt - 1); d > 0 {
					t := time.NewTimer(d)
					select {
					case <-ctx.Done():
						t.Stop()
						return api.StepResult{}, ctx.Err()
					case <-t.C:
					}
				}
			}
			res, err := exec.Execute(ctx, payload)
			if err == nil {
				return res, nil
			}
			lastErr = err
		}
		return api.StepResult{}, lastErr
	})
}

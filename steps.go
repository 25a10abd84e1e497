package disturb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/disturb/pkg/api"
)

// EchoStep returns its payload as a successful result.
func EchoStep() StepExecutor {
	return api.EchoExecutor
}

// StepFunc adapts a function returning plain data: a nil error is a SUCCESS
// result carrying data, an error is a FAILED result carrying the error text.
func StepFunc(fn func(ctx context.Context, payload Payload) (any, error)) StepExecutor {
	return api.StepExecutorFunc(func(ctx context.Context, p api.Payload) (api.StepResult, error) {
		data, err := fn(ctx, p)
		if err != nil {
			return api.StepResult{}, err
		}
		return api.StepResult{Status: api.StatusSuccess, Data: data}, nil
	})
}

// TypedStep decodes the job payload into In and reports Out as the result
// data.
func TypedStep[In, Out any](fn func(ctx context.Context, in In) (Out, error)) StepExecutor {
	return StepFunc(func(ctx context.Context, p Payload) (any, error) {
		var in In
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode payload into %T: %w", in, err)
		}
		return fn(ctx, in)
	})
}

// SleepStep returns a step that sleeps for d and then succeeds with its
// payload, or fails with ctx.Err.
func SleepStep(d time.Duration) StepExecutor {
	return StepFunc(func(ctx context.Context, p Payload) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return p, nil
		}
	})
}

package api

import (
	"context"
	"fmt"
	"sync"
)

// StepResult is what a step executor reports back for one job.
type StepResult struct {
	Status     Status `json:"status,omitempty"`
	Data       any    `json:"data,omitempty"`
	Info       string `json:"info,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// StepInputProvider computes the job inputs of a step when the manager
// dispatches it. One job is created per returned payload.
type StepInputProvider interface {
	StepInput(ctx context.Context, workflowID, stepCode string) ([]Payload, error)
}

// StepInputFunc adapts a function to StepInputProvider.
type StepInputFunc func(ctx context.Context, workflowID, stepCode string) ([]Payload, error)

func (f StepInputFunc) StepInput(ctx context.Context, workflowID, stepCode string) ([]Payload, error) {
	return f(ctx, workflowID, stepCode)
}

// StepExecutor runs the business logic of a step for one job payload.
type StepExecutor interface {
	Execute(ctx context.Context, payload Payload) (StepResult, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, payload Payload) (StepResult, error)

func (f StepExecutorFunc) Execute(ctx context.Context, payload Payload) (StepResult, error) {
	return f(ctx, payload)
}

// EchoExecutor returns the payload it receives as a successful result.
var EchoExecutor StepExecutor = StepExecutorFunc(func(_ context.Context, p Payload) (StepResult, error) {
	return StepResult{Status: StatusSuccess, Data: p}, nil
})

// Registry maps step codes to their executors and holds the workflow's input
// provider. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	inputs    StepInputProvider
	executors map[string]StepExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]StepExecutor)}
}

// SetInputProvider installs the provider used by the manager. Without one the
// manager dispatches a single job per step carrying the initial payload.
func (r *Registry) SetInputProvider(p StepInputProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = p
}

// InputProvider returns the installed provider, or nil.
func (r *Registry) InputProvider() StepInputProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inputs
}

// Register binds exec to stepCode. Registering the same code twice is an
// error.
func (r *Registry) Register(stepCode string, exec StepExecutor) error {
	if stepCode == "" {
		return fmt.Errorf("register executor: empty step code")
	}
	if exec == nil {
		return fmt.Errorf("register executor %q: nil executor", stepCode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[stepCode]; ok {
		return fmt.Errorf("register executor %q: already registered", stepCode)
	}
	r.executors[stepCode] = exec
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(stepCode string, exec StepExecutor) {
	if err := r.Register(stepCode, exec); err != nil {
		panic(err)
	}
}

// Executor returns the executor bound to stepCode.
func (r *Registry) Executor(stepCode string) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[stepCode]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for %q", ErrStepNotFound, stepCode)
	}
	return exec, nil
}

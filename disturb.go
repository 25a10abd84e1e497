package disturb

import (
	"github.com/petrijr/disturb/internal/config"
	"github.com/petrijr/disturb/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Definition        = api.Definition
	WorkflowContext   = api.WorkflowContext
	Step              = api.Step
	StepGroup         = api.StepGroup
	Job               = api.Job
	Payload           = api.Payload
	Status            = api.Status
	StepResult        = api.StepResult
	StepExecutor      = api.StepExecutor
	StepExecutorFunc  = api.StepExecutorFunc
	StepInputProvider = api.StepInputProvider
	StepInputFunc     = api.StepInputFunc
	Registry          = api.Registry
	Observer          = api.Observer
	LoggingObserver   = api.LoggingObserver
	BasicMetrics      = api.BasicMetrics
	MetricsSnapshot   = api.MetricsSnapshot
	CompositeObserver = api.CompositeObserver
	NoopObserver      = api.NoopObserver
	WorkflowError     = api.WorkflowError
)

// Re-export common helpers.

var (
	NewRegistry          = api.NewRegistry
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Single               = api.Single
	Parallel             = api.Parallel
)

// Re-export status values for convenience.

const (
	StatusNotStarted = api.StatusNotStarted
	StatusStarted    = api.StatusStarted
	StatusRunning    = api.StatusRunning
	StatusPaused     = api.StatusPaused
	StatusSuccess    = api.StatusSuccess
	StatusFailed     = api.StatusFailed
	StatusFinished   = api.StatusFinished
)

// Re-export workflow errors.

var (
	ErrDuplicateContext   = api.ErrDuplicateContext
	ErrContextNotFound    = api.ErrContextNotFound
	ErrStepNotFound       = api.ErrStepNotFound
	ErrJobNotFound        = api.ErrJobNotFound
	ErrInconsistentStatus = api.ErrInconsistentStatus
)

// LoadDefinition reads a workflow definition file (.json, .yaml, .yml or
// .toml).
func LoadDefinition(path string) (*Definition, error) {
	return config.Load(path)
}

package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the manager and step workers for logging
// and metrics.
//
// Implementations should be fast and non-blocking; they run inline with
// message handling.
type Observer interface {
	// OnWorkflowStarted is called once a workflow context has been created.
	OnWorkflowStarted(ctx context.Context, workflow, id string)

	// OnWorkflowFinalized is called when a workflow reaches FINISHED or
	// FAILED.
	OnWorkflowFinalized(ctx context.Context, workflow, id string, status Status)

	// OnStepDispatched is called for every job sent to a step topic.
	OnStepDispatched(ctx context.Context, workflow, id, stepCode string, jobID int)

	// OnJobResult is called when a job result has been recorded.
	OnJobResult(ctx context.Context, workflow, id, stepCode string, jobID int, status Status)

	// OnMessageFailed is called when a message could not be handled.
	OnMessageFailed(ctx context.Context, workflow, msgType string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStarted(context.Context, string, string)           {}
func (NoopObserver) OnWorkflowFinalized(context.Context, string, string, Status) {}
func (NoopObserver) OnStepDispatched(context.Context, string, string, string, int) {
}
func (NoopObserver) OnJobResult(context.Context, string, string, string, int, Status) {}
func (NoopObserver) OnMessageFailed(context.Context, string, string, error)          {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStarted(ctx context.Context, workflow, id string) {
	for _, o := range c.observers {
		o.OnWorkflowStarted(ctx, workflow, id)
	}
}

func (c *CompositeObserver) OnWorkflowFinalized(ctx context.Context, workflow, id string, status Status) {
	for _, o := range c.observers {
		o.OnWorkflowFinalized(ctx, workflow, id, status)
	}
}

func (c *CompositeObserver) OnStepDispatched(ctx context.Context, workflow, id, stepCode string, jobID int) {
	for _, o := range c.observers {
		o.OnStepDispatched(ctx, workflow, id, stepCode, jobID)
	}
}

func (c *CompositeObserver) OnJobResult(ctx context.Context, workflow, id, stepCode string, jobID int, status Status) {
	for _, o := range c.observers {
		o.OnJobResult(ctx, workflow, id, stepCode, jobID, status)
	}
}

func (c *CompositeObserver) OnMessageFailed(ctx context.Context, workflow, msgType string, err error) {
	for _, o := range c.observers {
		o.OnMessageFailed(ctx, workflow, msgType, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow and job events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStarted(ctx context.Context, workflow, id string) {
	o.Logger.InfoContext(ctx, "workflow_started",
		slog.String("workflow", workflow),
		slog.String("workflow_process_id", id),
	)
}

func (o *LoggingObserver) OnWorkflowFinalized(ctx context.Context, workflow, id string, status Status) {
	level := slog.LevelInfo
	if status == StatusFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "workflow_finalized",
		slog.String("workflow", workflow),
		slog.String("workflow_process_id", id),
		slog.String("status", string(status)),
	)
}

func (o *LoggingObserver) OnStepDispatched(ctx context.Context, workflow, id, stepCode string, jobID int) {
	o.Logger.DebugContext(ctx, "step_dispatched",
		slog.String("workflow", workflow),
		slog.String("workflow_process_id", id),
		slog.String("step", stepCode),
		slog.Int("job_id", jobID),
	)
}

func (o *LoggingObserver) OnJobResult(ctx context.Context, workflow, id, stepCode string, jobID int, status Status) {
	level := slog.LevelDebug
	if status == StatusFailed {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "job_result",
		slog.String("workflow", workflow),
		slog.String("workflow_process_id", id),
		slog.String("step", stepCode),
		slog.Int("job_id", jobID),
		slog.String("status", string(status)),
	)
}

func (o *LoggingObserver) OnMessageFailed(ctx context.Context, workflow, msgType string, err error) {
	o.Logger.ErrorContext(ctx, "message_failed",
		slog.String("workflow", workflow),
		slog.String("type", msgType),
		slog.Any("error", err),
	)
}

// BasicMetrics is a simple in-memory metrics collector implementing Observer.
//
// It is intended for tests, debugging, or as a base for exporting to a real
// metrics backend.
type BasicMetrics struct {
	WorkflowsStarted  atomic.Int64
	WorkflowsFinished atomic.Int64
	WorkflowsFailed   atomic.Int64
	JobsDispatched    atomic.Int64
	JobsSucceeded     atomic.Int64
	JobsFailed        atomic.Int64
	MessagesFailed    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of BasicMetrics.
type MetricsSnapshot struct {
	WorkflowsStarted  int64
	WorkflowsFinished int64
	WorkflowsFailed   int64
	JobsDispatched    int64
	JobsSucceeded     int64
	JobsFailed        int64
	MessagesFailed    int64
}

// Snapshot returns a copy of the current counters.
func (m *BasicMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		WorkflowsStarted:  m.WorkflowsStarted.Load(),
		WorkflowsFinished: m.WorkflowsFinished.Load(),
		WorkflowsFailed:   m.WorkflowsFailed.Load(),
		JobsDispatched:    m.JobsDispatched.Load(),
		JobsSucceeded:     m.JobsSucceeded.Load(),
		JobsFailed:        m.JobsFailed.Load(),
		MessagesFailed:    m.MessagesFailed.Load(),
	}
}

func (m *BasicMetrics) OnWorkflowStarted(context.Context, string, string) {
	m.WorkflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowFinalized(_ context.Context, _, _ string, status Status) {
	if status == StatusFailed {
		m.WorkflowsFailed.Add(1)
		return
	}
	m.WorkflowsFinished.Add(1)
}

func (m *BasicMetrics) OnStepDispatched(context.Context, string, string, string, int) {
	m.JobsDispatched.Add(1)
}

func (m *BasicMetrics) OnJobResult(_ context.Context, _, _, _ string, _ int, status Status) {
	if status == StatusSuccess {
		m.JobsSucceeded.Add(1)
		return
	}
	m.JobsFailed.Add(1)
}

func (m *BasicMetrics) OnMessageFailed(context.Context, string, string, error) {
	m.MessagesFailed.Add(1)
}

// Package engine implements the workflow orchestration state machine on top
// of a persistence.Store. Every mutation is a single conditional write of the
// whole workflow context, so concurrent managers and step workers never lose
// each other's updates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
)

// Engine tracks workflow contexts for a single workflow definition.
type Engine struct {
	def    *api.Definition
	store  *persistence.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine for def backed by store.
func New(def *api.Definition, store *persistence.Store, opts ...Option) *Engine {
	e := &Engine{
		def:    def,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Definition returns the workflow definition served by the engine.
func (e *Engine) Definition() *api.Definition { return e.def }

func (e *Engine) stamp() string { return api.Timestamp(e.now()) }

func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var we *api.WorkflowError
	if errors.As(err, &we) {
		return err
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return &api.WorkflowError{Op: op, ID: id, Err: fmt.Errorf("%w: %v", api.ErrContextNotFound, err)}
	}
	return &api.WorkflowError{Op: op, ID: id, Err: err}
}

func (e *Engine) mutate(ctx context.Context, op, id string, fn func(wc *api.WorkflowContext) error) (*api.WorkflowContext, error) {
	wc, err := persistence.Mutate(ctx, e.store, id, fn)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	return wc, nil
}

// Init creates the context of workflow id with the given initial payload.
// It fails with ErrDuplicateContext if the context already exists.
func (e *Engine) Init(ctx context.Context, id string, payload api.Payload) (*api.WorkflowContext, error) {
	if payload == nil {
		payload = api.Payload{}
	}
	wc := &api.WorkflowContext{
		ID:             id,
		Workflow:       e.def.Name,
		Steps:          api.CloneSteps(e.def.Steps),
		InitialPayload: payload,
		Status:         api.StatusStarted,
		CurrentStepPos: -1,
		StartedAt:      e.stamp(),
	}
	err := e.store.Create(ctx, id, wc)
	if errors.Is(err, persistence.ErrExists) {
		return nil, &api.WorkflowError{Op: "init", ID: id, Err: api.ErrDuplicateContext}
	}
	if err != nil {
		return nil, wrap("init", id, err)
	}
	e.logger.DebugContext(ctx, "workflow context created", slog.String("workflow_process_id", id))
	return wc, nil
}

// Finalize sets the final status, finish time and info of workflow id.
func (e *Engine) Finalize(ctx context.Context, id string, status api.Status, info string) error {
	_, err := e.mutate(ctx, "finalize", id, func(wc *api.WorkflowContext) error {
		wc.Status = status
		wc.FinishedAt = e.stamp()
		wc.Info = info
		return nil
	})
	if err == nil {
		e.logger.InfoContext(ctx, "workflow finalized",
			slog.String("workflow_process_id", id),
			slog.String("status", string(status)),
		)
	}
	return err
}

// Context returns the full context document of workflow id.
func (e *Engine) Context(ctx context.Context, id string) (*api.WorkflowContext, error) {
	var wc api.WorkflowContext
	if _, err := e.store.GetInto(ctx, id, &wc); err != nil {
		return nil, wrap("context", id, err)
	}
	return &wc, nil
}

// Status returns the workflow-level status of id.
func (e *Engine) Status(ctx context.Context, id string) (api.Status, error) {
	wc, err := e.Context(ctx, id)
	if err != nil {
		return "", wrap("status", id, err)
	}
	return wc.Status, nil
}

// SetStatus overwrites the workflow-level status. A non-empty message is
// stored as the workflow info.
func (e *Engine) SetStatus(ctx context.Context, id string, status api.Status, message string) error {
	_, err := e.mutate(ctx, "set status", id, func(wc *api.WorkflowContext) error {
		wc.Status = status
		if message != "" {
			wc.Info = message
		}
		return nil
	})
	if err == nil {
		e.logger.InfoContext(ctx, "workflow status changed",
			slog.String("workflow_process_id", id),
			slog.String("status", string(status)),
		)
	}
	return err
}

// HasNextStep reports whether a step group follows the current position.
func (e *Engine) HasNextStep(ctx context.Context, id string) (bool, error) {
	wc, err := e.Context(ctx, id)
	if err != nil {
		return false, err
	}
	return wc.HasNextStep(), nil
}

// NextStepList returns the step group following the current position.
//
// When no group remains the workflow is finalized as FINISHED and ok is
// false: reading past the last group is what completes a workflow.
func (e *Engine) NextStepList(ctx context.Context, id string) (group api.StepGroup, ok bool, err error) {
	wc, err := e.Context(ctx, id)
	if err != nil {
		return api.StepGroup{}, false, err
	}
	group, ok = wc.NextGroup()
	if ok {
		return group, true, nil
	}
	if err := e.Finalize(ctx, id, api.StatusFinished, ""); err != nil {
		return api.StepGroup{}, false, err
	}
	return api.StepGroup{}, false, nil
}

// InitNextStep moves the current position to the next group and marks the
// workflow RUNNING.
func (e *Engine) InitNextStep(ctx context.Context, id string) error {
	_, err := e.mutate(ctx, "init next step", id, func(wc *api.WorkflowContext) error {
		if !wc.HasNextStep() {
			return &api.WorkflowError{Op: "init next step", ID: id,
				Err: fmt.Errorf("%w: no step after position %d", api.ErrInconsistentStatus, wc.CurrentStepPos)}
		}
		wc.CurrentStepPos++
		if wc.Status == api.StatusStarted {
			wc.Status = api.StatusRunning
		}
		return nil
	})
	return err
}

// JobRef identifies a job to register.
type JobRef struct {
	StepCode string
	JobID    int
}

// RegisterStepJob appends a NOT_STARTED job to stepCode. Registering the same
// job twice creates two entries; callers register each job once.
func (e *Engine) RegisterStepJob(ctx context.Context, id, stepCode string, jobID int) error {
	return e.RegisterStepJobs(ctx, id, []JobRef{{StepCode: stepCode, JobID: jobID}})
}

// RegisterStepJobs registers several jobs in a single write.
func (e *Engine) RegisterStepJobs(ctx context.Context, id string, jobs []JobRef) error {
	if len(jobs) == 0 {
		return nil
	}
	_, err := e.mutate(ctx, "register step job", id, func(wc *api.WorkflowContext) error {
		at := e.stamp()
		for _, j := range jobs {
			step := wc.Step(j.StepCode)
			if step == nil {
				return &api.WorkflowError{Op: "register step job", ID: id, Step: j.StepCode, Err: api.ErrStepNotFound}
			}
			step.JobList = append(step.JobList, api.Job{
				ID:           j.JobID,
				Status:       api.StatusNotStarted,
				RegisteredAt: at,
				Result:       []any{},
			})
		}
		return nil
	})
	return err
}

// RegisterStepJobStarted records that worker picked up the job. A job that
// already has a final status keeps it.
func (e *Engine) RegisterStepJobStarted(ctx context.Context, id, stepCode string, jobID int, worker string) error {
	_, err := e.mutate(ctx, "register step job started", id, func(wc *api.WorkflowContext) error {
		job, err := findJob(wc, id, stepCode, jobID)
		if err != nil {
			return err
		}
		if job.Status == api.StatusNotStarted {
			job.Status = api.StatusStarted
		}
		job.StartedAt = e.stamp()
		job.Worker = worker
		return nil
	})
	return err
}

// ProcessStepJobResult records the result of a job.
//
// A missing status is stored as FAILED and missing data as an empty list. A
// failed job fails the whole workflow: the context is finalized as FAILED with
// the result info in the same write. A workflow that has already failed keeps
// its first failure info.
func (e *Engine) ProcessStepJobResult(ctx context.Context, id, stepCode string, jobID int, result api.StepResult) error {
	_, err := e.RecordStepJobResult(ctx, id, stepCode, jobID, result)
	return err
}

// ResultRecord describes the outcome of RecordStepJobResult.
type ResultRecord struct {
	// Context is the workflow context as written.
	Context *api.WorkflowContext

	// Previous is the job status before the write.
	Previous api.Status

	// Status is the job status that was stored.
	Status api.Status

	// FailedWorkflow is true when this write moved the workflow to FAILED.
	FailedWorkflow bool
}

// RecordStepJobResult is ProcessStepJobResult returning what the write did.
func (e *Engine) RecordStepJobResult(ctx context.Context, id, stepCode string, jobID int, result api.StepResult) (*ResultRecord, error) {
	var rec ResultRecord
	wc, err := e.mutate(ctx, "process step job result", id, func(wc *api.WorkflowContext) error {
		job, err := findJob(wc, id, stepCode, jobID)
		if err != nil {
			return err
		}
		rec.Previous = job.Status

		status := result.Status
		if !status.Valid() {
			status = api.StatusFailed
		}
		rec.Status = status
		job.Status = status
		job.Result = result.Data
		if job.Result == nil {
			job.Result = []any{}
		}
		job.FinishedAt = result.FinishedAt
		if job.FinishedAt == "" {
			job.FinishedAt = e.stamp()
		}

		rec.FailedWorkflow = false
		if (status == api.StatusFailed || rec.Previous == api.StatusFailed) && wc.Status != api.StatusFailed {
			rec.FailedWorkflow = true
			wc.Status = api.StatusFailed
			wc.FinishedAt = e.stamp()
			wc.Info = result.Info
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Context = wc
	if rec.FailedWorkflow {
		e.logger.InfoContext(ctx, "workflow failed by job result",
			slog.String("workflow_process_id", id),
			slog.String("step", stepCode),
			slog.Int("job_id", jobID),
		)
	}
	return &rec, nil
}

var errStale = errors.New("stale position")

// Advance moves workflow id from group position from to the next group in a
// single write. When no group follows, the workflow is finalized as FINISHED
// instead. moved is false, and nothing is written, when the workflow already
// left position from or is in a terminal status, so that concurrent callers
// advance a workflow at most once per position.
func (e *Engine) Advance(ctx context.Context, id string, from int) (wc *api.WorkflowContext, moved bool, err error) {
	wc, err = e.mutate(ctx, "advance", id, func(wc *api.WorkflowContext) error {
		if wc.CurrentStepPos != from || wc.Status.Terminal() {
			return errStale
		}
		if !wc.HasNextStep() {
			wc.Status = api.StatusFinished
			wc.FinishedAt = e.stamp()
			return nil
		}
		wc.CurrentStepPos++
		if wc.Status == api.StatusStarted {
			wc.Status = api.StatusRunning
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if wc.Status == api.StatusFinished {
		e.logger.InfoContext(ctx, "workflow finalized",
			slog.String("workflow_process_id", id),
			slog.String("status", string(api.StatusFinished)),
		)
	}
	return wc, true, nil
}

// CurrentStepStatus aggregates the job statuses of the current group. Before
// the first group is started it returns NOT_STARTED.
func (e *Engine) CurrentStepStatus(ctx context.Context, id string) (api.Status, error) {
	wc, err := e.Context(ctx, id)
	if err != nil {
		return "", err
	}
	group, ok := wc.CurrentGroup()
	if !ok {
		return api.StatusNotStarted, nil
	}
	return group.Status(), nil
}

// Delete removes the context of workflow id.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return wrap("delete", id, e.store.Delete(ctx, id))
}

func findJob(wc *api.WorkflowContext, id, stepCode string, jobID int) (*api.Job, error) {
	step := wc.Step(stepCode)
	if step == nil {
		return nil, &api.WorkflowError{Op: "find job", ID: id, Step: stepCode, Err: api.ErrStepNotFound}
	}
	job := step.Job(jobID)
	if job == nil {
		return nil, &api.WorkflowError{Op: "find job", ID: id, Step: stepCode,
			Err: fmt.Errorf("%w: job %d", api.ErrJobNotFound, jobID)}
	}
	return job, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/engine"
	"github.com/petrijr/disturb/internal/message"
	"github.com/petrijr/disturb/internal/topic"
	"github.com/petrijr/disturb/pkg/api"
)

// Outcome tells what handling a manager message did to its workflow.
type Outcome int

const (
	// OutcomeIgnored means the message changed nothing: unknown type, stale
	// acknowledgement or handling error.
	OutcomeIgnored Outcome = iota
	// OutcomeStarted means a workflow was created and its first group
	// dispatched.
	OutcomeStarted
	// OutcomeWaiting means a result was recorded and the current group still
	// has unfinished jobs.
	OutcomeWaiting
	// OutcomeAdvanced means the next group was dispatched.
	OutcomeAdvanced
	// OutcomeFinished means the workflow completed.
	OutcomeFinished
	// OutcomeFailed means the workflow is FAILED.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeWaiting:
		return "waiting"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeFinished:
		return "finished"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Manager drives the workflows of one definition from its manager topic.
type Manager struct {
	engine *engine.Engine
	broker broker.Broker
	inputs api.StepInputProvider
	opts   *options
}

// NewManager creates a Manager. inputs computes the job payloads of each step
// when it is dispatched; when nil, every step gets a single job carrying the
// workflow's initial payload.
func NewManager(eng *engine.Engine, b broker.Broker, inputs api.StepInputProvider, opts ...Option) *Manager {
	return &Manager{
		engine: eng,
		broker: b,
		inputs: inputs,
		opts:   newOptions("manager", opts),
	}
}

func (m *Manager) workflow() string { return m.engine.Definition().Name }

// Topic returns the topic consumed by the manager.
func (m *Manager) Topic() string { return topic.Manager(m.workflow()) }

// Code returns the worker code used in monitoring.
func (m *Manager) Code() string { return m.opts.code }

// Run consumes the manager topic until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	return consume(ctx, m.opts, m.broker, m.Topic(), func(ctx context.Context, data []byte) error {
		_, err := m.HandleMessage(ctx, data)
		return err
	})
}

// HandleMessage decodes and handles one manager message.
func (m *Manager) HandleMessage(ctx context.Context, data []byte) (Outcome, error) {
	env, err := message.Parse(data)
	if err != nil {
		m.opts.observer.OnMessageFailed(ctx, m.workflow(), "", err)
		return OutcomeIgnored, err
	}
	return m.Handle(ctx, env)
}

// Handle handles a decoded manager message.
func (m *Manager) Handle(ctx context.Context, env *message.Envelope) (Outcome, error) {
	logger := m.opts.logger.With(
		slog.String("workflow", m.workflow()),
		slog.String("workflow_process_id", env.ID),
	)
	logger.DebugContext(ctx, "message received", slog.String("type", string(env.Type)))

	var (
		out Outcome
		err error
	)
	switch env.Type {
	case message.TypeWorkflowControl:
		if env.Action != message.ActionStart {
			logger.WarnContext(ctx, "unknown workflow control action", slog.String("action", env.Action))
			return OutcomeIgnored, nil
		}
		out, err = m.start(ctx, logger, env)
	case message.TypeStepAck:
		out, err = m.stepAck(ctx, logger, env)
	default:
		logger.ErrorContext(ctx, "unknown message type", slog.String("type", string(env.Type)))
		return OutcomeIgnored, nil
	}

	if err != nil {
		m.opts.observer.OnMessageFailed(ctx, m.workflow(), string(env.Type), err)
		return out, err
	}
	logger.InfoContext(ctx, "message handled", slog.String("outcome", out.String()))
	return out, nil
}

func (m *Manager) start(ctx context.Context, logger *slog.Logger, env *message.Envelope) (Outcome, error) {
	if _, err := m.engine.Init(ctx, env.ID, env.Payload); err != nil {
		return OutcomeIgnored, err
	}
	m.opts.observer.OnWorkflowStarted(ctx, m.workflow(), env.ID)

	out, err := m.advance(ctx, logger, env.ID, -1)
	if out == OutcomeAdvanced {
		out = OutcomeStarted
	}
	return out, err
}

func (m *Manager) stepAck(ctx context.Context, logger *slog.Logger, env *message.Envelope) (Outcome, error) {
	jobID, _ := env.Job()
	logger = logger.With(slog.String("step", env.StepCode), slog.Int("job_id", jobID))

	result, err := env.DecodeResult()
	if err != nil {
		// Keep the job from hanging: an unreadable result is a failed job.
		logger.WarnContext(ctx, "unreadable step result", slog.Any("error", err))
		result = api.StepResult{Status: api.StatusFailed, Info: err.Error()}
	}

	rec, err := m.engine.RecordStepJobResult(ctx, env.ID, env.StepCode, jobID, result)
	if err != nil {
		return OutcomeIgnored, err
	}
	m.opts.observer.OnJobResult(ctx, m.workflow(), env.ID, env.StepCode, jobID, rec.Status)

	wc := rec.Context
	if wc.Status == api.StatusFailed {
		if rec.FailedWorkflow {
			m.opts.observer.OnWorkflowFinalized(ctx, m.workflow(), env.ID, api.StatusFailed)
		}
		logger.InfoContext(ctx, "workflow failed", slog.String("info", wc.Info))
		return OutcomeFailed, nil
	}
	if pos := groupIndex(wc, env.StepCode); pos != wc.CurrentStepPos {
		logger.WarnContext(ctx, "result for a group that is not current",
			slog.Int("group", pos), slog.Int("current", wc.CurrentStepPos))
		return OutcomeIgnored, nil
	}

	status, err := m.engine.CurrentStepStatus(ctx, env.ID)
	if err != nil {
		return OutcomeIgnored, err
	}
	switch status {
	case api.StatusRunning:
		return OutcomeWaiting, nil
	case api.StatusSuccess:
		return m.advance(ctx, logger, env.ID, wc.CurrentStepPos)
	case api.StatusFailed:
		if err := m.engine.SetStatus(ctx, env.ID, api.StatusFailed, ""); err != nil {
			return OutcomeIgnored, err
		}
		m.opts.observer.OnWorkflowFinalized(ctx, m.workflow(), env.ID, api.StatusFailed)
		return OutcomeFailed, nil
	default:
		return OutcomeIgnored, &api.WorkflowError{Op: "step ack", ID: env.ID, Step: env.StepCode,
			Err: fmt.Errorf("%w: current step status %q", api.ErrInconsistentStatus, status)}
	}
}

// advance moves the workflow past position from and dispatches the jobs of
// the next group. Groups that produce no job at all are skipped.
func (m *Manager) advance(ctx context.Context, logger *slog.Logger, id string, from int) (Outcome, error) {
	for {
		wc, moved, err := m.engine.Advance(ctx, id, from)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !moved {
			logger.DebugContext(ctx, "workflow already advanced", slog.Int("from", from))
			return OutcomeIgnored, nil
		}
		if wc.Status == api.StatusFinished {
			logger.InfoContext(ctx, "no more step to run, workflow ends")
			m.opts.observer.OnWorkflowFinalized(ctx, m.workflow(), id, api.StatusFinished)
			return OutcomeFinished, nil
		}

		group, _ := wc.CurrentGroup()
		n, err := m.dispatch(ctx, logger, wc, group)
		if err != nil {
			return m.dispatchFailed(ctx, logger, id, err)
		}
		if n > 0 {
			return OutcomeAdvanced, nil
		}
		logger.InfoContext(ctx, "step group has no job, skipping", slog.Any("steps", group.Names()))
		from = wc.CurrentStepPos
	}
}

// dispatchFailed finalizes a workflow whose group could not be dispatched:
// no ack would ever arrive to move it on.
func (m *Manager) dispatchFailed(ctx context.Context, logger *slog.Logger, id string, cause error) (Outcome, error) {
	logger.ErrorContext(ctx, "step group dispatch failed", slog.Any("error", cause))
	if err := m.engine.Finalize(ctx, id, api.StatusFailed, cause.Error()); err != nil {
		return OutcomeIgnored, errors.Join(cause, err)
	}
	m.opts.observer.OnWorkflowFinalized(ctx, m.workflow(), id, api.StatusFailed)
	return OutcomeFailed, cause
}

type pendingJob struct {
	ref     engine.JobRef
	payload api.Payload
}

// dispatch registers every job of group, then publishes them. It returns the
// number of jobs sent.
func (m *Manager) dispatch(ctx context.Context, logger *slog.Logger, wc *api.WorkflowContext, group api.StepGroup) (int, error) {
	var jobs []pendingJob
	for _, step := range group.Steps {
		payloads, err := m.stepInput(ctx, wc, step.Name)
		if err != nil {
			return 0, &api.WorkflowError{Op: "step input", ID: wc.ID, Step: step.Name, Err: err}
		}
		for jobID, p := range payloads {
			jobs = append(jobs, pendingJob{ref: engine.JobRef{StepCode: step.Name, JobID: jobID}, payload: p})
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	refs := make([]engine.JobRef, len(jobs))
	for i, j := range jobs {
		refs[i] = j.ref
	}
	if err := m.engine.RegisterStepJobs(ctx, wc.ID, refs); err != nil {
		return 0, err
	}

	var errs []error
	sent := 0
	for _, j := range jobs {
		env := message.NewStepControl(wc.ID, j.ref.StepCode, j.ref.JobID, j.payload)
		data, err := env.Encode()
		if err == nil {
			err = m.broker.Publish(ctx, topic.Step(m.workflow(), j.ref.StepCode), data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s job %d: %w", j.ref.StepCode, j.ref.JobID, err))
			continue
		}
		sent++
		logger.DebugContext(ctx, "job dispatched", slog.String("step", j.ref.StepCode), slog.Int("job_id", j.ref.JobID))
		m.opts.observer.OnStepDispatched(ctx, m.workflow(), wc.ID, j.ref.StepCode, j.ref.JobID)
	}
	if len(errs) > 0 {
		return sent, errors.Join(errs...)
	}
	return sent, nil
}

func (m *Manager) stepInput(ctx context.Context, wc *api.WorkflowContext, stepCode string) ([]api.Payload, error) {
	if m.inputs == nil {
		return []api.Payload{wc.InitialPayload.Clone()}, nil
	}
	return m.inputs.StepInput(ctx, wc.ID, stepCode)
}

func groupIndex(wc *api.WorkflowContext, stepCode string) int {
	for i, g := range wc.Steps {
		for _, s := range g.Steps {
			if s.Name == stepCode {
				return i
			}
		}
	}
	return -1
}

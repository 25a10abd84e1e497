package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/message"
	"github.com/petrijr/disturb/internal/topic"
	"github.com/petrijr/disturb/pkg/api"
)

// StepWorker executes the jobs of one step and reports their results to the
// manager.
type StepWorker struct {
	workflow string
	step     string
	broker   broker.Broker
	exec     api.StepExecutor
	opts     *options
}

// NewStepWorker creates a worker for stepCode of workflow.
func NewStepWorker(workflow, stepCode string, b broker.Broker, exec api.StepExecutor, opts ...Option) *StepWorker {
	return &StepWorker{
		workflow: workflow,
		step:     stepCode,
		broker:   b,
		exec:     exec,
		opts:     newOptions("step-"+stepCode, opts),
	}
}

// Topic returns the topic consumed by the worker.
func (w *StepWorker) Topic() string { return topic.Step(w.workflow, w.step) }

// Step returns the step code served by the worker.
func (w *StepWorker) Step() string { return w.step }

// Code returns the worker code used in monitoring.
func (w *StepWorker) Code() string { return w.opts.code }

// Run consumes the step topic until ctx is done.
func (w *StepWorker) Run(ctx context.Context) error {
	return consume(ctx, w.opts, w.broker, w.Topic(), w.HandleMessage)
}

// HandleMessage runs the job described by a step-control message and
// publishes its result to the manager topic. Messages of any other type are
// logged and dropped.
func (w *StepWorker) HandleMessage(ctx context.Context, data []byte) error {
	env, err := message.Parse(data)
	if err != nil {
		w.opts.observer.OnMessageFailed(ctx, w.workflow, "", err)
		return err
	}
	jobID, _ := env.Job()
	logger := w.opts.logger.With(
		slog.String("workflow", w.workflow),
		slog.String("workflow_process_id", env.ID),
		slog.String("step", w.step),
		slog.Int("job_id", jobID),
	)

	if env.Type != message.TypeStepControl {
		logger.ErrorContext(ctx, "unexpected message type", slog.String("type", string(env.Type)))
		return nil
	}
	if env.StepCode != w.step {
		logger.ErrorContext(ctx, "message for another step", slog.String("message_step", env.StepCode))
		return nil
	}

	if w.opts.tracker != nil {
		if err := w.opts.tracker.RegisterStepJobStarted(ctx, env.ID, w.step, jobID, w.opts.hostname); err != nil {
			logger.WarnContext(ctx, "job start not recorded", slog.Any("error", err))
		}
	}

	// An empty job input is omitted on the wire.
	payload := env.Payload
	if payload == nil {
		payload = api.Payload{}
	}
	result := w.execute(ctx, logger, payload)

	ack, err := message.NewStepAck(env.ID, w.step, jobID, result)
	if err != nil {
		ack, _ = message.NewStepAck(env.ID, w.step, jobID, api.StepResult{
			Status:     api.StatusFailed,
			Info:       err.Error(),
			FinishedAt: result.FinishedAt,
		})
	}
	out, err := ack.Encode()
	if err != nil {
		return err
	}
	if err := w.broker.Publish(ctx, topic.Manager(w.workflow), out); err != nil {
		w.opts.observer.OnMessageFailed(ctx, w.workflow, string(message.TypeStepAck), err)
		return fmt.Errorf("publish result: %w", err)
	}
	logger.InfoContext(ctx, "job done", slog.String("status", string(result.Status)))
	return nil
}

func (w *StepWorker) execute(ctx context.Context, logger *slog.Logger, payload api.Payload) (result api.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "step executor panicked", slog.Any("panic", r))
			result = api.StepResult{Status: api.StatusFailed, Info: fmt.Sprintf("panic: %v", r)}
		}
		if result.FinishedAt == "" {
			result.FinishedAt = api.Timestamp(w.opts.now())
		}
	}()

	result, err := w.exec.Execute(ctx, payload)
	if err != nil {
		logger.WarnContext(ctx, "step executor failed", slog.Any("error", err))
		return api.StepResult{Status: api.StatusFailed, Info: err.Error()}
	}
	return result
}

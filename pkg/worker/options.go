package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/disturb/internal/monitoring"
	"github.com/petrijr/disturb/pkg/api"
)

// JobTracker records that a job was picked up by a worker. *engine.Engine
// implements it.
type JobTracker interface {
	RegisterStepJobStarted(ctx context.Context, id, stepCode string, jobID int, worker string) error
}

type options struct {
	logger    *slog.Logger
	observer  api.Observer
	monitor   *monitoring.Service
	code      string
	heartbeat time.Duration
	tracker   JobTracker
	hostname  string
	now       func() time.Time
}

// Option configures a Manager or a StepWorker.
type Option func(*options)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the observer notified of workflow events.
func WithObserver(obs api.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMonitoring records the loop lifecycle in svc.
func WithMonitoring(svc *monitoring.Service) Option {
	return func(o *options) { o.monitor = svc }
}

// WithWorkerCode sets the code the loop is registered under in monitoring.
// It defaults to "<hostname>-<role>-<uuid>".
func WithWorkerCode(code string) Option {
	return func(o *options) { o.code = code }
}

// WithHeartbeat sets the monitoring heartbeat interval. Zero disables
// heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithJobTracker makes a StepWorker record every job as started before
// executing it.
func WithJobTracker(t JobTracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithHostname overrides the host name used for worker codes and job
// tracking.
func WithHostname(h string) Option {
	return func(o *options) {
		if h != "" {
			o.hostname = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(role string, opts []Option) *options {
	host, _ := os.Hostname()
	o := &options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:  api.NoopObserver{},
		heartbeat: 30 * time.Second,
		hostname:  host,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.code == "" {
		o.code = WorkerCode(o.hostname, role)
	}
	return o
}

// WorkerCode builds a unique worker code for role on host.
func WorkerCode(host, role string) string {
	if host == "" {
		host = "localhost"
	}
	return host + "-" + role + "-" + uuid.NewString()
}

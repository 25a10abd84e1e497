package disturb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/config"
	"github.com/petrijr/disturb/internal/engine"
	"github.com/petrijr/disturb/internal/httpapi"
	"github.com/petrijr/disturb/internal/monitoring"
	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
	"github.com/petrijr/disturb/pkg/worker"
)

// Bundle wires together everything a workflow process needs: the context
// store, the monitoring store, the broker, the engine, and the handlers
// registered for its steps. Managers and step workers are created from it.
type Bundle struct {
	Definition *Definition
	Registry   *Registry

	Engine     *engine.Engine
	Store      *persistence.Store
	Monitoring *monitoring.Service
	Broker     broker.Broker

	opts     *options
	closers  []io.Closer
	hostname string
}

type options struct {
	logger     *slog.Logger
	observer   api.Observer
	heartbeat  time.Duration
	maxRetries int
}

// Option configures a Bundle or a LocalRunner.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the observer notified by managers and step workers.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithHeartbeat sets the monitoring heartbeat interval of the loops.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithStoreRetries sets how many times a conflicting context write is
// retried.
func WithStoreRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:   api.NoopObserver{},
		heartbeat:  30 * time.Second,
		maxRetries: 16,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewBundle validates def, opens the storage and broker adapters it names and
// returns the wired Bundle. Close releases them.
func NewBundle(ctx context.Context, def *Definition, registry *Registry, opts ...Option) (*Bundle, error) {
	if err := config.Validate(def); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	storeOpts := []persistence.Option{persistence.WithLogger(o.logger), persistence.WithMaxRetries(o.maxRetries)}

	store, err := persistence.Open(ctx, def.StorageAdapter, def.StorageConfig, persistence.UsageContext, storeOpts...)
	if err != nil {
		return nil, err
	}
	monStore, err := persistence.Open(ctx, def.StorageAdapter, def.StorageConfig, persistence.UsageMonitoring, storeOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	b, err := broker.Open(ctx, def.BrokerAdapter, def.BrokerConfig)
	if err != nil {
		_ = store.Close()
		_ = monStore.Close()
		return nil, fmt.Errorf("open broker %q: %w", def.BrokerAdapter, err)
	}

	bundle := newBundle(def, registry, store, monStore, b, o)
	bundle.closers = []io.Closer{b, monStore, store}
	return bundle, nil
}

func newBundle(def *Definition, registry *Registry, store, monStore *persistence.Store, b broker.Broker, o *options) *Bundle {
	if registry == nil {
		registry = api.NewRegistry()
	}
	mon := monitoring.New(monStore, monitoring.WithLogger(o.logger))
	return &Bundle{
		Definition: def,
		Registry:   registry,
		Engine:     engine.New(def, store, engine.WithLogger(o.logger)),
		Store:      store,
		Monitoring: mon,
		Broker:     b,
		opts:       o,
		hostname:   mon.Hostname(),
	}
}

func (b *Bundle) workerOptions(extra []worker.Option) []worker.Option {
	opts := []worker.Option{
		worker.WithLogger(b.opts.logger),
		worker.WithObserver(b.opts.observer),
		worker.WithMonitoring(b.Monitoring),
		worker.WithHeartbeat(b.opts.heartbeat),
		worker.WithHostname(b.hostname),
	}
	return append(opts, extra...)
}

// Manager returns a manager for the bundle's workflow.
func (b *Bundle) Manager(opts ...worker.Option) *worker.Manager {
	return worker.NewManager(b.Engine, b.Broker, b.Registry.InputProvider(), b.workerOptions(opts)...)
}

// StepWorker returns a worker for stepCode using the executor registered for
// it. Jobs are recorded as started before they run.
func (b *Bundle) StepWorker(stepCode string, opts ...worker.Option) (*worker.StepWorker, error) {
	if !b.Definition.HasStep(stepCode) {
		return nil, fmt.Errorf("%w: workflow %q has no step %q", api.ErrStepNotFound, b.Definition.Name, stepCode)
	}
	exec, err := b.Registry.Executor(stepCode)
	if err != nil {
		return nil, err
	}
	opts = append([]worker.Option{worker.WithJobTracker(b.Engine)}, opts...)
	return worker.NewStepWorker(b.Definition.Name, stepCode, b.Broker, exec, b.workerOptions(opts)...), nil
}

// StartWorkflow asks the manager to start process id with payload.
func (b *Bundle) StartWorkflow(ctx context.Context, id string, payload Payload) error {
	return worker.Start(ctx, b.Broker, b.Definition.Name, id, payload)
}

// Wait polls the context of id until it reaches a terminal status or ctx is
// done.
func (b *Bundle) Wait(ctx context.Context, id string, poll time.Duration) (*WorkflowContext, error) {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		wc, err := b.Engine.Context(ctx, id)
		switch {
		case err == nil && wc.Status.Terminal():
			return wc, nil
		case err != nil && !errors.Is(err, api.ErrContextNotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HTTPHandler returns the HTTP API of the bundle. A nil gatherer disables
// /metrics.
func (b *Bundle) HTTPHandler(gatherer prometheus.Gatherer) http.Handler {
	return httpapi.NewHandler(httpapi.Config{
		Workflows: b.Engine,
		Starter:   httpapi.StarterFunc(b.StartWorkflow),
		Workers:   b.Monitoring,
		Gatherer:  gatherer,
		Logger:    b.opts.logger,
	})
}

// Close releases the broker and stores opened by NewBundle.
func (b *Bundle) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

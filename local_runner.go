package disturb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/config"
	"github.com/petrijr/disturb/internal/persistence"
)

// LocalRunner runs a manager and step workers for one workflow inside the
// current process, over private in-memory storage and broker. It ignores the
// adapters named by the definition.
//
// Typical usage:
//
//	def, registry := disturb.New("shop").Step("fetch", fetch).MustBuild()
//	runner, _ := disturb.NewLocalRunner(def, registry)
//	_ = runner.StartWorkers(ctx, 2)
//	defer runner.Stop()
//
//	_ = runner.StartWorkflow(ctx, "order-42", disturb.Payload{"sku": "X"})
//	wc, err := runner.Wait(ctx, "order-42")
type LocalRunner struct {
	*Bundle

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner validates def and wires a Bundle over fresh in-memory
// backends.
func NewLocalRunner(def *Definition, registry *Registry, opts ...Option) (*LocalRunner, error) {
	if err := config.Validate(def); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	storeOpts := []persistence.Option{persistence.WithLogger(o.logger), persistence.WithMaxRetries(o.maxRetries)}
	store := persistence.NewStore(persistence.NewMemoryBackend(), storeOpts...)
	monStore := persistence.NewStore(persistence.NewMemoryBackend(), storeOpts...)
	b := broker.NewMemoryBroker()

	bundle := newBundle(def, registry, store, monStore, b, o)
	bundle.closers = append(bundle.closers, b)
	return &LocalRunner{Bundle: bundle}, nil
}

// StartWorkers starts one manager and perStep workers for every step of the
// workflow. Each runs until Stop is called or ctx is done.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, perStep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("disturb: LocalRunner already started")
	}
	if perStep <= 0 {
		perStep = 1
	}

	type runner interface {
		Run(ctx context.Context) error
		Code() string
	}
	loops := []runner{r.Manager()}
	for _, code := range r.Definition.StepNames() {
		for i := 0; i < perStep; i++ {
			w, err := r.StepWorker(code)
			if err != nil {
				return fmt.Errorf("disturb: %w", err)
			}
			loops = append(loops, w)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(len(loops))
	for _, l := range loops {
		go func() {
			defer r.wg.Done()
			if err := l.Run(ctx); err != nil {
				r.opts.logger.Error("local runner loop stopped",
					slog.String("worker", l.Code()),
					slog.Any("error", err),
				)
			}
		}()
	}
	return nil
}

// Stop cancels every loop started by StartWorkers and waits for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Wait blocks until workflow id reaches a terminal status or ctx is done.
func (r *LocalRunner) Wait(ctx context.Context, id string) (*WorkflowContext, error) {
	return r.Bundle.Wait(ctx, id, 5*time.Millisecond)
}

// Close stops the loops and releases the in-memory broker.
func (r *LocalRunner) Close() error {
	r.Stop()
	return r.Bundle.Close()
}

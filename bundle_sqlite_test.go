package disturb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSQLiteBundle_DurableAcrossRestart starts a workflow with one process,
// stops it after the first group was dispatched, and lets a second process
// over the same database file finish it.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dsn := "file:" + filepath.Join(t.TempDir(), "disturb_bundle.db")
	flow := func() *FlowBuilder {
		return New("durable_add_one").
			Step("add_one", TypedStep(func(ctx context.Context, in struct{ N int }) (int, error) {
				return in.N + 1, nil
			})).
			Step("report", EchoStep()).
			Storage("sqlite", map[string]any{"dsn": dsn})
	}

	// Phase 1: only the manager runs, so the first job stays pending.
	def, registry, err := flow().Build()
	require.NoError(t, err)
	metrics := &BasicMetrics{}
	bundle1, err := NewBundle(ctx, def, registry, WithHeartbeat(time.Hour), WithObserver(metrics))
	require.NoError(t, err)

	mgrCtx, stopMgr := context.WithCancel(ctx)
	mgrDone := make(chan error, 1)
	go func() { mgrDone <- bundle1.Manager().Run(mgrCtx) }()

	require.NoError(t, bundle1.StartWorkflow(ctx, "wf-1", Payload{"N": 41}))
	require.Eventually(t, func() bool {
		return metrics.JobsDispatched.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	stopMgr()
	require.NoError(t, <-mgrDone)
	require.NoError(t, bundle1.Close())

	// Phase 2: a fresh process over the same file picks the workflow up.
	def, registry, err = flow().Build()
	require.NoError(t, err)
	bundle2, err := NewBundle(ctx, def, registry, WithHeartbeat(time.Hour))
	require.NoError(t, err)
	defer bundle2.Close()

	wc, err := bundle2.Engine.Context(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, wc.Status)
	assert.Equal(t, 0, wc.CurrentStepPos)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() { _ = bundle2.Manager().Run(runCtx) }()
	for _, code := range def.StepNames() {
		w, err := bundle2.StepWorker(code)
		require.NoError(t, err)
		go func() { _ = w.Run(runCtx) }()
	}

	wc, err = bundle2.Wait(ctx, "wf-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, wc.Status)
	assert.EqualValues(t, 42, wc.Step("add_one").Job(0).Result)
}

func TestBundle_StepWorkerUnknownStep(t *testing.T) {
	def, registry, err := New("bundle_unknown_step").Step("a", EchoStep()).Build()
	require.NoError(t, err)
	b, err := NewBundle(context.Background(), def, registry)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.StepWorker("missing")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestBundle_RejectsInvalidDefinition(t *testing.T) {
	_, err := NewBundle(context.Background(), &Definition{Name: "bad name!"}, nil)
	assert.Error(t, err)
}

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
)

func testDefinition() *api.Definition {
	return &api.Definition{
		Name: "test",
		Steps: []api.StepGroup{
			api.Single(api.Step{Name: "fetch"}),
			api.Parallel(api.Step{Name: "left"}, api.Step{Name: "right"}),
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return New(testDefinition(), persistence.NewStore(persistence.NewMemoryBackend(), persistence.WithMaxRetries(64)),
		WithClock(func() time.Time { return clock }))
}

func TestInitCreatesContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", api.Payload{"foo": "bar"})
	require.NoError(t, err)

	wc, err := e.Context(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStarted, wc.Status)
	assert.Equal(t, -1, wc.CurrentStepPos)
	assert.Equal(t, "2024-01-02 03:04:05", wc.StartedAt)
	assert.Equal(t, "bar", wc.InitialPayload["foo"])
	assert.Equal(t, "test", wc.Workflow)
	require.Len(t, wc.Steps, 2)
	assert.Equal(t, api.GroupParallel, wc.Steps[1].Kind)
}

func TestInitDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	_, err = e.Init(ctx, "wf-1", nil)
	require.ErrorIs(t, err, api.ErrDuplicateContext)
}

func TestInitDoesNotShareDefinitionSteps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJob(ctx, "wf-1", "fetch", 0))

	assert.Empty(t, e.Definition().Steps[0].Steps[0].JobList)
}

func TestMissingContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Finalize(ctx, "nope", api.StatusFailed, "")
	require.ErrorIs(t, err, api.ErrContextNotFound)

	_, err = e.Status(ctx, "nope")
	require.ErrorIs(t, err, api.ErrContextNotFound)

	err = e.ProcessStepJobResult(ctx, "nope", "fetch", 0, api.StepResult{Status: api.StatusSuccess})
	require.ErrorIs(t, err, api.ErrContextNotFound)

	err = e.Delete(ctx, "nope")
	require.ErrorIs(t, err, api.ErrContextNotFound)

	var we *api.WorkflowError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "nope", we.ID)
}

func TestJobLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJob(ctx, "wf-1", "fetch", 0))

	status, err := e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusNotStarted, status)

	require.NoError(t, e.RegisterStepJobStarted(ctx, "wf-1", "fetch", 0, "host-a"))
	status, err = e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStarted, status)

	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", 0,
		api.StepResult{Status: api.StatusSuccess, Data: map[string]any{"n": 1}}))

	wc, err := e.Context(ctx, "wf-1")
	require.NoError(t, err)
	job := wc.Step("fetch").Job(0)
	require.NotNil(t, job)
	assert.Equal(t, api.StatusSuccess, job.Status)
	assert.Equal(t, "host-a", job.Worker)
	assert.NotEmpty(t, job.RegisteredAt)
	assert.NotEmpty(t, job.StartedAt)
	assert.NotEmpty(t, job.FinishedAt)
	assert.Equal(t, map[string]any{"n": float64(1)}, job.Result)

	status, err = e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, status)
}

func TestProcessStepJobResultDefaults(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJob(ctx, "wf-1", "fetch", 0))

	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", 0, api.StepResult{Info: "no status"}))

	wc, err := e.Context(ctx, "wf-1")
	require.NoError(t, err)
	job := wc.Step("fetch").Job(0)
	assert.Equal(t, api.StatusFailed, job.Status)
	assert.Equal(t, []any{}, job.Result)
}

func TestJobNotFound(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)

	err = e.ProcessStepJobResult(ctx, "wf-1", "fetch", 7, api.StepResult{Status: api.StatusSuccess})
	require.ErrorIs(t, err, api.ErrJobNotFound)

	err = e.RegisterStepJobStarted(ctx, "wf-1", "fetch", 7, "host")
	require.ErrorIs(t, err, api.ErrJobNotFound)

	err = e.RegisterStepJob(ctx, "wf-1", "unknown", 0)
	require.ErrorIs(t, err, api.ErrStepNotFound)
}

func TestFailedJobFailsWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJobs(ctx, "wf-1", []JobRef{{"fetch", 0}, {"fetch", 1}}))

	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", 0, api.StepResult{Status: api.StatusFailed, Info: "remote down"}))

	wc, err := e.Context(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, wc.Status)
	assert.Equal(t, "remote down", wc.Info)
	assert.NotEmpty(t, wc.FinishedAt)

	// A later failure keeps the first info.
	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", 1, api.StepResult{Status: api.StatusFailed, Info: "second"}))
	wc, err = e.Context(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "remote down", wc.Info)
}

func TestParallelGroupFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJob(ctx, "wf-1", "fetch", 0))
	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", 0, api.StepResult{Status: api.StatusSuccess}))

	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJobs(ctx, "wf-1", []JobRef{{"left", 0}, {"right", 0}}))

	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "left", 0, api.StepResult{Status: api.StatusSuccess}))
	status, err := e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, status)

	require.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "right", 0, api.StepResult{Status: api.StatusFailed}))
	status, err = e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, status)
}

func TestNextStepListFinishesAtEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)

	group, ok, err := e.NextStepList(ctx, "wf-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"fetch"}, group.Names())

	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))

	has, err := e.HasNextStep(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, has)

	group, ok, err = e.NextStepList(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, group.Steps)

	status, err := e.Status(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusFinished, status)

	err = e.InitNextStep(ctx, "wf-1")
	require.ErrorIs(t, err, api.ErrInconsistentStatus)
}

func TestSetStatusAndDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.SetStatus(ctx, "wf-1", api.StatusPaused, "operator"))

	wc, err := e.Context(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusPaused, wc.Status)
	assert.Equal(t, "operator", wc.Info)

	require.NoError(t, e.Delete(ctx, "wf-1"))
	_, err = e.Context(ctx, "wf-1")
	require.ErrorIs(t, err, api.ErrContextNotFound)
}

func TestConcurrentResultsAreNotLost(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	const jobs = 20
	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	refs := make([]JobRef, jobs)
	for i := range refs {
		refs[i] = JobRef{StepCode: "fetch", JobID: i}
	}
	require.NoError(t, e.RegisterStepJobs(ctx, "wf-1", refs))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, e.ProcessStepJobResult(ctx, "wf-1", "fetch", id, api.StepResult{Status: api.StatusSuccess}))
		}(i)
	}
	wg.Wait()

	status, err := e.CurrentStepStatus(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, status)
}

func TestAdvanceMovesOncePerPosition(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)

	wc, moved, err := e.Advance(ctx, "wf-1", -1)
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, 0, wc.CurrentStepPos)
	assert.Equal(t, api.StatusRunning, wc.Status)

	_, moved, err = e.Advance(ctx, "wf-1", -1)
	require.NoError(t, err)
	assert.False(t, moved, "a second advance from the same position must be a no-op")

	_, moved, err = e.Advance(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.True(t, moved)

	wc, moved, err = e.Advance(ctx, "wf-1", 1)
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, api.StatusFinished, wc.Status)
	assert.NotEmpty(t, wc.FinishedAt)

	_, moved, err = e.Advance(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestConcurrentAdvance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		moves int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, moved, err := e.Advance(ctx, "wf-1", -1)
			assert.NoError(t, err)
			if moved {
				mu.Lock()
				moves++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, moves)
}

func TestRecordStepJobResult(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Init(ctx, "wf-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.InitNextStep(ctx, "wf-1"))
	require.NoError(t, e.RegisterStepJobs(ctx, "wf-1", []JobRef{{"fetch", 0}, {"fetch", 1}}))

	rec, err := e.RecordStepJobResult(ctx, "wf-1", "fetch", 0, api.StepResult{Status: api.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, api.StatusNotStarted, rec.Previous)
	assert.Equal(t, api.StatusSuccess, rec.Status)
	assert.False(t, rec.FailedWorkflow)
	assert.Equal(t, api.StatusRunning, rec.Context.Status)

	rec, err = e.RecordStepJobResult(ctx, "wf-1", "fetch", 1, api.StepResult{Status: "bogus", Info: "bad"})
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, rec.Status)
	assert.True(t, rec.FailedWorkflow)

	rec, err = e.RecordStepJobResult(ctx, "wf-1", "fetch", 1, api.StepResult{Status: api.StatusFailed})
	require.NoError(t, err)
	assert.False(t, rec.FailedWorkflow, "the workflow was already failed")
	assert.Equal(t, "bad", rec.Context.Info)
}

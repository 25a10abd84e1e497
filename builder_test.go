package disturb

import (
	"context"
	"encoding/json"
	"testing"
)

func TestFlowBuilder_BuildsDefinition(t *testing.T) {
	def, registry, err := New("shop").
		Step("fetch", EchoStep()).
		Parallel(NewStep("resize", EchoStep()), NewStep("index", EchoStep())).
		Storage("sqlite", map[string]any{"dsn": "file:shop.db"}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(def.Steps))
	}
	if def.Steps[1].Kind.String() != "parallel" {
		t.Fatalf("expected second group to be parallel")
	}
	if got := def.StepNames(); len(got) != 3 || got[0] != "fetch" || got[2] != "index" {
		t.Fatalf("unexpected step names %v", got)
	}
	if def.StorageAdapter != "sqlite" || def.BrokerAdapter != "memory" {
		t.Fatalf("unexpected adapters %q/%q", def.StorageAdapter, def.BrokerAdapter)
	}
	for _, code := range def.StepNames() {
		if _, err := registry.Executor(code); err != nil {
			t.Fatalf("executor for %q not registered: %v", code, err)
		}
	}

	raw, err := json.Marshal(def.Steps)
	if err != nil {
		t.Fatalf("marshal steps: %v", err)
	}
	want := `[{"name":"fetch"},[{"name":"resize"},{"name":"index"}]]`
	if string(raw) != want {
		t.Fatalf("steps encoded as %s, want %s", raw, want)
	}
}

func TestFlowBuilder_Errors(t *testing.T) {
	cases := map[string]*FlowBuilder{
		"nil executor":   New("wf").Step("a", nil),
		"duplicate step": New("wf").Step("a", EchoStep()).Step("a", EchoStep()),
		"empty parallel": New("wf").Parallel(),
		"bad name":       New("wf name").Step("a", EchoStep()),
		"bad storage":    New("wf").Step("a", EchoStep()).Storage("sqlite", nil),
		"bad broker":     New("wf").Step("a", EchoStep()).Broker("kafka", nil),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := b.Build(); err == nil {
				t.Fatalf("expected Build to fail")
			}
		})
	}
}

func TestFlowBuilder_ErrorSticks(t *testing.T) {
	b := New("wf").Step("a", nil).Step("b", EchoStep())
	if _, _, err := b.Build(); err == nil {
		t.Fatalf("expected first error to be kept")
	}
}

func TestFlowBuilder_MustBuildPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustBuild to panic")
		}
	}()
	New("wf").Parallel().MustBuild()
}

func TestFlowBuilder_BuildCopiesSteps(t *testing.T) {
	b := New("wf").Step("a", EchoStep())
	def1, _ := b.MustBuild()
	b.Step("b", EchoStep())
	def2, _ := b.MustBuild()

	if len(def1.Steps) != 1 || len(def2.Steps) != 2 {
		t.Fatalf("expected independent definitions, got %d and %d groups", len(def1.Steps), len(def2.Steps))
	}
}

func TestFlowBuilder_InputsAndRetry(t *testing.T) {
	calls := 0
	flaky := StepExecutorFunc(func(ctx context.Context, p Payload) (StepResult, error) {
		calls++
		if calls < 3 {
			return StepResult{}, context.DeadlineExceeded
		}
		return StepResult{Status: StatusSuccess}, nil
	})
	inputs := StepInputFunc(func(ctx context.Context, id, code string) ([]Payload, error) {
		return []Payload{{"n": 1}, {"n": 2}}, nil
	})

	_, registry, err := New("wf").
		StepWithRetry("a", flaky, Retry(3).Immediate().Policy()).
		Inputs(inputs).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if registry.InputProvider() == nil {
		t.Fatalf("expected input provider to be installed")
	}

	exec, _ := registry.Executor("a")
	res, err := exec.Execute(context.Background(), Payload{})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("expected retried success, got %v / %v", res, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

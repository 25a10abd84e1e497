package disturb

import (
	"fmt"

	"github.com/petrijr/disturb/internal/config"
	"github.com/petrijr/disturb/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows in code:
//
//	flow := disturb.New("shop").
//	    Step("fetch", fetchProducts).
//	    Parallel(
//	        disturb.NewStep("resize", resizeImages),
//	        disturb.NewStep("index", indexProducts),
//	    ).
//	    Storage("sqlite", map[string]any{"dsn": "file:shop.db"})
//
//	def, registry, err := flow.Build()
//
// The builder produces the same Definition a definition file would, plus the
// Registry binding every step to its executor.
type FlowBuilder struct {
	def      api.Definition
	registry *api.Registry
	err      error
}

// StepSpec pairs a step name with its executor, for Parallel.
type StepSpec struct {
	Name string
	Exec StepExecutor
}

// NewStep builds a StepSpec.
func NewStep(name string, exec StepExecutor) StepSpec {
	return StepSpec{Name: name, Exec: exec}
}

// New creates a new workflow builder with the given name. The definition
// starts with in-memory storage and broker.
func New(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.Definition{
			Name:           name,
			StorageAdapter: "memory",
			BrokerAdapter:  "memory",
		},
		registry: api.NewRegistry(),
	}
}

// Name returns the workflow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

func (b *FlowBuilder) register(spec StepSpec) bool {
	if b.err != nil {
		return false
	}
	if spec.Exec == nil {
		b.err = fmt.Errorf("disturb: step %q has nil executor", spec.Name)
		return false
	}
	if err := b.registry.Register(spec.Name, spec.Exec); err != nil {
		b.err = fmt.Errorf("disturb: %w", err)
		return false
	}
	return true
}

// Step appends a single step to the workflow.
func (b *FlowBuilder) Step(name string, exec StepExecutor) *FlowBuilder {
	if b.register(StepSpec{Name: name, Exec: exec}) {
		b.def.Steps = append(b.def.Steps, api.Single(api.Step{Name: name}))
	}
	return b
}

// StepWithRetry appends a step whose executor is retried on error according
// to policy.
func (b *FlowBuilder) StepWithRetry(name string, exec StepExecutor, policy RetryPolicy) *FlowBuilder {
	if exec == nil {
		return b.Step(name, nil)
	}
	return b.Step(name, WithRetry(exec, policy))
}

// Parallel appends a group of steps that are dispatched together. The group
// succeeds once every job of every step succeeded.
func (b *FlowBuilder) Parallel(steps ...StepSpec) *FlowBuilder {
	if len(steps) == 0 && b.err == nil {
		b.err = fmt.Errorf("disturb: empty parallel group")
		return b
	}
	group := make([]api.Step, 0, len(steps))
	for _, s := range steps {
		if !b.register(s) {
			return b
		}
		group = append(group, api.Step{Name: s.Name})
	}
	b.def.Steps = append(b.def.Steps, api.Parallel(group...))
	return b
}

// Inputs installs the provider computing the jobs of each step.
func (b *FlowBuilder) Inputs(p StepInputProvider) *FlowBuilder {
	b.registry.SetInputProvider(p)
	return b
}

// Storage selects the context store adapter and its configuration.
func (b *FlowBuilder) Storage(adapter string, cfg map[string]any) *FlowBuilder {
	b.def.StorageAdapter = adapter
	b.def.StorageConfig = cfg
	return b
}

// Broker selects the broker adapter and its configuration.
func (b *FlowBuilder) Broker(adapter string, cfg map[string]any) *FlowBuilder {
	b.def.BrokerAdapter = adapter
	b.def.BrokerConfig = cfg
	return b
}

// Build validates the workflow and returns its definition and registry.
func (b *FlowBuilder) Build() (*Definition, *Registry, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	def := b.def
	def.Steps = api.CloneSteps(b.def.Steps)
	if err := config.Validate(&def); err != nil {
		return nil, nil, err
	}
	return &def, b.registry, nil
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustBuild() (*Definition, *Registry) {
	def, reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def, reg
}

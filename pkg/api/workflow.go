package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the opaque, JSON-shaped input handed to a step job or used to
// start a workflow.
type Payload map[string]any

// Clone returns a deep copy of p. Values that do not round-trip through JSON
// are copied shallowly.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		out := make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out Payload
	_ = json.Unmarshal(raw, &out)
	return out
}

// Job is one fan-out unit of a step. Its ID is the index assigned by the
// manager when the step inputs were dispatched.
type Job struct {
	ID           int    `json:"id"`
	Status       Status `json:"status"`
	Result       any    `json:"result"`
	RegisteredAt string `json:"registeredAt,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	Worker       string `json:"worker,omitempty"`
}

// Step is a named unit of work. Inside a WorkflowContext it also carries the
// jobs registered for it.
type Step struct {
	Name    string `json:"name"`
	JobList []Job  `json:"jobList,omitempty"`
}

// Status aggregates the status of every job registered for the step.
func (s Step) Status() Status {
	statuses := make([]Status, 0, len(s.JobList))
	for _, j := range s.JobList {
		statuses = append(statuses, j.Status)
	}
	return AggregateStatus(statuses)
}

// Job returns the job with the given id, or nil.
func (s *Step) Job(id int) *Job {
	for i := range s.JobList {
		if s.JobList[i].ID == id {
			return &s.JobList[i]
		}
	}
	return nil
}

// GroupKind discriminates the two StepGroup variants.
type GroupKind int

const (
	GroupSingle GroupKind = iota
	GroupParallel
)

func (k GroupKind) String() string {
	if k == GroupParallel {
		return "parallel"
	}
	return "single"
}

// StepGroup is one position of the workflow sequence: either a single step or
// a set of steps that run in parallel.
//
// In JSON a single step is encoded as an object and a parallel group as an
// array of objects.
type StepGroup struct {
	Kind  GroupKind
	Steps []Step
}

// Single builds a single-step group.
func Single(s Step) StepGroup {
	return StepGroup{Kind: GroupSingle, Steps: []Step{s}}
}

// Parallel builds a group whose steps are dispatched together.
func Parallel(steps ...Step) StepGroup {
	return StepGroup{Kind: GroupParallel, Steps: steps}
}

// Names returns the step names of the group in declaration order.
func (g StepGroup) Names() []string {
	out := make([]string, 0, len(g.Steps))
	for _, s := range g.Steps {
		out = append(out, s.Name)
	}
	return out
}

// Status returns the aggregate of the per-step aggregates. Steps without any
// registered job are left out; a group where no step has jobs is FAILED.
// Step.Status on its own still reports FAILED for an empty job list, so an
// idle step inside a parallel group does not fail a group whose other steps
// succeeded.
func (g StepGroup) Status() Status {
	statuses := make([]Status, 0, len(g.Steps))
	for _, s := range g.Steps {
		if len(s.JobList) == 0 {
			continue
		}
		statuses = append(statuses, s.Status())
	}
	return AggregateStatus(statuses)
}

// JobCount returns the number of jobs registered across the group.
func (g StepGroup) JobCount() int {
	n := 0
	for _, s := range g.Steps {
		n += len(s.JobList)
	}
	return n
}

func (g StepGroup) clone() StepGroup {
	out := StepGroup{Kind: g.Kind, Steps: make([]Step, len(g.Steps))}
	for i, s := range g.Steps {
		out.Steps[i] = Step{Name: s.Name}
		if len(s.JobList) > 0 {
			out.Steps[i].JobList = append([]Job(nil), s.JobList...)
		}
	}
	return out
}

func (g StepGroup) MarshalJSON() ([]byte, error) {
	if g.Kind == GroupParallel {
		steps := g.Steps
		if steps == nil {
			steps = []Step{}
		}
		return json.Marshal(steps)
	}
	if len(g.Steps) != 1 {
		return nil, fmt.Errorf("single step group holds %d steps", len(g.Steps))
	}
	return json.Marshal(g.Steps[0])
}

func (g *StepGroup) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty step group")
	}
	switch data[0] {
	case '{':
		var s Step
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = Single(s)
		return nil
	case '[':
		var steps []Step
		if err := json.Unmarshal(data, &steps); err != nil {
			return err
		}
		*g = Parallel(steps...)
		return nil
	default:
		return fmt.Errorf("step group must be an object or an array, got %q", data[0])
	}
}

// CloneSteps returns a deep copy of groups.
func CloneSteps(groups []StepGroup) []StepGroup {
	out := make([]StepGroup, len(groups))
	for i, g := range groups {
		out[i] = g.clone()
	}
	return out
}

// Definition describes a workflow as loaded from its configuration file. It is
// immutable once loaded.
type Definition struct {
	Name              string
	Steps             []StepGroup
	ServicesNamespace string

	StorageAdapter string
	StorageConfig  map[string]any

	BrokerAdapter string
	BrokerConfig  map[string]any
}

// StepNames returns every step name of the definition, flattened.
func (d *Definition) StepNames() []string {
	var out []string
	for _, g := range d.Steps {
		out = append(out, g.Names()...)
	}
	return out
}

// HasStep reports whether the definition declares a step named code.
func (d *Definition) HasStep(code string) bool {
	for _, n := range d.StepNames() {
		if n == code {
			return true
		}
	}
	return false
}

// WorkflowContext is the persisted state of one workflow instance.
type WorkflowContext struct {
	ID             string      `json:"id"`
	Workflow       string      `json:"workflow,omitempty"`
	Steps          []StepGroup `json:"steps"`
	InitialPayload Payload     `json:"initialPayload"`
	Status         Status      `json:"status"`
	CurrentStepPos int         `json:"currentStepPos"`
	StartedAt      string      `json:"startedAt,omitempty"`
	FinishedAt     string      `json:"finishedAt,omitempty"`
	Info           string      `json:"info,omitempty"`
}

// HasNextStep reports whether a group exists after the current position.
func (c *WorkflowContext) HasNextStep() bool {
	return c.CurrentStepPos+1 < len(c.Steps)
}

// NextGroup returns the group following the current position.
func (c *WorkflowContext) NextGroup() (StepGroup, bool) {
	if !c.HasNextStep() {
		return StepGroup{}, false
	}
	return c.Steps[c.CurrentStepPos+1], true
}

// CurrentGroup returns the group at the current position.
func (c *WorkflowContext) CurrentGroup() (StepGroup, bool) {
	if c.CurrentStepPos < 0 || c.CurrentStepPos >= len(c.Steps) {
		return StepGroup{}, false
	}
	return c.Steps[c.CurrentStepPos], true
}

// Step returns a pointer to the step named code, searching every group.
func (c *WorkflowContext) Step(code string) *Step {
	for gi := range c.Steps {
		for si := range c.Steps[gi].Steps {
			if c.Steps[gi].Steps[si].Name == code {
				return &c.Steps[gi].Steps[si]
			}
		}
	}
	return nil
}

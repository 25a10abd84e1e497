// Package api contains the shared data model of the disturb orchestrator:
// workflow definitions, the persisted workflow context, statuses and the
// hooks that connect business code to the manager and the step workers.
//
// # Workflows
//
// A workflow is an ordered list of step groups. A group is either a single
// step or a parallel set of steps; the groups run strictly one after the
// other. Each step fans out into jobs, one per input payload returned by the
// StepInputProvider when the group is dispatched.
//
// # Status aggregation
//
// The status of a step is derived from its jobs with AggregateStatus, and the
// status of a parallel group is the aggregate of its per-step statuses. The
// aggregate is always recomputed from job entries and never stored.
//
// # Hooks
//
// StepInputProvider computes job inputs on the manager side. StepExecutor runs
// a job on the step worker side. Registry binds executors to step codes.
//
// # Observability
//
// Observer receives lifecycle callbacks. NoopObserver, LoggingObserver,
// BasicMetrics and CompositeObserver are provided; package metrics adds a
// Prometheus implementation.
package api

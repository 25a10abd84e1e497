// Package disturb is a distributed workflow orchestrator for Go.
//
// A workflow is a named sequence of step groups. Each group is either a
// single step or a set of steps that run in parallel. A step is split into
// jobs, one per input payload, and every job is executed by whichever step
// worker picks it from the step's broker topic. The state of every workflow
// instance lives in a context document, stored in a pluggable backend, so any
// process can continue a workflow another one started.
//
// # Processes
//
// Two kinds of long-running loops cooperate through the broker:
//
//   - The manager of a workflow listens on "disturb-<workflow>-manager". It
//     creates the context when a workflow is started, dispatches the jobs of
//     each group, and advances or finalizes the workflow as job results come
//     back.
//   - A step worker listens on "disturb-<workflow>-<step>". It runs the step
//     executor for each job it receives and reports the result to the
//     manager.
//
// Both record their lifecycle and a periodic heartbeat in the monitoring
// store so that operators can tell which workers are alive.
//
// # Defining workflows
//
// A workflow can be described in a definition file (JSON, YAML or TOML) and
// loaded with LoadDefinition, or built in code:
//
//	def, registry, err := disturb.New("shop").
//	    Step("fetch", fetchProducts).
//	    Parallel(
//	        disturb.NewStep("resize", resizeImages),
//	        disturb.NewStep("index", indexProducts),
//	    ).
//	    Storage("postgres", map[string]any{"dsn": dsn}).
//	    Broker("nats", map[string]any{"host": natsURL}).
//	    Build()
//
// # Running
//
// NewBundle opens the storage and broker adapters named by the definition and
// hands out managers and step workers. LocalRunner does the same over private
// in-memory adapters, which is convenient for tests and development.
//
// Workflow state moves through NOT_STARTED, STARTED, RUNNING and ends in
// FINISHED or FAILED. Any failed job fails the whole workflow.
package disturb

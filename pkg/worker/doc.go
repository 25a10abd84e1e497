// Package worker runs the two long-lived loops of a workflow: the Manager,
// which owns the workflow contexts and moves them from step group to step
// group, and the StepWorker, which executes the jobs of one step.
//
// Both loops consume a single broker topic and acknowledge every delivery
// once it has been handled, including deliveries whose handling failed;
// failures are logged and reported to the configured api.Observer.
//
// # Manager
//
// The manager consumes the topic "disturb-<workflow>-manager". A
// workflow-control "start" message creates the workflow context and
// dispatches the first step group. Every step acknowledgement records the job
// result and, once the current group has succeeded, dispatches the next one.
// A failed job fails the workflow and nothing more is dispatched for it.
//
// # Step workers
//
// A step worker consumes "disturb-<workflow>-<step>", runs the step's
// api.StepExecutor on the job payload and publishes the result back to the
// manager topic. Any number of step workers can share a step topic.
//
// # Monitoring
//
// When given a monitoring.Service, a loop records itself as started, beats
// periodically while it runs and records its exit.
package worker

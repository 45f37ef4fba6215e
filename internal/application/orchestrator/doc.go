// Package orchestrator runs tender pipeline invocations.
//
// The manager coordinates invocations by:
//   - Validating submissions and normalizing the workflow type
//   - Queueing invocations on the worker pool
//   - Managing the lifecycle (submit, run, cancel, timeout)
//   - Persisting invocation records, stage by stage, in result storage
//   - Publishing invocation and stage events to the event bus
//
// The knowledge service exposes scans and listings of the local knowledge
// bases shared by all invocations.
package orchestrator

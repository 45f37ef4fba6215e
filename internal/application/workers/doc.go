// Package workers implements the worker pool that runs pipeline invocations.
//
// The pool manages a fixed number of goroutines that:
//   - Take jobs from a bounded queue (a full queue rejects submissions)
//   - Run each job with the pool context, cancelled on shutdown
//   - Report busy and idle transitions for the health monitor
//
// The health monitor tracks worker status and queue depth and records metrics.
package workers

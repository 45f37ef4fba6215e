// Package graph implements the declarative stage graph and its executor.
//
// A Definition is assembled with a Builder and validated once: every edge
// and routing label must point at a declared stage or End, the graph must be
// acyclic, no join may stall under any routing choice, and stages that can
// run concurrently must write disjoint fields.
//
// The Executor runs a Definition against a State. Each stage sees only its
// declared inputs and can only write its declared outputs. Independent
// branches run on separate goroutines and joins fire once all of their
// predecessors completed. The first failure aborts the whole invocation.
package graph

// Package domain holds the plain data types shared between the orchestrator,
// the adapters and the API layer: invocation records, lifecycle events,
// document references, parsed documents and search results.
package domain

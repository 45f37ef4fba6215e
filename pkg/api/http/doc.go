// Package http serves the tenderflow REST API on gin.
//
// Routes live under /api/v1: invocations can be submitted, listed, polled,
// cancelled and downloaded as a report, and the knowledge base can be
// scanned, listed, searched and cleared. /health reports worker pool state
// and /metrics exposes the Prometheus registry.
package http

// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/invocations/:id/ws. The first frame is a
// snapshot of the invocation record; stage and invocation events follow
// until the invocation finishes, when the server closes the connection.
package websocket

// Package grpc serves the standard gRPC health checking protocol, driven by
// the worker pool health.
package grpc

package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Every typed error in this package matches exactly one of
// them through errors.Is.
var (
	ErrInvalidGraph = errors.New("invalid graph")
	ErrCycleFound   = errors.New("cycle detected")
	ErrSchema       = errors.New("schema error")
	ErrRouting      = errors.New("routing error")
	ErrHandler      = errors.New("handler error")
	ErrStalledJoin  = errors.New("stalled join")
)

// GraphError reports a graph construction failure.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycleFound, Msg: "cycle: " + strings.Join(path, " -> ")}
}

// SchemaError is returned when a required input field is absent from state.
type SchemaError struct {
	StageID string
	Field   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("stage %q: missing required input field %q", e.StageID, e.Field)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// RoutingError is returned when a routing function yields a label that has
// no target, or rejects the state it was given.
type RoutingError struct {
	StageID string
	Label   string
	Reason  string
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("unmapped routing label %q", e.Label)
	if e.Reason != "" {
		msg = fmt.Sprintf("routing label %q rejected: %s", e.Label, e.Reason)
	}
	if e.StageID == "" {
		return msg
	}
	return fmt.Sprintf("stage %q: %s", e.StageID, msg)
}

func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// HandlerError wraps a failure raised by a stage handler.
type HandlerError struct {
	StageID string
	Cause   error
}

// NewHandlerError builds a HandlerError for stageID.
func NewHandlerError(stageID string, cause error) *HandlerError {
	return &HandlerError{StageID: stageID, Cause: cause}
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.StageID, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// ExecutionError aborts an invocation. It always names the stage that was
// being dispatched when the failure happened.
type ExecutionError struct {
	StageID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at stage %q: %v", e.StageID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Kind classifies the underlying failure for user-visible reports.
func (e *ExecutionError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrSchema):
		return "schema"
	case errors.Is(e.Err, ErrRouting):
		return "routing"
	case errors.Is(e.Err, ErrStalledJoin):
		return "stalled"
	case errors.Is(e.Err, ErrHandler):
		return "handler"
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "handler"
	}
}

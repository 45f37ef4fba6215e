package domain

import "time"

// EventType names a lifecycle transition.
type EventType string

const (
	EventTypeInvocationSubmitted EventType = "invocation.submitted"
	EventTypeInvocationStarted   EventType = "invocation.started"
	EventTypeInvocationCompleted EventType = "invocation.completed"
	EventTypeInvocationFailed    EventType = "invocation.failed"
	EventTypeInvocationCancelled EventType = "invocation.cancelled"
	EventTypeStageStarted        EventType = "stage.started"
	EventTypeStageCompleted      EventType = "stage.completed"
	EventTypeStageFailed         EventType = "stage.failed"
	EventTypeKnowledgeScanned    EventType = "knowledge.scanned"
)

// Event is published on the event bus.
type Event struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	InvocationID string                 `json:"invocation_id,omitempty"`
	StageID      string                 `json:"stage_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Terminal reports whether the event ends an invocation.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventTypeInvocationCompleted, EventTypeInvocationFailed, EventTypeInvocationCancelled:
		return true
	}
	return false
}

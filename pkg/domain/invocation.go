package domain

import "time"

// ExecutionStatus is the lifecycle state of an invocation or a stage.
type ExecutionStatus string

const (
	ExecutionStatusSubmitted ExecutionStatus = "submitted"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusPending   ExecutionStatus = "pending"
)

// IsTerminal reports whether no further transitions can happen.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// InvocationRecord is the persisted view of one pipeline invocation.
type InvocationRecord struct {
	ID           string                  `json:"id"`
	WorkflowType string                  `json:"workflow_type"`
	Status       ExecutionStatus         `json:"status"`
	Request      InvocationRequest       `json:"request"`
	Result       map[string]string       `json:"result,omitempty"`
	Error        *InvocationError        `json:"error,omitempty"`
	Stages       map[string]*StageRecord `json:"stages,omitempty"`
	SubmittedAt  time.Time               `json:"submitted_at"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// InvocationRequest records what the caller submitted.
type InvocationRequest struct {
	TenderFile        FileRef  `json:"tender_file"`
	BidFile           *FileRef `json:"bid_file,omitempty"`
	KnowledgeBasePath string   `json:"knowledge_base_path,omitempty"`
}

// InvocationError is the user-visible failure of an invocation.
type InvocationError struct {
	StageID string `json:"stage_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StageRecord tracks one stage of an invocation.
type StageRecord struct {
	StageID     string          `json:"stage_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *InvocationRecord) Clone() *InvocationRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Request.BidFile != nil {
		bf := *r.Request.BidFile
		cp.Request.BidFile = &bf
	}
	if r.Result != nil {
		cp.Result = make(map[string]string, len(r.Result))
		for k, v := range r.Result {
			cp.Result[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	if r.Stages != nil {
		cp.Stages = make(map[string]*StageRecord, len(r.Stages))
		for k, v := range r.Stages {
			s := *v
			cp.Stages[k] = &s
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/tenderflow/internal/pipeline"
	"github.com/aescanero/tenderflow/pkg/domain"
)

// ErrInvalidRequest marks submissions rejected before anything is queued.
var ErrInvalidRequest = errors.New("invalid request")

// SubmitRequest is what a caller submits. WorkflowType accepts the aliases
// understood by pipeline.ParseWorkflowType.
type SubmitRequest struct {
	TenderFile        domain.FileRef  `json:"tender_file"`
	BidFile           *domain.FileRef `json:"bid_file,omitempty"`
	WorkflowType      string          `json:"workflow_type"`
	KnowledgeBasePath string          `json:"knowledge_base_path,omitempty"`
}

// Validator validates submissions and turns them into pipeline requests
type Validator struct {
	supported func(ext string) bool
}

// NewValidator creates a validator. supported reports whether a document
// extension can be parsed; nil accepts every extension.
func NewValidator(supported func(ext string) bool) *Validator {
	return &Validator{supported: supported}
}

// Validate normalizes req. Every error wraps ErrInvalidRequest.
func (v *Validator) Validate(req SubmitRequest) (pipeline.Request, error) {
	workflow, err := pipeline.ParseWorkflowType(req.WorkflowType)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	tender, err := v.validateFile("tender_file", req.TenderFile)
	if err != nil {
		return pipeline.Request{}, err
	}

	out := pipeline.Request{
		TenderFile:        tender,
		WorkflowType:      workflow,
		KnowledgeBasePath: strings.TrimSpace(req.KnowledgeBasePath),
	}

	if req.BidFile != nil && strings.TrimSpace(req.BidFile.URL) != "" {
		bid, err := v.validateFile("bid_file", *req.BidFile)
		if err != nil {
			return pipeline.Request{}, err
		}
		out.BidFile = &bid
	}
	if workflow == pipeline.WorkflowAudit && out.BidFile == nil {
		return pipeline.Request{}, fmt.Errorf("%w: bid_file is required for the audit workflow", ErrInvalidRequest)
	}

	if err := out.Validate(); err != nil {
		return pipeline.Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return out, nil
}

// validateFile checks one document reference
func (v *Validator) validateFile(field string, ref domain.FileRef) (domain.FileRef, error) {
	ref.URL = strings.TrimSpace(ref.URL)
	ref.Name = strings.TrimSpace(ref.Name)
	if ref.URL == "" {
		return ref, fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}

	// Remote URLs without a name may carry any path; the parser sniffs them.
	if v.supported == nil || (ref.Name == "" && isRemote(ref.URL)) {
		return ref, nil
	}
	if ext := ref.Ext(); !v.supported(ext) {
		return ref, fmt.Errorf("%w: %s has unsupported format %q", ErrInvalidRequest, field, ext)
	}
	return ref, nil
}

func isRemote(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

package pipeline

import (
	"fmt"
	"strings"

	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/pkg/domain"
)

// Request is the typed input of one invocation.
type Request struct {
	TenderFile        domain.FileRef  `json:"tender_file"`
	BidFile           *domain.FileRef `json:"bid_file,omitempty"`
	WorkflowType      WorkflowType    `json:"workflow_type"`
	KnowledgeBasePath string          `json:"knowledge_base_path,omitempty"`
}

// Validate checks the request before it is turned into state. The workflow
// type must already be normalized.
func (r Request) Validate() error {
	if strings.TrimSpace(r.TenderFile.URL) == "" {
		return fmt.Errorf("tender file is required")
	}
	switch r.WorkflowType {
	case WorkflowAudit:
		if r.BidFile == nil || strings.TrimSpace(r.BidFile.URL) == "" {
			return fmt.Errorf("bid file is required for the audit workflow")
		}
	case WorkflowGenerate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownWorkflowType, r.WorkflowType)
	}
	return nil
}

// State returns the initial state of an invocation. Unset optional inputs
// are left out of the state entirely.
func (r Request) State() graph.State {
	s := graph.State{
		FieldTenderFile:   r.TenderFile,
		FieldWorkflowType: string(r.WorkflowType),
	}
	if r.BidFile != nil {
		s[FieldBidFile] = *r.BidFile
	}
	if r.KnowledgeBasePath != "" {
		s[FieldKnowledgeBasePath] = r.KnowledgeBasePath
	}
	return s
}

// Result mirrors the terminal fields of both workflows. Fields of the
// workflow that did not run are empty.
type Result struct {
	InvalidItemsCheck            string `json:"invalid_items_check,omitempty"`
	CommercialScoreCheck         string `json:"commercial_score_check,omitempty"`
	TechnicalPlanCheck           string `json:"technical_plan_check,omitempty"`
	IndicatorResponseCheck       string `json:"indicator_response_check,omitempty"`
	TechnicalScoreCheck          string `json:"technical_score_check,omitempty"`
	BidStructureCheck            string `json:"bid_structure_check,omitempty"`
	FinalModificationSuggestions string `json:"final_modification_suggestions,omitempty"`

	CommercialRequirements string `json:"commercial_requirements,omitempty"`
	TechnicalRequirements  string `json:"technical_requirements,omitempty"`
	CommercialMaterial     string `json:"commercial_material,omitempty"`
	TechnicalMaterial      string `json:"technical_material,omitempty"`
}

// ResultFromState copies the terminal fields out of a final state.
func ResultFromState(s graph.State) *Result {
	return &Result{
		InvalidItemsCheck:            s.String(FieldInvalidItemsCheck),
		CommercialScoreCheck:         s.String(FieldCommercialScoreCheck),
		TechnicalPlanCheck:           s.String(FieldTechnicalPlanCheck),
		IndicatorResponseCheck:       s.String(FieldIndicatorResponseCheck),
		TechnicalScoreCheck:          s.String(FieldTechnicalScoreCheck),
		BidStructureCheck:            s.String(FieldBidStructureCheck),
		FinalModificationSuggestions: s.String(FieldFinalModificationSuggestions),
		CommercialRequirements:       s.String(FieldCommercialRequirements),
		TechnicalRequirements:        s.String(FieldTechnicalRequirements),
		CommercialMaterial:           s.String(FieldCommercialMaterial),
		TechnicalMaterial:            s.String(FieldTechnicalMaterial),
	}
}

// Fields returns the non-empty result fields keyed by state field name.
func (r *Result) Fields() map[string]string {
	all := map[string]string{
		FieldInvalidItemsCheck:            r.InvalidItemsCheck,
		FieldCommercialScoreCheck:         r.CommercialScoreCheck,
		FieldTechnicalPlanCheck:           r.TechnicalPlanCheck,
		FieldIndicatorResponseCheck:       r.IndicatorResponseCheck,
		FieldTechnicalScoreCheck:          r.TechnicalScoreCheck,
		FieldBidStructureCheck:            r.BidStructureCheck,
		FieldFinalModificationSuggestions: r.FinalModificationSuggestions,
		FieldCommercialRequirements:       r.CommercialRequirements,
		FieldTechnicalRequirements:        r.TechnicalRequirements,
		FieldCommercialMaterial:           r.CommercialMaterial,
		FieldTechnicalMaterial:            r.TechnicalMaterial,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

// ResultFromFields is the inverse of Fields.
func ResultFromFields(fields map[string]string) *Result {
	s := make(graph.State, len(fields))
	for k, v := range fields {
		s[k] = v
	}
	return ResultFromState(s)
}

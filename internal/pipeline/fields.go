package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/aescanero/tenderflow/internal/graph"
)

// State fields.
const (
	FieldTenderFile        = "tender_file"
	FieldBidFile           = "bid_file"
	FieldKnowledgeBasePath = "knowledge_base_path"
	FieldWorkflowType      = "workflow_type"

	FieldTenderDocContent   = "tender_doc_content"
	FieldTenderDocStructure = "tender_doc_structure"
	FieldBidDocContent      = "bid_doc_content"
	FieldBidDocStructure    = "bid_doc_structure"

	FieldInvalidItemsCheck            = "invalid_items_check"
	FieldCommercialScoreCheck         = "commercial_score_check"
	FieldTechnicalPlanCheck           = "technical_plan_check"
	FieldIndicatorResponseCheck       = "indicator_response_check"
	FieldTechnicalScoreCheck          = "technical_score_check"
	FieldBidStructureCheck            = "bid_structure_check"
	FieldFinalModificationSuggestions = "final_modification_suggestions"

	FieldCommercialRequirements      = "commercial_requirements"
	FieldTechnicalRequirements       = "technical_requirements"
	FieldCommercialTemplate          = "commercial_template"
	FieldTechnicalTemplate           = "technical_template"
	FieldCommercialKBResults         = "commercial_kb_results"
	FieldTechnicalKBResults          = "technical_kb_results"
	FieldCommercialHasLocalKnowledge = "commercial_has_local_knowledge"
	FieldTechnicalHasLocalKnowledge  = "technical_has_local_knowledge"
	FieldCommercialWebResults        = "commercial_web_results"
	FieldTechnicalWebResults         = "technical_web_results"
	FieldCommercialMaterial          = "commercial_material"
	FieldTechnicalMaterial           = "technical_material"
)

// Stage ids.
const (
	StageTenderDocParse         = "tender_doc_parse"
	StageBidDocParse            = "bid_doc_parse"
	StageInvalidItemsCheck      = "invalid_items_check"
	StageCommercialScoreCheck   = "commercial_score_check"
	StageTechnicalPlanCheck     = "technical_plan_check"
	StageIndicatorResponseCheck = "indicator_response_check"
	StageTechnicalScoreCheck    = "technical_score_check"
	StageBidStructureCheck      = "bid_structure_check"
	StageModificationSummary    = "modification_summary"

	StageTenderRequirementsParse = "tender_requirements_parse"
	StageCommercialKBSearch      = "commercial_kb_search"
	StageTechnicalKBSearch       = "technical_kb_search"
	StageCommercialWebSearch     = "commercial_web_search"
	StageTechnicalWebSearch      = "technical_web_search"
	StageCommercialMaterial      = "commercial_material_generate"
	StageTechnicalMaterial       = "technical_material_generate"
)

// WorkflowType selects the sub-pipeline run after the tender document is
// parsed.
type WorkflowType string

const (
	WorkflowAudit    WorkflowType = "audit"
	WorkflowGenerate WorkflowType = "generate"
)

// ErrUnknownWorkflowType is returned by ParseWorkflowType.
var ErrUnknownWorkflowType = errors.New("unknown workflow type")

var workflowAliases = map[string]WorkflowType{
	"":       WorkflowAudit,
	"audit":  WorkflowAudit,
	"check":  WorkflowAudit,
	"投标文件检查": WorkflowAudit,
	"文件检查":   WorkflowAudit,

	"generate": WorkflowGenerate,
	"投标材料生成":   WorkflowGenerate,
	"材料生成":     WorkflowGenerate,
}

// ParseWorkflowType normalizes user input: the legacy "check" value, UI
// labels (with or without a leading icon) and fullwidth forms. Empty input
// selects the audit workflow. Anything else is an error; no other value is
// ever substituted.
func ParseWorkflowType(s string) (WorkflowType, error) {
	norm := width.Fold.String(s)
	norm = strings.TrimFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	norm = strings.ToLower(norm)
	if wt, ok := workflowAliases[norm]; ok {
		return wt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWorkflowType, s)
}

// RouteByWorkflowType is the routing function after tender_doc_parse. It
// passes the workflow_type field through as the label and rejects any value
// outside {audit, generate}.
func RouteByWorkflowType(s graph.State) (string, error) {
	raw, ok := s[FieldWorkflowType]
	if !ok {
		return "", &graph.RoutingError{Reason: "workflow_type is not set"}
	}
	var label string
	switch v := raw.(type) {
	case WorkflowType:
		label = string(v)
	case string:
		label = v
	default:
		return "", &graph.RoutingError{Reason: fmt.Sprintf("workflow_type has type %T", raw)}
	}
	switch WorkflowType(label) {
	case WorkflowAudit, WorkflowGenerate:
		return label, nil
	}
	return "", &graph.RoutingError{Label: label, Reason: "workflow type must be audit or generate"}
}

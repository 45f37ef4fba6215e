package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// GraphName is the name of the built definition.
const GraphName = "tender_analysis"

const (
	defaultTopK     = knowledge.DefaultTopK
	defaultWebCount = 5
	materialLimit   = 5
)

// Config carries the collaborators of the stage handlers.
type Config struct {
	Generator ports.TextGenerator
	Parser    ports.DocumentParser
	// Searcher may be nil; web search stages then produce no results.
	Searcher  ports.WebSearcher
	Knowledge *knowledge.Registry
	Prompts   Prompts
	Metrics   ports.MetricsCollector
	// TopK bounds knowledge base hits per search.
	TopK int
	// WebCount bounds web results per search.
	WebCount int
	Logger   *zap.Logger
}

// Pipeline owns the tender analysis graph and the handlers behind it.
type Pipeline struct {
	generator ports.TextGenerator
	parser    ports.DocumentParser
	searcher  ports.WebSearcher
	knowledge *knowledge.Registry
	prompts   Prompts
	metrics   ports.MetricsCollector
	topK      int
	webCount  int
	logger    *zap.Logger

	def *graph.Definition
}

// New validates cfg and builds the graph.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator is required")
	}
	if cfg.Parser == nil {
		return nil, fmt.Errorf("document parser is required")
	}
	if cfg.Knowledge == nil {
		return nil, fmt.Errorf("knowledge registry is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	for _, stage := range AgentStages {
		if _, err := cfg.Prompts.Get(stage); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.WebCount <= 0 {
		cfg.WebCount = defaultWebCount
	}

	p := &Pipeline{
		generator: cfg.Generator,
		parser:    cfg.Parser,
		searcher:  cfg.Searcher,
		knowledge: cfg.Knowledge,
		prompts:   cfg.Prompts,
		metrics:   cfg.Metrics,
		topK:      cfg.TopK,
		webCount:  cfg.WebCount,
		logger:    logger,
	}

	def, err := p.build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline graph: %w", err)
	}
	p.def = def
	return p, nil
}

// Definition returns the validated graph.
func (p *Pipeline) Definition() *graph.Definition {
	return p.def
}

// Run validates req and executes the graph with exec.
func (p *Pipeline) Run(ctx context.Context, exec *graph.Executor, req Request, opts ...graph.InvokeOption) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	final, err := exec.Invoke(ctx, p.def, req.State(), opts...)
	if err != nil {
		return nil, err
	}
	return ResultFromState(final), nil
}

var auditChecks = []struct {
	stage  string
	output string
}{
	{StageInvalidItemsCheck, FieldInvalidItemsCheck},
	{StageCommercialScoreCheck, FieldCommercialScoreCheck},
	{StageTechnicalPlanCheck, FieldTechnicalPlanCheck},
	{StageIndicatorResponseCheck, FieldIndicatorResponseCheck},
	{StageTechnicalScoreCheck, FieldTechnicalScoreCheck},
	{StageBidStructureCheck, FieldBidStructureCheck},
}

func (p *Pipeline) build() (*graph.Definition, error) {
	b := graph.NewBuilder(GraphName)

	b.AddStage(graph.Stage{
		ID:      StageTenderDocParse,
		Kind:    "tool",
		Inputs:  []string{FieldTenderFile},
		Outputs: []string{FieldTenderDocContent, FieldTenderDocStructure},
		Handler: p.parseDocument(FieldTenderFile, FieldTenderDocContent, FieldTenderDocStructure),
	})
	b.SetEntry(StageTenderDocParse)
	b.AddConditionalEdges(StageTenderDocParse, RouteByWorkflowType, map[string]string{
		string(WorkflowAudit):    StageBidDocParse,
		string(WorkflowGenerate): StageTenderRequirementsParse,
	})

	// audit
	b.AddStage(graph.Stage{
		ID:      StageBidDocParse,
		Kind:    "tool",
		Inputs:  []string{FieldBidFile},
		Outputs: []string{FieldBidDocContent, FieldBidDocStructure},
		Handler: p.parseDocument(FieldBidFile, FieldBidDocContent, FieldBidDocStructure),
	})
	checks := make([]string, 0, len(auditChecks))
	for _, c := range auditChecks {
		b.AddStage(graph.Stage{
			ID:       c.stage,
			Kind:     "agent",
			Inputs:   []string{FieldTenderDocContent, FieldBidDocContent},
			Optional: []string{FieldBidDocStructure},
			Outputs:  []string{c.output},
			Handler:  p.auditCheck(c.stage, c.output),
		})
		b.AddEdge(StageBidDocParse, c.stage)
		checks = append(checks, c.stage)
	}
	summaryInputs := make([]string, 0, len(auditChecks))
	for _, c := range auditChecks {
		summaryInputs = append(summaryInputs, c.output)
	}
	b.AddStage(graph.Stage{
		ID:      StageModificationSummary,
		Kind:    "agent",
		Inputs:  summaryInputs,
		Outputs: []string{FieldFinalModificationSuggestions},
		Handler: p.modificationSummary,
	})
	b.AddJoin(checks, StageModificationSummary)
	b.AddEdge(StageModificationSummary, graph.End)

	// generate
	b.AddStage(graph.Stage{
		ID:       StageTenderRequirementsParse,
		Kind:     "agent",
		Inputs:   []string{FieldTenderDocContent},
		Optional: []string{FieldTenderDocStructure},
		Outputs: []string{
			FieldCommercialRequirements, FieldTechnicalRequirements,
			FieldCommercialTemplate, FieldTechnicalTemplate,
		},
		Handler: p.parseRequirements,
	})

	var materials []string
	for _, side := range []materialSide{commercialSide, technicalSide} {
		b.AddStage(graph.Stage{
			ID:       side.kbStage,
			Kind:     "tool",
			Inputs:   []string{side.requirements},
			Optional: []string{FieldKnowledgeBasePath},
			Outputs:  []string{side.kbResults, side.hasLocal},
			Handler:  p.knowledgeSearch(side),
		})
		b.AddStage(graph.Stage{
			ID:      side.webStage,
			Kind:    "tool",
			Inputs:  []string{side.requirements},
			Outputs: []string{side.webResults},
			Handler: p.webSearch(side),
		})
		b.AddStage(graph.Stage{
			ID:      side.materialStage,
			Kind:    "agent",
			Inputs:  []string{side.requirements, side.template, side.kbResults, side.webResults},
			Outputs: []string{side.material},
			Handler: p.generateMaterial(side),
		})
		b.AddEdge(StageTenderRequirementsParse, side.kbStage)
		b.AddEdge(side.kbStage, side.webStage)
		b.AddEdge(side.webStage, side.materialStage)
		materials = append(materials, side.materialStage)
	}
	b.AddJoin(materials, graph.End)

	return b.Build()
}

// Stages lists, in breadth-first order, the stages an invocation of workflow
// can reach.
func (p *Pipeline) Stages(workflow WorkflowType) []string {
	seen := map[string]bool{p.def.Entry(): true}
	order := []string{p.def.Entry()}
	for i := 0; i < len(order); i++ {
		id := order[i]
		next := p.def.Targets(id)
		if routes := p.def.RouteTargets(id); routes != nil {
			next = append(next, routes[string(workflow)])
		}
		for _, t := range next {
			if t == "" || t == graph.End || seen[t] {
				continue
			}
			seen[t] = true
			order = append(order, t)
		}
	}
	return order
}

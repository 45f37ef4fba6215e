package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/domain"
)

// materialSide names the stages and fields of one half of the generate
// workflow.
type materialSide struct {
	name          string
	kbStage       string
	webStage      string
	materialStage string
	requirements  string
	template      string
	kbResults     string
	hasLocal      string
	webResults    string
	material      string
	defaultQuery  string
}

var commercialSide = materialSide{
	name:          "commercial",
	kbStage:       StageCommercialKBSearch,
	webStage:      StageCommercialWebSearch,
	materialStage: StageCommercialMaterial,
	requirements:  FieldCommercialRequirements,
	template:      FieldCommercialTemplate,
	kbResults:     FieldCommercialKBResults,
	hasLocal:      FieldCommercialHasLocalKnowledge,
	webResults:    FieldCommercialWebResults,
	material:      FieldCommercialMaterial,
	defaultQuery:  "商务资质、项目经验、服务承诺",
}

var technicalSide = materialSide{
	name:          "technical",
	kbStage:       StageTechnicalKBSearch,
	webStage:      StageTechnicalWebSearch,
	materialStage: StageTechnicalMaterial,
	requirements:  FieldTechnicalRequirements,
	template:      FieldTechnicalTemplate,
	kbResults:     FieldTechnicalKBResults,
	hasLocal:      FieldTechnicalHasLocalKnowledge,
	webResults:    FieldTechnicalWebResults,
	material:      FieldTechnicalMaterial,
	defaultQuery:  "技术方案、系统架构、实施方案",
}

func (p *Pipeline) parseDocument(input, content, structure string) graph.HandlerFunc {
	return func(ctx context.Context, in graph.State) (graph.State, error) {
		ref, _, err := graph.Value[domain.FileRef](in, input)
		if err != nil {
			return nil, err
		}
		doc, err := p.parser.Parse(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", input, err)
		}
		outline, err := outlineJSON(doc.Outline)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("Document parsed",
			zap.String("field", input),
			zap.Int("runes", len([]rune(doc.Text))),
			zap.Int("headings", len(doc.Outline)))
		return graph.State{content: doc.Text, structure: outline}, nil
	}
}

// outlineJSON renders a document outline, or "" when it has no headings.
func outlineJSON(outline []domain.Heading) (string, error) {
	if len(outline) == 0 {
		return "", nil
	}
	data, err := json.Marshal(outline)
	if err != nil {
		return "", fmt.Errorf("failed to encode outline: %w", err)
	}
	return string(data), nil
}

// generate renders the user prompt of stage and calls the model.
func (p *Pipeline) generate(ctx context.Context, stage string, vars map[string]any) (string, error) {
	prompt, err := p.prompts.Get(stage)
	if err != nil {
		return "", err
	}
	user, err := prompt.Render(vars)
	if err != nil {
		return "", err
	}
	text, err := p.generator.Generate(ctx, prompt.System, user, prompt.Config)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", stage, err)
	}
	return text, nil
}

func (p *Pipeline) auditCheck(stage, output string) graph.HandlerFunc {
	return func(ctx context.Context, in graph.State) (graph.State, error) {
		text, err := p.generate(ctx, stage, map[string]any{
			FieldTenderDocContent: in.String(FieldTenderDocContent),
			FieldBidDocContent:    in.String(FieldBidDocContent),
			FieldBidDocStructure:  in.String(FieldBidDocStructure),
		})
		if err != nil {
			return nil, err
		}
		return graph.State{output: text}, nil
	}
}

func (p *Pipeline) modificationSummary(ctx context.Context, in graph.State) (graph.State, error) {
	vars := make(map[string]any, len(auditChecks))
	for _, c := range auditChecks {
		vars[c.output] = in.String(c.output)
	}
	text, err := p.generate(ctx, StageModificationSummary, vars)
	if err != nil {
		return nil, err
	}
	return graph.State{FieldFinalModificationSuggestions: text}, nil
}

func (p *Pipeline) parseRequirements(ctx context.Context, in graph.State) (graph.State, error) {
	reply, err := p.generate(ctx, StageTenderRequirementsParse, map[string]any{
		FieldTenderDocContent:   in.String(FieldTenderDocContent),
		FieldTenderDocStructure: in.String(FieldTenderDocStructure),
	})
	if err != nil {
		return nil, err
	}
	req := extractRequirements(reply)
	if !req.structured {
		p.logger.Warn("Requirement reply is not a JSON object, using it verbatim")
	}
	return graph.State{
		FieldCommercialRequirements: req.commercial,
		FieldTechnicalRequirements:  req.technical,
		FieldCommercialTemplate:     req.commercialTemplate,
		FieldTechnicalTemplate:      req.technicalTemplate,
	}, nil
}

func (p *Pipeline) knowledgeSearch(side materialSide) graph.HandlerFunc {
	return func(ctx context.Context, in graph.State) (graph.State, error) {
		idx, err := p.knowledge.Get(in.String(FieldKnowledgeBasePath))
		if err != nil {
			return nil, err
		}

		start := time.Now()
		indexed, err := idx.Scan(ctx, "")
		if err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordKnowledgeScan(indexed, idx.Count(), time.Since(start))
		}

		results := idx.Search(in.String(side.requirements), p.topK)
		if results == nil {
			results = []knowledge.Result{}
		}
		p.logger.Debug("Knowledge base searched",
			zap.String("side", side.name),
			zap.String("root", idx.Root()),
			zap.Int("indexed", indexed),
			zap.Int("hits", len(results)))
		return graph.State{
			side.kbResults: results,
			side.hasLocal:  len(results) > 0,
		}, nil
	}
}

// webSearch never fails its stage: search errors degrade to no results.
func (p *Pipeline) webSearch(side materialSide) graph.HandlerFunc {
	return func(ctx context.Context, in graph.State) (graph.State, error) {
		results := []domain.WebResult{}
		if p.searcher == nil {
			return graph.State{side.webResults: results}, nil
		}

		query := in.String(side.requirements)
		if query == "" {
			query = side.defaultQuery
		}
		found, err := p.searcher.Search(ctx, query, p.webCount)
		if err != nil {
			p.logger.Warn("Web search failed, continuing without results",
				zap.String("side", side.name),
				zap.Error(err))
			return graph.State{side.webResults: results}, nil
		}
		if len(found) > p.webCount {
			found = found[:p.webCount]
		}
		results = append(results, found...)
		return graph.State{side.webResults: results}, nil
	}
}

func (p *Pipeline) generateMaterial(side materialSide) graph.HandlerFunc {
	return func(ctx context.Context, in graph.State) (graph.State, error) {
		kb, _, err := graph.Value[[]knowledge.Result](in, side.kbResults)
		if err != nil {
			return nil, err
		}
		web, _, err := graph.Value[[]domain.WebResult](in, side.webResults)
		if err != nil {
			return nil, err
		}
		text, err := p.generate(ctx, side.materialStage, map[string]any{
			"requirements":  in.String(side.requirements),
			"template":      in.String(side.template),
			"kb_materials":  formatKnowledge(kb),
			"web_materials": formatWeb(web),
		})
		if err != nil {
			return nil, err
		}
		return graph.State{side.material: text}, nil
	}
}

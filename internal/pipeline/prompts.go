package pipeline

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v6"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/tenderflow/pkg/domain"
)

//go:embed prompts/*.yaml
var defaultPrompts embed.FS

// AgentStages lists the stages that call the text generator, in graph
// order. Each needs a prompt.
var AgentStages = []string{
	StageInvalidItemsCheck,
	StageCommercialScoreCheck,
	StageTechnicalPlanCheck,
	StageIndicatorResponseCheck,
	StageTechnicalScoreCheck,
	StageBidStructureCheck,
	StageModificationSummary,
	StageTenderRequirementsParse,
	StageCommercialMaterial,
	StageTechnicalMaterial,
}

type promptFile struct {
	Stage  string                  `yaml:"stage"`
	System string                  `yaml:"system"`
	User   string                  `yaml:"user"`
	Config domain.GenerationConfig `yaml:"config"`
}

// Prompt is the resolved generation setup of one stage.
type Prompt struct {
	Stage  string
	System string
	Config domain.GenerationConfig
	Source string

	user *pongo2.Template
}

// Render executes the user prompt template with vars.
func (p *Prompt) Render(vars map[string]any) (string, error) {
	out, err := p.user.Execute(pongo2.Context(vars))
	if err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", p.Stage, err)
	}
	return strings.TrimSpace(out), nil
}

// Prompts maps stage ids to prompts.
type Prompts map[string]*Prompt

// LoadPrompts returns the embedded prompts, overridden by any *.yaml files
// in dir. Fields an override leaves empty keep their default. A missing dir
// means no overrides.
func LoadPrompts(dir string) (Prompts, error) {
	files := make(map[string]promptFile)
	sources := make(map[string]string)

	entries, err := fs.ReadDir(defaultPrompts, "prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts: %w", err)
	}
	for _, entry := range entries {
		name := path.Join("prompts", entry.Name())
		data, err := defaultPrompts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		pf, err := parsePromptFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		files[pf.Stage] = pf
		sources[pf.Stage] = "embedded:" + name
	}

	overrides, err := readOverrides(dir)
	if err != nil {
		return nil, err
	}
	for stage, ov := range overrides {
		base, ok := files[stage]
		if !ok {
			return nil, fmt.Errorf("%s: unknown stage %q", ov.path, stage)
		}
		files[stage] = mergePrompt(base, ov.file)
		sources[stage] = ov.path
	}

	prompts := make(Prompts, len(files))
	for _, stage := range AgentStages {
		pf, ok := files[stage]
		if !ok {
			return nil, fmt.Errorf("no prompt configured for stage %s", stage)
		}
		p, err := compilePrompt(pf, sources[stage])
		if err != nil {
			return nil, err
		}
		prompts[stage] = p
	}
	return prompts, nil
}

// Get returns the prompt of stage or an error naming it.
func (p Prompts) Get(stage string) (*Prompt, error) {
	prompt, ok := p[stage]
	if !ok || prompt == nil {
		return nil, fmt.Errorf("no prompt configured for stage %s", stage)
	}
	return prompt, nil
}

func parsePromptFile(data []byte) (promptFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return promptFile{}, fmt.Errorf("prompt file is empty")
	}
	var pf promptFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return promptFile{}, fmt.Errorf("failed to decode prompt: %w", err)
	}
	pf.Stage = strings.TrimSpace(pf.Stage)
	if pf.Stage == "" {
		return promptFile{}, fmt.Errorf("prompt has no stage")
	}
	return pf, nil
}

type override struct {
	path string
	file promptFile
}

func readOverrides(dir string) (map[string]override, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read prompt dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		lower := strings.ToLower(entry.Name())
		if entry.IsDir() || !(strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make(map[string]override, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		pf, err := parsePromptFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if prev, dup := out[pf.Stage]; dup {
			return nil, fmt.Errorf("duplicate prompt for stage %s (%s and %s)", pf.Stage, prev.path, p)
		}
		out[pf.Stage] = override{path: p, file: pf}
	}
	return out, nil
}

func mergePrompt(base, ov promptFile) promptFile {
	if strings.TrimSpace(ov.System) != "" {
		base.System = ov.System
	}
	if strings.TrimSpace(ov.User) != "" {
		base.User = ov.User
	}
	if ov.Config.Model != "" {
		base.Config.Model = ov.Config.Model
	}
	if ov.Config.Temperature != 0 {
		base.Config.Temperature = ov.Config.Temperature
	}
	if ov.Config.MaxTokens != 0 {
		base.Config.MaxTokens = ov.Config.MaxTokens
	}
	return base
}

func compilePrompt(pf promptFile, source string) (*Prompt, error) {
	if strings.TrimSpace(pf.System) == "" {
		return nil, fmt.Errorf("%s: stage %s has no system prompt", source, pf.Stage)
	}
	if strings.TrimSpace(pf.User) == "" {
		return nil, fmt.Errorf("%s: stage %s has no user prompt", source, pf.Stage)
	}
	if pf.Config.Temperature < 0 || pf.Config.Temperature > 1 {
		return nil, fmt.Errorf("%s: stage %s temperature %.2f out of range [0, 1]", source, pf.Stage, pf.Config.Temperature)
	}
	if pf.Config.MaxTokens < 0 {
		return nil, fmt.Errorf("%s: stage %s has negative max_tokens", source, pf.Stage)
	}

	// Prompts are plain text, never HTML.
	tpl, err := pongo2.FromString("{% autoescape off %}" + pf.User + "{% endautoescape %}")
	if err != nil {
		return nil, fmt.Errorf("%s: stage %s user prompt does not compile: %w", source, pf.Stage, err)
	}
	return &Prompt{
		Stage:  pf.Stage,
		System: strings.TrimSpace(pf.System),
		Config: pf.Config,
		Source: source,
		user:   tpl,
	}, nil
}

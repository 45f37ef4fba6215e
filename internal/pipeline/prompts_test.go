package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadEmbeddedPrompts(t *testing.T) {
	prompts, err := LoadPrompts("")
	require.NoError(t, err)
	require.Len(t, prompts, len(AgentStages))

	for _, stage := range AgentStages {
		p, err := prompts.Get(stage)
		require.NoError(t, err, stage)
		assert.NotEmpty(t, p.System, stage)
		assert.Contains(t, p.Source, "embedded:", stage)
	}

	_, err = prompts.Get(StageTenderDocParse)
	assert.ErrorContains(t, err, "no prompt configured for stage tender_doc_parse")
}

func TestPromptRenderDoesNotEscape(t *testing.T) {
	prompts, err := LoadPrompts("")
	require.NoError(t, err)
	p, err := prompts.Get(StageInvalidItemsCheck)
	require.NoError(t, err)

	out, err := p.Render(map[string]any{
		FieldTenderDocContent: "投标人须 <提供> \"资质\" & 证明",
		FieldBidDocContent:    "已提供",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "投标人须 <提供> \"资质\" & 证明")
	assert.Contains(t, out, "已提供")
}

func TestLoadPromptOverrides(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "summary.yaml", `
stage: modification_summary
system: 你是审核组长。
config:
  temperature: 0.1
`)
	writePrompt(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	defaults, err := LoadPrompts("")
	require.NoError(t, err)
	prompts, err := LoadPrompts(dir)
	require.NoError(t, err)

	p, err := prompts.Get(StageModificationSummary)
	require.NoError(t, err)
	base, _ := defaults.Get(StageModificationSummary)

	assert.Equal(t, "你是审核组长。", p.System)
	assert.Equal(t, 0.1, p.Config.Temperature)
	assert.Equal(t, base.Config.MaxTokens, p.Config.MaxTokens, "unset fields keep their default")
	assert.Equal(t, filepath.Join(dir, "summary.yaml"), p.Source)

	other, _ := prompts.Get(StageBidStructureCheck)
	assert.Contains(t, other.Source, "embedded:")
}

func TestLoadPromptsMissingDir(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, err)
}

func TestLoadPromptOverrideErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "unknown stage",
			files:   map[string]string{"a.yaml": "stage: tender_doc_parse\nsystem: x\n"},
			wantErr: `unknown stage "tender_doc_parse"`,
		},
		{
			name: "duplicate stage",
			files: map[string]string{
				"a.yaml": "stage: modification_summary\nsystem: x\n",
				"b.yml":  "stage: modification_summary\nsystem: y\n",
			},
			wantErr: "duplicate prompt for stage modification_summary",
		},
		{
			name:    "missing stage",
			files:   map[string]string{"a.yaml": "system: x\n"},
			wantErr: "prompt has no stage",
		},
		{
			name:    "unknown key",
			files:   map[string]string{"a.yaml": "stage: modification_summary\nprompt: x\n"},
			wantErr: "failed to decode prompt",
		},
		{
			name:    "temperature out of range",
			files:   map[string]string{"a.yaml": "stage: modification_summary\nconfig:\n  temperature: 1.5\n"},
			wantErr: "out of range",
		},
		{
			name:    "template does not compile",
			files:   map[string]string{"a.yaml": "stage: modification_summary\nuser: \"{% if %}\"\n"},
			wantErr: "does not compile",
		},
		{
			name:    "empty file",
			files:   map[string]string{"a.yaml": "  \n"},
			wantErr: "prompt file is empty",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tc.files {
				writePrompt(t, dir, name, content)
			}
			_, err := LoadPrompts(dir)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

package pipeline

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/domain"
)

const materialRunes = 800

type requirements struct {
	commercial         string
	technical          string
	commercialTemplate string
	technicalTemplate  string
	// structured is false when the reply held no usable JSON object.
	structured bool
}

// extractRequirements reads the requirement reply. Requirement fields missing
// from the reply fall back to the whole reply; missing templates stay empty.
func extractRequirements(reply string) requirements {
	out := requirements{commercial: reply, technical: reply}
	obj := jsonObject(reply)
	if obj == "" {
		return out
	}
	out.structured = true
	doc := gjson.Parse(obj)
	if v := textOf(doc.Get(FieldCommercialRequirements)); v != "" {
		out.commercial = v
	}
	if v := textOf(doc.Get(FieldTechnicalRequirements)); v != "" {
		out.technical = v
	}
	out.commercialTemplate = textOf(doc.Get(FieldCommercialTemplate))
	out.technicalTemplate = textOf(doc.Get(FieldTechnicalTemplate))
	return out
}

// jsonObject returns the outermost {...} span of s when it is valid JSON.
// Models like to wrap JSON in prose or code fences.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

func textOf(r gjson.Result) string {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return ""
	case r.Type == gjson.String:
		return strings.TrimSpace(r.String())
	case r.IsArray():
		var lines []string
		r.ForEach(func(_, item gjson.Result) bool {
			if s := textOf(item); s != "" {
				lines = append(lines, s)
			}
			return true
		})
		return strings.Join(lines, "\n")
	default:
		return strings.TrimSpace(r.Raw)
	}
}

// formatKnowledge renders the best knowledge base hits as reference lines.
func formatKnowledge(results []knowledge.Result) string {
	if len(results) > materialLimit {
		results = results[:materialLimit]
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[本地知识库 - %s - %s]: %s", r.Title, r.Page, truncateRunes(r.Excerpt, materialRunes)))
	}
	return strings.Join(lines, "\n\n")
}

// formatWeb renders web results as reference lines.
func formatWeb(results []domain.WebResult) string {
	if len(results) > materialLimit {
		results = results[:materialLimit]
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[互联网搜索 - %s]: %s\n%s", r.URL, r.Title, truncateRunes(r.Excerpt, materialRunes)))
	}
	return strings.Join(lines, "\n\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

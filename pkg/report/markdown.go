package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/tenderflow/pkg/ports"
)

// ContentType is the media type of rendered reports.
const ContentType = "text/markdown; charset=utf-8"

// Markdown implements ports.ReportRenderer.
type Markdown struct {
	now func() time.Time
}

var _ ports.ReportRenderer = (*Markdown)(nil)

// NewMarkdown creates a renderer stamping reports with the current time.
func NewMarkdown() *Markdown {
	return &Markdown{now: time.Now}
}

// ContentType returns the media type of Render's output.
func (m *Markdown) ContentType() string { return ContentType }

// Render writes title, a generation timestamp and each section. Headings
// inside section bodies are nested below the section heading.
func (m *Markdown) Render(title string, sections []ports.ReportSection) ([]byte, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("report title is required")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "生成时间：%s\n", m.now().Format("2006-01-02 15:04:05"))

	for _, s := range sections {
		fmt.Fprintf(&buf, "\n## %s\n\n", s.Title)
		body := strings.TrimSpace(s.Body)
		if body == "" {
			buf.WriteString("无\n")
			continue
		}
		inFence := false
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = !inFence
			}
			if !inFence {
				line = nestHeading(line)
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// nestHeading pushes a body heading two levels down. "=== x ===" lines, a
// common model habit, become level three headings.
func nestHeading(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "===") {
		text := strings.TrimSpace(strings.Trim(trimmed, "="))
		if text == "" {
			return line
		}
		return "### " + text
	}

	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || (level < len(trimmed) && trimmed[level] != ' ') {
		return line
	}
	nested := level + 2
	if nested > 6 {
		nested = 6
	}
	return strings.Repeat("#", nested) + trimmed[level:]
}

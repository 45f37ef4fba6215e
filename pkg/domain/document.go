package domain

import (
	"path/filepath"
	"strings"
)

// FileRef points at an input document. URL may be a local path, a file://
// URL or an http(s) URL.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Ext returns the lower-cased extension taken from Name, or from URL when
// Name is empty.
func (f FileRef) Ext() string {
	name := f.Name
	if name == "" {
		name = f.URL
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	return strings.ToLower(filepath.Ext(name))
}

// Heading is one entry of a document outline.
type Heading struct {
	Level int    `json:"level"`
	Title string `json:"title"`
}

// ParsedDocument is the extracted text of a document.
type ParsedDocument struct {
	Text    string    `json:"text"`
	Outline []Heading `json:"outline,omitempty"`
}

// WebResult is one hit returned by a web search.
type WebResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Excerpt  string `json:"excerpt"`
	SiteName string `json:"site_name,omitempty"`
}

// GenerationConfig carries per-call model settings.
type GenerationConfig struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

package knowledge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTopK is the hit count callers use when none is configured.
const DefaultTopK = 5

const (
	excerptRunes    = 800
	excerptLead     = 100
	pageScanRunes   = 500
	runesPerPage    = 500
	maxPageEstimate = 999
)

var stopWords = map[string]bool{
	"的": true, "了": true, "和": true, "是": true, "在": true, "有": true,
	"我": true, "你": true, "他": true, "她": true, "它": true, "们": true,
	"这个": true, "那个": true, "或": true, "但": true, "不": true, "也": true,
}

var pageMarker = regexp.MustCompile(`第\s*(\d+)\s*页`)

// Result is one search hit.
type Result struct {
	Key     string  `json:"key"`
	Title   string  `json:"source_doc"`
	Path    string  `json:"path"`
	Type    string  `json:"type"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
	Excerpt string  `json:"excerpt"`
	Page    string  `json:"source_page"`
}

// Keywords splits query on whitespace and punctuation and drops stop words
// and single-rune tokens.
func Keywords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 1 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Score computes the relevance of content for keywords. Matching is case
// insensitive; longer keywords weigh more and long documents are damped.
func Score(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	total := 0.0
	for _, kw := range keywords {
		n := strings.Count(lower, strings.ToLower(kw))
		total += float64(n * runeLen(kw))
	}
	return total / (float64(runeLen(content))/100 + 1)
}

// Search returns up to topK documents with a positive score, best first.
// Equal scores keep indexing order. A non-positive topK returns nothing.
func (i *Index) Search(query string, topK int) []Result {
	if topK <= 0 {
		return nil
	}
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var results []Result
	for _, key := range i.orderedKeys() {
		doc := i.docs[key]
		score := Score(doc.Content, keywords)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Key:     key,
			Title:   doc.Title,
			Path:    doc.Path,
			Type:    doc.Type,
			Score:   score,
			Content: doc.Content,
			Excerpt: excerpt(doc.Content, keywords),
			Page:    PageHint(doc.Content, doc.Path),
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// PageHint locates a hit inside its source document: an explicit 第N页 marker
// near the top, an estimate for PDFs, or N/A.
func PageHint(content, path string) string {
	head := content
	if runes := []rune(content); len(runes) > pageScanRunes {
		head = string(runes[:pageScanRunes])
	}
	if m := pageMarker.FindStringSubmatch(head); m != nil {
		return m[1]
	}
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		page := runeLen(content)/runesPerPage + 1
		if page > maxPageEstimate {
			page = maxPageEstimate
		}
		return fmt.Sprintf("约第%d页", page)
	}
	return "N/A"
}

// excerpt returns a window of content starting a little before the first
// keyword hit.
func excerpt(content string, keywords []string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}

	lower := strings.ToLower(content)
	first := -1
	for _, kw := range keywords {
		if idx := strings.Index(lower, strings.ToLower(kw)); idx >= 0 && (first < 0 || idx < first) {
			first = idx
		}
	}

	start := 0
	if first > 0 {
		start = utf8.RuneCountInString(lower[:first]) - excerptLead
		if start < 0 {
			start = 0
		}
	}
	end := start + excerptRunes
	if end > len(runes) {
		end = len(runes)
		start = end - excerptRunes
	}
	return string(runes[start:end])
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

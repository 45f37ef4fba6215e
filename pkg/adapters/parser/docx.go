package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aescanero/tenderflow/pkg/domain"
)

const docxBody = "word/document.xml"

func parseDocx(data []byte) (*domain.ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("failed to open docx: %s missing", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open docx body: %w", err)
	}
	defer rc.Close()

	return decodeDocumentXML(rc)
}

func decodeDocumentXML(r io.Reader) (*domain.ParsedDocument, error) {
	dec := xml.NewDecoder(r)

	var (
		lines   []string
		outline []domain.Heading
		para    strings.Builder
		style   string
		inPara  bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode docx body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
				style = ""
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						style = a.Value
					}
				}
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, fmt.Errorf("failed to decode docx text: %w", err)
				}
				if inPara {
					para.WriteString(s)
				}
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local != "p" || !inPara {
				continue
			}
			inPara = false
			text := para.String()
			lines = append(lines, text)
			if level := headingLevel(style); level > 0 && strings.TrimSpace(text) != "" {
				outline = append(outline, domain.Heading{Level: level, Title: strings.TrimSpace(text)})
			}
		}
	}

	return &domain.ParsedDocument{
		Text:    strings.Join(lines, "\n"),
		Outline: outline,
	}, nil
}

// headingLevel maps a paragraph style id to an outline level. Word uses
// "Heading1".."Heading9" and "Title"; localized templates often use bare
// digits.
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	s = strings.TrimPrefix(s, "heading")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 9 {
		return 0
	}
	return n
}

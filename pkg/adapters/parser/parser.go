package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/aescanero/tenderflow/pkg/domain"
)

// DefaultMaxBytes caps the size of a document the parser will read.
const DefaultMaxBytes = 64 << 20

// UnsupportedFormatError is returned for formats the parser cannot read.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "unsupported document format"
	}
	return fmt.Sprintf("unsupported document format: %s", e.Ext)
}

// Config holds parser configuration.
type Config struct {
	FetchTimeout time.Duration
	MaxBytes     int64
	Logger       *zap.Logger
}

// Parser implements ports.DocumentParser.
type Parser struct {
	client   *resty.Client
	maxBytes int64
	logger   *zap.Logger
}

// New creates a parser.
func New(cfg Config) *Parser {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	client := resty.New().SetTimeout(cfg.FetchTimeout)
	return &Parser{
		client:   client,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
	}
}

// Close releases the HTTP client.
func (p *Parser) Close() error {
	return p.client.Close()
}

// Parse reads the document ref points at and extracts its text.
func (p *Parser) Parse(ctx context.Context, ref domain.FileRef) (*domain.ParsedDocument, error) {
	if ref.URL == "" {
		return nil, fmt.Errorf("document reference has no url")
	}

	data, err := p.read(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	ext := ref.Ext()
	if ext == "" {
		ext = mimetype.Detect(data).Extension()
	}

	start := time.Now()
	doc, err := Decode(ext, data)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("document parsed",
		zap.String("url", ref.URL),
		zap.String("ext", ext),
		zap.Int("runes", len([]rune(doc.Text))),
		zap.Int("headings", len(doc.Outline)),
		zap.Duration("duration", time.Since(start)))

	return doc, nil
}

// Supported reports whether Decode handles ext. An empty ext is accepted
// because remote documents are sniffed.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case "", ".txt", ".text", ".md", ".markdown", ".docx":
		return true
	}
	return false
}

// Decode extracts text from data in the format named by ext.
func Decode(ext string, data []byte) (*domain.ParsedDocument, error) {
	switch strings.ToLower(ext) {
	case ".txt", ".text":
		return &domain.ParsedDocument{Text: string(bytes.TrimPrefix(data, utf8BOM))}, nil
	case ".md", ".markdown":
		text := string(bytes.TrimPrefix(data, utf8BOM))
		return &domain.ParsedDocument{Text: text, Outline: markdownOutline(text)}, nil
	case ".docx":
		return parseDocx(data)
	default:
		return nil, &UnsupportedFormatError{Ext: ext}
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (p *Parser) read(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return p.fetch(ctx, raw)
		case "file":
			raw = u.Path
		}
	}

	info, err := os.Stat(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if info.Size() > p.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", raw, p.maxBytes)
	}
	data, err := os.ReadFile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

func (p *Parser) fetch(ctx context.Context, raw string) ([]byte, error) {
	res, err := p.client.R().SetContext(ctx).Get(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to fetch document: status %d", res.StatusCode())
	}
	data := res.Bytes()
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", raw, p.maxBytes)
	}
	return data, nil
}

func markdownOutline(text string) []domain.Heading {
	var out []domain.Heading
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(line, "#") {
			continue
		}
		level := len(line) - len(strings.TrimLeft(line, "#"))
		if level > 6 {
			continue
		}
		title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line[level:]), "#"))
		if title == "" || (len(line) > level && line[level] != ' ' && line[level] != '\t') {
			continue
		}
		out = append(out, domain.Heading{Level: level, Title: title})
	}
	return out
}

package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// Defaults applied when a stage leaves a setting empty.
const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 4096
)

// ErrEmptyCompletion is returned when the model answered without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// Config holds Anthropic client configuration
type Config struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxRetries     int
	Metrics        ports.MetricsCollector
	Logger         *zap.Logger
}

// Client implements ports.TextGenerator on the Anthropic Messages API
type Client struct {
	client       anthropic.Client
	defaultModel string
	timeout      time.Duration
	sem          *semaphore.Weighted
	metrics      ports.MetricsCollector
	logger       *zap.Logger
}

// NewClient creates a new Anthropic client
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &Client{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.RequestTimeout,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	if cfg.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return c, nil
}

// Generate sends one system and one user message and returns the text of the
// reply.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, cfg domain.GenerationConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("failed to acquire llm slot: %w", err)
		}
		defer c.sem.Release(1)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Temperature: anthropic.Float(cfg.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		c.record(model, 0, 0, elapsed, err)
		c.logger.Error("llm call failed",
			zap.String("model", model),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return "", fmt.Errorf("failed to call anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()

	c.record(model, msg.Usage.InputTokens, msg.Usage.OutputTokens, elapsed, nil)
	c.logger.Debug("llm call completed",
		zap.String("model", model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("duration", elapsed))

	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *Client) record(model string, in, out int64, d time.Duration, err error) {
	if c.metrics != nil {
		c.metrics.RecordLLMCall(model, in, out, d, err)
	}
}

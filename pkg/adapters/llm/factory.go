package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/adapters/llm/anthropic"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// Config holds LLM client configuration
type Config struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxRetries     int
	Metrics        ports.MetricsCollector
	Logger         *zap.Logger
}

// NewClient creates a new text generator based on provider
func NewClient(cfg *Config) (ports.TextGenerator, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			MaxConcurrent:  cfg.MaxConcurrent,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     cfg.MaxRetries,
			Metrics:        cfg.Metrics,
			Logger:         cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

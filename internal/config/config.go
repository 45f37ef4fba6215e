package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for tenderflow
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TENDERFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"TENDERFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Storage   StorageConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Workers   WorkerConfig
	Timeouts  TimeoutConfig
	Knowledge KnowledgeConfig
	Pipeline  PipelineConfig
	WebSearch WebSearchConfig
}

// StorageConfig selects where invocation records and events live
type StorageConfig struct {
	// Backend is "redis" or "memory". The memory backend keeps records and
	// events in process and needs no Redis.
	Backend string        `env:"STORAGE_BACKEND" envDefault:"redis"`
	Codec   string        `env:"STORAGE_CODEC" envDefault:"json"`
	TTL     time.Duration `env:"STORAGE_TTL" envDefault:"168h"`

	EventsMaxLen int64 `env:"EVENTS_MAX_LEN" envDefault:"10000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	// Rate limiting
	MaxConcurrentRequests int           `env:"LLM_MAX_CONCURRENT_REQUESTS" envDefault:"10"`
	RequestTimeout        time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"180s"`
	MaxRetries            int           `env:"LLM_MAX_RETRIES" envDefault:"2"`

	// Used by stages whose prompt config names no model
	DefaultModel string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"4"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	InvocationTimeout time.Duration `env:"TIMEOUT_INVOCATION" envDefault:"3600s"` // 1 hour
	StageTimeout      time.Duration `env:"TIMEOUT_STAGE" envDefault:"600s"`       // 10 minutes
	ShutdownTimeout   time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// KnowledgeConfig holds local knowledge base settings
type KnowledgeConfig struct {
	Root        string `env:"KB_ROOT" envDefault:"./knowledge_base"`
	TopK        int    `env:"KB_TOP_K" envDefault:"5"`
	ScanOnStart bool   `env:"KB_SCAN_ON_START" envDefault:"true"`
}

// PipelineConfig holds graph execution settings
type PipelineConfig struct {
	// ConfigDir holds optional prompt overrides (*.yaml)
	ConfigDir   string `env:"PIPELINE_CONFIG_DIR" envDefault:"./config/prompts"`
	MaxParallel int    `env:"PIPELINE_MAX_PARALLEL" envDefault:"0"`
}

// WebSearchConfig holds the web search adapter settings. An empty endpoint
// disables web search.
type WebSearchConfig struct {
	Endpoint string        `env:"WEBSEARCH_ENDPOINT"`
	APIKey   string        `env:"WEBSEARCH_API_KEY"`
	Timeout  time.Duration `env:"WEBSEARCH_TIMEOUT" envDefault:"15s"`
	Count    int           `env:"WEBSEARCH_COUNT" envDefault:"5"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate storage
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be redis or memory)", c.Storage.Backend)
	}
	switch c.Storage.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid storage codec: %s (must be json or msgpack)", c.Storage.Codec)
	}

	// Validate LLM config
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}
	if c.LLM.MaxConcurrentRequests < 1 {
		return fmt.Errorf("LLM max concurrent requests must be at least 1")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}

	if c.Knowledge.Root == "" {
		return fmt.Errorf("knowledge base root is required")
	}
	if c.Knowledge.TopK < 1 {
		return fmt.Errorf("knowledge base top k must be at least 1")
	}
	if c.Pipeline.MaxParallel < 0 {
		return fmt.Errorf("pipeline max parallel must not be negative")
	}
	if c.WebSearch.Count < 1 {
		return fmt.Errorf("web search count must be at least 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

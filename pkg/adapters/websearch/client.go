package websearch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// ErrDisabled is returned by Search when no endpoint is configured.
var ErrDisabled = errors.New("web search is not configured")

var (
	itemPaths    = []string{"web_items", "results", "web.results", "items"}
	excerptPaths = []string{"summary", "snippet", "description", "content"}
)

// Config holds web search client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Metrics  ports.MetricsCollector
	Logger   *zap.Logger
}

// Client implements ports.WebSearcher
type Client struct {
	endpoint string
	apiKey   string
	client   *resty.Client
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewClient creates a web search client. An empty endpoint yields a client
// whose searches fail with ErrDisabled.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   cfg.APIKey,
		client:   resty.New().SetTimeout(cfg.Timeout),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Close releases the HTTP client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c.endpoint != "" }

// Search queries the endpoint and returns at most count hits in the order
// the service ranked them.
func (c *Client) Search(ctx context.Context, query string, count int) ([]domain.WebResult, error) {
	if !c.Enabled() {
		c.record("disabled", 0)
		return nil, ErrDisabled
	}
	if count <= 0 {
		count = 5
	}

	start := time.Now()
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"q":     query,
			"count": strconv.Itoa(count),
		})
	if c.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+c.apiKey)
	}

	res, err := req.Get(c.endpoint)
	if err != nil {
		c.record("error", time.Since(start))
		return nil, fmt.Errorf("failed to query web search: %w", err)
	}
	if res.IsError() {
		c.record("error", time.Since(start))
		return nil, fmt.Errorf("web search returned status %d", res.StatusCode())
	}

	body := res.Bytes()
	if !gjson.ValidBytes(body) {
		c.record("error", time.Since(start))
		return nil, fmt.Errorf("web search returned invalid JSON")
	}

	results := parseResults(gjson.ParseBytes(body), count)
	c.record("success", time.Since(start))
	c.logger.Debug("web search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

func (c *Client) record(status string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordWebSearch(status, d)
	}
}

func parseResults(doc gjson.Result, count int) []domain.WebResult {
	var items gjson.Result
	for _, p := range itemPaths {
		if r := doc.Get(p); r.IsArray() {
			items = r
			break
		}
	}

	results := []domain.WebResult{}
	items.ForEach(func(_, item gjson.Result) bool {
		url := first(item, "url", "link")
		if url == "" {
			return true
		}
		results = append(results, domain.WebResult{
			Title:    item.Get("title").String(),
			URL:      url,
			Excerpt:  first(item, excerptPaths...),
			SiteName: first(item, "site_name", "source"),
		})
		return len(results) < count
	})
	return results
}

// first returns the first non-empty string value among paths.
func first(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(item.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// ScanResult summarizes one knowledge base scan
type ScanResult struct {
	Root      string        `json:"root"`
	Indexed   int           `json:"indexed"`
	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration_ns"`
}

// KnowledgeService manages the knowledge bases behind the generate workflow
type KnowledgeService struct {
	registry *knowledge.Registry
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewKnowledgeService creates a knowledge service. eventBus and metrics may
// be nil.
func NewKnowledgeService(registry *knowledge.Registry, eventBus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{
		registry: registry,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger,
	}
}

// Scan refreshes the index of root, or of the default root when empty
func (k *KnowledgeService) Scan(ctx context.Context, root string) (*ScanResult, error) {
	idx, err := k.index(root)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	indexed, err := idx.Scan(ctx, "")
	if err != nil {
		return nil, err
	}
	res := &ScanResult{
		Root:      idx.Root(),
		Indexed:   indexed,
		Documents: idx.Count(),
		Duration:  time.Since(start),
	}
	if k.metrics != nil {
		k.metrics.RecordKnowledgeScan(res.Indexed, res.Documents, res.Duration)
	}

	k.logger.Info("knowledge base scanned",
		zap.String("root", res.Root),
		zap.Int("indexed", res.Indexed),
		zap.Int("documents", res.Documents),
		zap.Duration("duration", res.Duration))

	if k.eventBus != nil {
		event := domain.Event{
			ID:        uuid.New().String(),
			Type:      domain.EventTypeKnowledgeScanned,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"root":      res.Root,
				"indexed":   res.Indexed,
				"documents": res.Documents,
			},
		}
		if err := k.eventBus.Publish(ctx, EventsTopic, event); err != nil {
			k.logger.Error("failed to publish knowledge scanned event", zap.Error(err))
		}
	}
	return res, nil
}

// Documents lists the indexed documents of root
func (k *KnowledgeService) Documents(root string) (string, []knowledge.Summary, error) {
	idx, err := k.index(root)
	if err != nil {
		return "", nil, err
	}
	return idx.Root(), idx.Documents(), nil
}

// Search runs a keyword search against root
func (k *KnowledgeService) Search(root, query string, topK int) ([]knowledge.Result, error) {
	idx, err := k.index(root)
	if err != nil {
		return nil, err
	}
	results := idx.Search(query, topK)
	if results == nil {
		results = []knowledge.Result{}
	}
	return results, nil
}

// Clear drops the index of root. Files on disk are left alone.
func (k *KnowledgeService) Clear(root string) error {
	idx, err := k.index(root)
	if err != nil {
		return err
	}
	if err := idx.Clear(); err != nil {
		return err
	}
	k.logger.Info("knowledge base index cleared", zap.String("root", idx.Root()))
	return nil
}

// index resolves root. Roots outside the configured knowledge base are
// rejected as invalid requests.
func (k *KnowledgeService) index(root string) (*knowledge.Index, error) {
	idx, err := k.registry.Get(root)
	if errors.Is(err, knowledge.ErrOutsideRoot) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return idx, err
}

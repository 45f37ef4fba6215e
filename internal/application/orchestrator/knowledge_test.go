package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/adapters/events/memory"
	promcollector "github.com/aescanero/tenderflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/tenderflow/pkg/domain"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			family = f
		}
	}
	require.NotNil(t, family, name)
	require.Len(t, family.GetMetric(), 1)
	return family.GetMetric()[0].GetGauge().GetValue()
}

func TestKnowledgeService(t *testing.T) {
	logger := zaptest.NewLogger(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "qualification.txt"), []byte("企业资质证书 质量管理体系"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "plan.md"), []byte("# 技术方案\n系统架构"), 0o644))

	bus := memory.NewInMemoryEventBus(logger)
	defer bus.Close()
	events := &eventLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Subscribe(ctx, EventsTopic, events.handle))

	reg := prometheus.NewRegistry()
	svc := NewKnowledgeService(knowledge.NewRegistry(root, nil, logger), bus, promcollector.NewCollector(reg), logger)

	res, err := svc.Scan(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, root, res.Root)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 2, res.Documents)

	res, err = svc.Scan(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Indexed, "unchanged files are not re-extracted")

	require.Eventually(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.events) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.EventTypeKnowledgeScanned, events.events[0].Type)
	assert.Equal(t, 2.0, gaugeValue(t, reg, "tenderflow_knowledge_documents"))

	gotRoot, docs, err := svc.Documents("")
	require.NoError(t, err)
	assert.Equal(t, root, gotRoot)
	assert.Len(t, docs, 2)

	results, err := svc.Search("", "质量管理", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "qualification.txt", results[0].Key)

	results, err = svc.Search("", "的", 3)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	require.NoError(t, svc.Clear(""))
	_, docs, err = svc.Documents("")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestKnowledgeServiceRejectsForeignRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	svc := NewKnowledgeService(knowledge.NewRegistry(root, nil, nil), nil, nil, zaptest.NewLogger(t))

	_, err := svc.Scan(context.Background(), outside)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, knowledge.ErrOutsideRoot)
	assert.NoFileExists(t, filepath.Join(outside, knowledge.IndexFileName))

	_, _, err = svc.Documents(outside)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Search(outside, "质量", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, svc.Clear(outside), ErrInvalidRequest)
}

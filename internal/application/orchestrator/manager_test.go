package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/tenderflow/internal/application/workers"
	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/internal/pipeline"
	"github.com/aescanero/tenderflow/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/tenderflow/pkg/adapters/storage/memory"
	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

type textParser struct{}

func (textParser) Parse(_ context.Context, ref domain.FileRef) (*domain.ParsedDocument, error) {
	return &domain.ParsedDocument{Text: "内容 " + ref.URL}, nil
}

type replyGenerator struct {
	err error
}

func (g replyGenerator) Generate(ctx context.Context, _, _ string, _ domain.GenerationConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.err != nil {
		return "", g.err
	}
	return "分析结论", nil
}

// blockingGenerator blocks every call until its context ends.
type blockingGenerator struct {
	once    sync.Once
	started chan struct{}
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, _, _ string, _ domain.GenerationConfig) (string, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

// holdRunner keeps submitted jobs until the test runs them.
type holdRunner struct {
	mu   sync.Mutex
	jobs []workers.Job
	err  error
}

func (r *holdRunner) Submit(job workers.Job) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) handle(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types(invocationID string) []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.EventType
	for _, e := range l.events {
		if e.InvocationID == invocationID && e.StageID == "" {
			out = append(out, e.Type)
		}
	}
	return out
}

type harness struct {
	manager *Manager
	storage *storagememory.InMemoryStorage
	events  *eventLog
}

func newHarness(t *testing.T, gen ports.TextGenerator, runner Runner, timeout time.Duration) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	prompts, err := pipeline.LoadPrompts("")
	require.NoError(t, err)
	pl, err := pipeline.New(pipeline.Config{
		Generator: gen,
		Parser:    textParser{},
		Knowledge: knowledge.NewRegistry(t.TempDir(), nil, logger),
		Prompts:   prompts,
		Logger:    logger,
	})
	require.NoError(t, err)

	if runner == nil {
		pool := workers.NewPool(2, 8, nil, logger, time.Hour)
		require.NoError(t, pool.Start())
		t.Cleanup(func() { pool.Shutdown(context.Background()) })
		runner = pool
	}

	bus := memory.NewInMemoryEventBus(logger)
	t.Cleanup(func() { bus.Close() })
	events := &eventLog{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Subscribe(ctx, EventsTopic, events.handle))

	store := storagememory.NewInMemoryStorage()
	m := NewManager(pl, graph.NewExecutor(logger), runner, bus, store, nil, NewValidator(nil), logger, timeout)
	return &harness{manager: m, storage: store, events: events}
}

func auditRequest() SubmitRequest {
	return SubmitRequest{
		TenderFile:   domain.FileRef{URL: "tender.docx"},
		BidFile:      &domain.FileRef{URL: "bid.docx"},
		WorkflowType: "audit",
	}
}

func (h *harness) waitTerminal(t *testing.T, id string) *domain.InvocationRecord {
	t.Helper()
	var record *domain.InvocationRecord
	require.Eventually(t, func() bool {
		r, err := h.manager.Get(context.Background(), id)
		if err != nil {
			return false
		}
		record = r
		return r.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func TestSubmitRunsAuditToCompletion(t *testing.T) {
	h := newHarness(t, replyGenerator{}, nil, time.Minute)
	ctx := context.Background()

	submitted, err := h.manager.Submit(ctx, auditRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSubmitted, submitted.Status)
	assert.Equal(t, "audit", submitted.WorkflowType)
	assert.Len(t, submitted.Stages, 9)

	record := h.waitTerminal(t, submitted.ID)
	assert.Equal(t, domain.ExecutionStatusCompleted, record.Status)
	assert.Nil(t, record.Error)
	assert.NotNil(t, record.StartedAt)
	assert.Len(t, record.Result, 7)
	for id, stage := range record.Stages {
		assert.Equal(t, domain.ExecutionStatusCompleted, stage.Status, id)
	}

	stored, err := h.storage.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, stored.Status)

	result, err := h.manager.Result(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, "分析结论", result.FinalModificationSuggestions)

	title, sections, err := h.manager.Report(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.AuditReportTitle, title)
	assert.Len(t, sections, 7)

	require.Eventually(t, func() bool {
		return len(h.events.types(submitted.ID)) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.EventType{
		domain.EventTypeInvocationSubmitted,
		domain.EventTypeInvocationStarted,
		domain.EventTypeInvocationCompleted,
	}, h.events.types(submitted.ID))
	assert.Equal(t, 0, h.manager.ActiveCount())
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, replyGenerator{}, &holdRunner{}, time.Minute)

	_, err := h.manager.Submit(context.Background(), SubmitRequest{
		TenderFile:   domain.FileRef{URL: "t.docx"},
		WorkflowType: "audit",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	ids, err := h.storage.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing is stored for rejected submissions")
}

func TestSubmitWithFullQueue(t *testing.T) {
	h := newHarness(t, replyGenerator{}, &holdRunner{err: workers.ErrQueueFull}, time.Minute)

	_, err := h.manager.Submit(context.Background(), auditRequest())
	require.ErrorIs(t, err, workers.ErrQueueFull)

	records, err := h.manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ExecutionStatusFailed, records[0].Status)
	assert.Equal(t, "rejected", records[0].Error.Kind)
}

func TestCancelQueuedInvocation(t *testing.T) {
	runner := &holdRunner{}
	h := newHarness(t, replyGenerator{}, runner, time.Minute)
	ctx := context.Background()

	submitted, err := h.manager.Submit(ctx, auditRequest())
	require.NoError(t, err)
	require.NoError(t, h.manager.Cancel(ctx, submitted.ID))

	record, err := h.manager.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
	assert.Equal(t, "cancelled", record.Error.Kind)

	// the worker picks the job up later and must leave it alone
	require.Len(t, runner.jobs, 1)
	runner.jobs[0].Run(ctx)
	record, err = h.manager.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
	assert.Nil(t, record.StartedAt)

	err = h.manager.Cancel(ctx, submitted.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	_, err = h.manager.Result(ctx, submitted.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestCancelRunningInvocation(t *testing.T) {
	gen := newBlockingGenerator()
	h := newHarness(t, gen, nil, time.Minute)
	ctx := context.Background()

	submitted, err := h.manager.Submit(ctx, auditRequest())
	require.NoError(t, err)
	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation never reached a generation stage")
	}
	assert.Equal(t, 1, h.manager.ActiveCount())

	require.NoError(t, h.manager.Cancel(ctx, submitted.ID))
	record := h.waitTerminal(t, submitted.ID)
	assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
	assert.Equal(t, "cancelled", record.Error.Kind)
	assert.Empty(t, record.Result, "cancelled invocations keep no partial output")
}

func TestInvocationTimeout(t *testing.T) {
	h := newHarness(t, newBlockingGenerator(), nil, 50*time.Millisecond)

	submitted, err := h.manager.Submit(context.Background(), auditRequest())
	require.NoError(t, err)

	record := h.waitTerminal(t, submitted.ID)
	assert.Equal(t, domain.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "timeout", record.Error.Kind)
}

func TestStageFailureIsReported(t *testing.T) {
	h := newHarness(t, replyGenerator{err: errors.New("overloaded")}, nil, time.Minute)

	submitted, err := h.manager.Submit(context.Background(), auditRequest())
	require.NoError(t, err)

	record := h.waitTerminal(t, submitted.ID)
	assert.Equal(t, domain.ExecutionStatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "handler", record.Error.Kind)
	assert.NotEmpty(t, record.Error.StageID)
	assert.Contains(t, record.Error.Message, "overloaded")
	assert.Empty(t, record.Result)

	failed := record.Stages[record.Error.StageID]
	require.NotNil(t, failed)
	assert.Equal(t, domain.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, domain.ExecutionStatusCompleted, record.Stages[pipeline.StageBidDocParse].Status)
}

func TestUnknownInvocation(t *testing.T) {
	h := newHarness(t, replyGenerator{}, &holdRunner{}, time.Minute)
	ctx := context.Background()

	_, err := h.manager.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, h.manager.Cancel(ctx, "missing"), ports.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	h := newHarness(t, replyGenerator{}, &holdRunner{}, time.Minute)
	ctx := context.Background()

	first, err := h.manager.Submit(ctx, auditRequest())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := h.manager.Submit(ctx, SubmitRequest{
		TenderFile:   domain.FileRef{URL: "tender.docx"},
		WorkflowType: "生成",
	})
	require.Error(t, err, "unknown labels are rejected rather than guessed")
	assert.Nil(t, second)
	third, err := h.manager.Submit(ctx, SubmitRequest{
		TenderFile:   domain.FileRef{URL: "tender.docx"},
		WorkflowType: "材料生成",
	})
	require.NoError(t, err)
	assert.Len(t, third.Stages, 8)

	records, err := h.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, third.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestShutdownCancelsLiveInvocations(t *testing.T) {
	runner := &holdRunner{}
	h := newHarness(t, replyGenerator{}, runner, time.Minute)
	ctx := context.Background()

	submitted, err := h.manager.Submit(ctx, auditRequest())
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(shutdownCtx))

	record, err := h.storage.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, record.Status)
}

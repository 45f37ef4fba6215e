package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/application/workers"
	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/internal/pipeline"
	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// EventsTopic carries every invocation and stage lifecycle event.
const EventsTopic = "invocation.events"

var (
	// ErrAlreadyTerminal is returned when cancelling a finished invocation.
	ErrAlreadyTerminal = errors.New("invocation already in terminal state")
	// ErrNotCompleted is returned when asking for the result of an
	// invocation that has not completed.
	ErrNotCompleted = errors.New("invocation has not completed")
	// ErrNotLocal is returned when cancelling an invocation that is live
	// but owned by another instance.
	ErrNotLocal = errors.New("invocation is not running on this instance")
)

// Runner schedules jobs. *workers.Pool implements it.
type Runner interface {
	Submit(job workers.Job) error
}

// Manager coordinates pipeline invocations
type Manager struct {
	pipeline  *pipeline.Pipeline
	executor  *graph.Executor
	runner    Runner
	eventBus  ports.EventBus
	storage   ports.ResultStorage
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger

	// Track live invocations
	executions sync.Map // map[string]*executionContext
	active     atomic.Int64

	invocationTimeout time.Duration
}

// executionContext holds state for a single invocation
type executionContext struct {
	id         string
	request    pipeline.Request
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu     sync.Mutex
	record *domain.InvocationRecord
}

// NewManager creates a new orchestrator manager
func NewManager(
	pl *pipeline.Pipeline,
	executor *graph.Executor,
	runner Runner,
	eventBus ports.EventBus,
	storage ports.ResultStorage,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	invocationTimeout time.Duration,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewValidator(nil)
	}
	return &Manager{
		pipeline:          pl,
		executor:          executor,
		runner:            runner,
		eventBus:          eventBus,
		storage:           storage,
		metrics:           metrics,
		validator:         validator,
		logger:            logger,
		invocationTimeout: invocationTimeout,
	}
}

// Submit validates req, persists a submitted record and queues the
// invocation. The returned record is a snapshot.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.InvocationRecord, error) {
	preq, err := m.validator.Validate(req)
	if err != nil {
		m.logger.Warn("invocation rejected", zap.Error(err))
		return nil, err
	}

	id := uuid.New().String()
	record := &domain.InvocationRecord{
		ID:           id,
		WorkflowType: string(preq.WorkflowType),
		Status:       domain.ExecutionStatusSubmitted,
		Request: domain.InvocationRequest{
			TenderFile:        preq.TenderFile,
			BidFile:           preq.BidFile,
			KnowledgeBasePath: preq.KnowledgeBasePath,
		},
		Stages:      make(map[string]*domain.StageRecord),
		SubmittedAt: time.Now().UTC(),
	}
	for _, stageID := range m.pipeline.Stages(preq.WorkflowType) {
		record.Stages[stageID] = &domain.StageRecord{
			StageID: stageID,
			Status:  domain.ExecutionStatusPending,
		}
	}

	if err := m.storage.Save(ctx, record); err != nil {
		m.logger.Error("failed to save initial record",
			zap.String("invocation_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save invocation: %w", err)
	}

	execCtx, cancel := context.WithCancel(context.Background())
	ec := &executionContext{
		id:         id,
		request:    preq,
		ctx:        execCtx,
		cancelFunc: cancel,
		record:     record,
	}
	m.executions.Store(id, ec)
	snapshot := record.Clone()

	m.publish(id, "", domain.EventTypeInvocationSubmitted, map[string]interface{}{
		"workflow_type": record.WorkflowType,
	})
	if m.metrics != nil {
		m.metrics.RecordInvocationSubmitted(record.WorkflowType)
	}

	if err := m.runner.Submit(workers.Job{ID: id, Run: func(poolCtx context.Context) {
		m.execute(poolCtx, ec)
	}}); err != nil {
		m.finalize(ec, domain.ExecutionStatusFailed, nil, &domain.InvocationError{
			Kind:    "rejected",
			Message: err.Error(),
		})
		cancel()
		return nil, fmt.Errorf("failed to queue invocation: %w", err)
	}

	m.logger.Info("invocation submitted",
		zap.String("invocation_id", id),
		zap.String("workflow_type", record.WorkflowType))
	return snapshot, nil
}

// Get returns the current record of an invocation
func (m *Manager) Get(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	if val, ok := m.executions.Load(id); ok {
		ec := val.(*executionContext)
		ec.mu.Lock()
		defer ec.mu.Unlock()
		return ec.record.Clone(), nil
	}
	record, err := m.storage.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation %s: %w", id, err)
	}
	return record, nil
}

// List returns all stored invocations, newest first
func (m *Manager) List(ctx context.Context) ([]*domain.InvocationRecord, error) {
	ids, err := m.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	records := make([]*domain.InvocationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := m.Get(ctx, id)
		if errors.Is(err, ports.ErrNotFound) {
			// expired between List and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	return records, nil
}

// Result returns the typed result of a completed invocation
func (m *Manager) Result(ctx context.Context, id string) (*pipeline.Result, error) {
	record, err := m.completed(ctx, id)
	if err != nil {
		return nil, err
	}
	return pipeline.ResultFromFields(record.Result), nil
}

// Report returns the report title and sections of a completed invocation
func (m *Manager) Report(ctx context.Context, id string) (string, []ports.ReportSection, error) {
	record, err := m.completed(ctx, id)
	if err != nil {
		return "", nil, err
	}
	title, sections := pipeline.Report(pipeline.WorkflowType(record.WorkflowType), pipeline.ResultFromFields(record.Result))
	return title, sections, nil
}

func (m *Manager) completed(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	record, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.ExecutionStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, record.Status)
	}
	return record, nil
}

// Cancel cancels a queued or running invocation. A queued invocation is
// cancelled immediately; a running one stops before its next stage.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	val, ok := m.executions.Load(id)
	if !ok {
		record, err := m.storage.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get invocation %s: %w", id, err)
		}
		if record.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, record.Status)
		}
		return fmt.Errorf("%w: %s", ErrNotLocal, id)
	}

	ec := val.(*executionContext)
	ec.mu.Lock()
	status := ec.record.Status
	ec.mu.Unlock()
	if status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, status)
	}

	ec.cancelFunc()
	if status == domain.ExecutionStatusSubmitted {
		m.finalize(ec, domain.ExecutionStatusCancelled, nil, cancelledError(""))
	}

	m.logger.Info("invocation cancelled",
		zap.String("invocation_id", id),
		zap.String("previous_status", string(status)))
	return nil
}

// ActiveCount returns the number of running invocations
func (m *Manager) ActiveCount() int {
	return int(m.active.Load())
}

// execute runs one invocation on a worker
func (m *Manager) execute(poolCtx context.Context, ec *executionContext) {
	stop := context.AfterFunc(poolCtx, ec.cancelFunc)
	defer stop()
	defer ec.cancelFunc()

	runCtx := ec.ctx
	if m.invocationTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ec.ctx, m.invocationTimeout)
		defer cancel()
	}

	if !m.markRunning(ec) {
		return
	}
	if err := runCtx.Err(); err != nil {
		m.finalize(ec, domain.ExecutionStatusCancelled, nil, cancelledError(""))
		return
	}

	m.setActive(1)
	defer m.setActive(-1)

	result, err := m.pipeline.Run(runCtx, m.executor, ec.request,
		graph.WithObserver(&stageObserver{manager: m, exec: ec}),
		graph.WithInvocationID(ec.id))

	switch {
	case err == nil:
		m.finalize(ec, domain.ExecutionStatusCompleted, result.Fields(), nil)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		m.finalize(ec, domain.ExecutionStatusFailed, nil, &domain.InvocationError{
			StageID: stageOf(err),
			Kind:    "timeout",
			Message: fmt.Sprintf("invocation timed out after %s", m.invocationTimeout),
		})
	case runCtx.Err() != nil:
		m.finalize(ec, domain.ExecutionStatusCancelled, nil, cancelledError(stageOf(err)))
	default:
		m.finalize(ec, domain.ExecutionStatusFailed, nil, invocationError(err))
	}
}

// markRunning moves a queued invocation to running. It reports false when
// the invocation was already finished, by Cancel for instance.
func (m *Manager) markRunning(ec *executionContext) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.record.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	ec.record.Status = domain.ExecutionStatusRunning
	ec.record.StartedAt = &now
	m.save(ec.record)

	m.publish(ec.id, "", domain.EventTypeInvocationStarted, nil)
	m.logger.Info("invocation started", zap.String("invocation_id", ec.id))
	return true
}

// finalize moves an invocation to a terminal status exactly once.
func (m *Manager) finalize(ec *executionContext, status domain.ExecutionStatus, result map[string]string, ierr *domain.InvocationError) bool {
	ec.mu.Lock()
	if ec.record.Status.IsTerminal() {
		ec.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	r := ec.record
	r.Status = status
	r.CompletedAt = &now
	r.Result = result
	r.Error = ierr
	m.save(r)
	workflow := r.WorkflowType
	since := r.SubmittedAt
	if r.StartedAt != nil {
		since = *r.StartedAt
	}
	ec.mu.Unlock()

	m.executions.Delete(ec.id)

	data := map[string]interface{}{"status": string(status)}
	eventType := domain.EventTypeInvocationCompleted
	switch status {
	case domain.ExecutionStatusFailed:
		eventType = domain.EventTypeInvocationFailed
	case domain.ExecutionStatusCancelled:
		eventType = domain.EventTypeInvocationCancelled
	}
	if ierr != nil {
		data["error"] = ierr.Message
		data["kind"] = ierr.Kind
		data["stage_id"] = ierr.StageID
	}
	m.publish(ec.id, "", eventType, data)

	duration := now.Sub(since)
	if m.metrics != nil {
		m.metrics.RecordInvocationCompleted(workflow, string(status), duration)
	}

	fields := []zap.Field{
		zap.String("invocation_id", ec.id),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
	}
	if ierr != nil {
		fields = append(fields, zap.String("kind", ierr.Kind), zap.String("error", ierr.Message))
		m.logger.Warn("invocation finished", fields...)
	} else {
		m.logger.Info("invocation finished", fields...)
	}
	return true
}

// Shutdown cancels all live invocations and waits for them to record their
// outcome
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(_, value interface{}) bool {
		ec := value.(*executionContext)
		ec.cancelFunc()
		ec.mu.Lock()
		queued := ec.record.Status == domain.ExecutionStatusSubmitted
		ec.mu.Unlock()
		if queued {
			m.finalize(ec, domain.ExecutionStatusCancelled, nil, cancelledError(""))
		}
		return true
	})

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for m.live() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("orchestrator shutdown: %d invocations still live: %w", m.live(), ctx.Err())
		case <-ticker.C:
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func (m *Manager) live() int {
	n := 0
	m.executions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// save persists r. Callers hold the execution lock so saves of one record
// never interleave.
func (m *Manager) save(r *domain.InvocationRecord) {
	if err := m.storage.Save(context.Background(), r.Clone()); err != nil {
		m.logger.Error("failed to save invocation",
			zap.String("invocation_id", r.ID),
			zap.Error(err))
	}
}

// publish sends a lifecycle event. Delivery is best effort; failures are
// logged.
func (m *Manager) publish(invocationID, stageID string, eventType domain.EventType, data map[string]interface{}) {
	event := domain.Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		InvocationID: invocationID,
		StageID:      stageID,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	}
	if err := m.eventBus.Publish(context.Background(), EventsTopic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("invocation_id", invocationID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (m *Manager) setActive(delta int64) {
	n := m.active.Add(delta)
	if m.metrics != nil {
		m.metrics.SetActiveInvocations(int(n))
	}
}

// invocationError maps an execution failure to its user-visible form.
func invocationError(err error) *domain.InvocationError {
	var execErr *graph.ExecutionError
	if errors.As(err, &execErr) {
		return &domain.InvocationError{
			StageID: execErr.StageID,
			Kind:    execErr.Kind(),
			Message: execErr.Err.Error(),
		}
	}
	kind := "internal"
	if errors.Is(err, pipeline.ErrUnknownWorkflowType) {
		kind = "validation"
	}
	return &domain.InvocationError{Kind: kind, Message: err.Error()}
}

func cancelledError(stageID string) *domain.InvocationError {
	return &domain.InvocationError{StageID: stageID, Kind: "cancelled", Message: "invocation cancelled"}
}

func stageOf(err error) string {
	var execErr *graph.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.StageID
	}
	return ""
}

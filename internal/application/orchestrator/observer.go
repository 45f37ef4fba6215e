package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/pkg/domain"
)

// stageObserver mirrors stage transitions of one invocation into its record,
// the event bus and metrics.
type stageObserver struct {
	manager *Manager
	exec    *executionContext
}

var _ graph.Observer = (*stageObserver)(nil)

func (o *stageObserver) StageStarted(_ context.Context, stageID string) {
	now := time.Now().UTC()
	o.update(stageID, func(s *domain.StageRecord) {
		s.Status = domain.ExecutionStatusRunning
		s.StartedAt = &now
	})
	o.manager.publish(o.exec.id, stageID, domain.EventTypeStageStarted, nil)
}

func (o *stageObserver) StageCompleted(_ context.Context, stageID string, duration time.Duration) {
	o.finish(stageID, duration, nil)
	o.manager.publish(o.exec.id, stageID, domain.EventTypeStageCompleted, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	o.record(stageID, "success", duration)
}

func (o *stageObserver) StageFailed(_ context.Context, stageID string, duration time.Duration, err error) {
	o.finish(stageID, duration, err)
	o.manager.publish(o.exec.id, stageID, domain.EventTypeStageFailed, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"error":       err.Error(),
	})
	o.record(stageID, "error", duration)
	o.manager.logger.Warn("stage failed",
		zap.String("invocation_id", o.exec.id),
		zap.String("stage_id", stageID),
		zap.Error(err))
}

func (o *stageObserver) finish(stageID string, duration time.Duration, err error) {
	now := time.Now().UTC()
	o.update(stageID, func(s *domain.StageRecord) {
		s.Status = domain.ExecutionStatusCompleted
		if err != nil {
			s.Status = domain.ExecutionStatusFailed
			s.Error = err.Error()
		}
		s.CompletedAt = &now
		s.DurationMs = duration.Milliseconds()
	})
}

// update applies fn to the stage record and persists the invocation. Late
// callbacks after the invocation finished are ignored.
func (o *stageObserver) update(stageID string, fn func(*domain.StageRecord)) {
	ec := o.exec
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.record.Status.IsTerminal() {
		return
	}
	if ec.record.Stages == nil {
		ec.record.Stages = make(map[string]*domain.StageRecord)
	}
	s, ok := ec.record.Stages[stageID]
	if !ok {
		s = &domain.StageRecord{StageID: stageID}
		ec.record.Stages[stageID] = s
	}
	fn(s)
	o.manager.save(ec.record)
}

func (o *stageObserver) record(stageID, status string, duration time.Duration) {
	if o.manager.metrics == nil {
		return
	}
	kind := ""
	if st, ok := o.manager.pipeline.Definition().Stage(stageID); ok {
		kind = st.Kind
	}
	o.manager.metrics.RecordStageExecuted(stageID, kind, status, duration)
}

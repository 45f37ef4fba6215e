package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultHealthInterval = 30 * time.Second

// HealthStatus is a snapshot of the pool
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// Saturated reports whether new submissions are being rejected
func (s *HealthStatus) Saturated() bool {
	return s.QueueCapacity > 0 && s.QueueDepth >= s.QueueCapacity
}

// HealthMonitor samples the pool periodically, records metrics and logs
// transitions between healthy and unhealthy or saturated states.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *HealthStatus
}

// NewHealthMonitor creates a health monitor sampling every interval
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start begins sampling. Calling Start on a running monitor does nothing.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
}

// Stop ends sampling and waits for the sampling goroutine to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

// sample takes a snapshot, records it and logs state changes
func (h *HealthMonitor) sample() {
	status := h.GetStatus()

	if h.pool.metrics != nil {
		h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
		h.pool.metrics.SetQueueDepth(QueueName, status.QueueDepth)
	}

	h.mu.Lock()
	prev := h.last
	h.last = status
	h.mu.Unlock()

	wasHealthy, wasSaturated := true, false
	if prev != nil {
		wasHealthy, wasSaturated = prev.Healthy, prev.Saturated()
	}

	switch {
	case wasHealthy && !status.Healthy:
		h.logger.Warn("worker pool became unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	case !wasHealthy && status.Healthy:
		h.logger.Info("worker pool recovered", zap.Int("total", status.TotalWorkers))
	}

	if !wasSaturated && status.Saturated() {
		h.logger.Warn("invocation queue is full, submissions are rejected",
			zap.Int("workers", status.TotalWorkers),
			zap.Int("queue_capacity", status.QueueCapacity))
	}

	h.logger.Debug("worker pool sampled",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("queued", status.QueueDepth))
}

// Last returns the most recent periodic sample, or nil before the first one
func (h *HealthMonitor) Last() *HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	cp := *h.last
	return &cp
}

// GetStatus computes a fresh snapshot. The pool is healthy while it has
// workers and none of them stopped; busy workers count as healthy.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueueDepth:    h.pool.QueueDepth(),
		QueueCapacity: cap(h.pool.queue),
		Timestamp:     time.Now(),
	}
	for _, s := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch s {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	return status
}

// IsHealthy reports whether the pool can run invocations
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

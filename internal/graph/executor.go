package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Observer is notified about stage lifecycle transitions. Calls may come from
// several goroutines at once.
type Observer interface {
	StageStarted(ctx context.Context, stageID string)
	StageCompleted(ctx context.Context, stageID string, duration time.Duration)
	StageFailed(ctx context.Context, stageID string, duration time.Duration, err error)
}

// Executor interprets a Definition against an initial State.
type Executor struct {
	logger       *zap.Logger
	maxParallel  int
	stageTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxParallel bounds the number of handlers running at once. Zero or a
// negative value means no bound.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) { e.maxParallel = n }
}

// WithStageTimeout puts every handler call under its own deadline.
func WithStageTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.stageTimeout = d }
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvokeOption configures a single invocation.
type InvokeOption func(*invokeConfig)

type invokeConfig struct {
	invocationID string
	observers    []Observer
}

// WithObserver registers an observer for one invocation.
func WithObserver(o Observer) InvokeOption {
	return func(c *invokeConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithInvocationID tags log lines of one invocation.
func WithInvocationID(id string) InvokeOption {
	return func(c *invokeConfig) { c.invocationID = id }
}

// Invoke runs def from its entry stage until no stage is running or ready.
// initial is not modified. On any failure the returned state is nil and the
// error is an *ExecutionError naming the stage being dispatched.
func (e *Executor) Invoke(ctx context.Context, def *Definition, initial State, opts ...InvokeOption) (State, error) {
	if def == nil {
		return nil, fmt.Errorf("failed to invoke: %w", ErrInvalidGraph)
	}

	cfg := invokeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		exec:       e,
		def:        def,
		cfg:        cfg,
		state:      initial.Clone(),
		dispatched: map[string]bool{def.entry: true},
		completed:  make(map[string]bool, len(def.order)),
		group:      g,
		ctx:        gctx,
		logger: e.logger.With(
			zap.String("graph", def.name),
			zap.String("invocation_id", cfg.invocationID),
		),
	}
	if e.maxParallel > 0 {
		r.sem = semaphore.NewWeighted(int64(e.maxParallel))
	}

	start := time.Now()
	r.logger.Debug("invocation started", zap.String("entry", def.entry))

	r.dispatch(def.entry)
	if err := g.Wait(); err != nil {
		r.logger.Debug("invocation failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if err := r.stalled(); err != nil {
		r.logger.Warn("invocation ended with a stalled join", zap.Error(err))
		return nil, err
	}

	r.logger.Debug("invocation completed",
		zap.Int("stages", len(r.completed)),
		zap.Duration("duration", time.Since(start)))
	return r.state, nil
}

// run holds the mutable bookkeeping of one invocation.
type run struct {
	exec   *Executor
	def    *Definition
	cfg    invokeConfig
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	dispatched map[string]bool
	completed  map[string]bool

	group *errgroup.Group
	ctx   context.Context
	sem   *semaphore.Weighted
}

func (r *run) dispatch(id string) {
	r.group.Go(func() error { return r.runStage(id) })
}

func (r *run) runStage(id string) error {
	if err := r.ctx.Err(); err != nil {
		return &ExecutionError{StageID: id, Err: err}
	}

	st := r.def.stages[id]

	r.mu.Lock()
	in, err := project(st, r.state)
	r.mu.Unlock()
	if err != nil {
		return &ExecutionError{StageID: id, Err: err}
	}

	if r.sem != nil {
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return &ExecutionError{StageID: id, Err: err}
		}
	}

	for _, o := range r.cfg.observers {
		o.StageStarted(r.ctx, id)
	}
	start := time.Now()
	out, err := r.call(st, in)
	elapsed := time.Since(start)
	if r.sem != nil {
		r.sem.Release(1)
	}

	if err != nil {
		for _, o := range r.cfg.observers {
			o.StageFailed(r.ctx, id, elapsed, err)
		}
		r.logger.Debug("stage failed",
			zap.String("stage", id),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return &ExecutionError{StageID: id, Err: err}
	}

	next, err := r.advance(st, out)
	if err != nil {
		for _, o := range r.cfg.observers {
			o.StageFailed(r.ctx, id, elapsed, err)
		}
		return &ExecutionError{StageID: id, Err: err}
	}

	for _, o := range r.cfg.observers {
		o.StageCompleted(r.ctx, id, elapsed)
	}
	r.logger.Debug("stage completed",
		zap.String("stage", id),
		zap.Strings("next", next),
		zap.Duration("duration", elapsed))

	for _, t := range next {
		r.dispatch(t)
	}
	return nil
}

// call runs the handler outside the state lock. The handler context is the
// run context, so a failing sibling cancels it mid-call.
func (r *run) call(st *Stage, in State) (out State, err error) {
	ctx := r.ctx
	if r.exec.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.exec.stageTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, NewHandlerError(st.ID, fmt.Errorf("panic: %v", p))
		}
	}()

	out, err = st.Handler(ctx, in)
	if err != nil {
		var he *HandlerError
		if !errors.As(err, &he) {
			err = NewHandlerError(st.ID, err)
		}
		return nil, err
	}
	return out, nil
}

// advance merges a stage's outputs and returns the successors that became
// ready. Routing sees the state as it is right after the merge.
func (r *run) advance(st *Stage, out State) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ignored := merge(st, r.state, out); len(ignored) > 0 {
		r.logger.Debug("ignoring undeclared output fields",
			zap.String("stage", st.ID),
			zap.Strings("fields", ignored))
	}
	r.completed[st.ID] = true

	var next []string
	for _, t := range r.def.targets[st.ID] {
		if r.ready(t) {
			r.dispatched[t] = true
			next = append(next, t)
		}
	}

	ce, ok := r.def.conditional[st.ID]
	if !ok {
		return next, nil
	}

	label, err := ce.Route(r.state.Clone())
	if err != nil {
		var re *RoutingError
		if errors.As(err, &re) {
			if re.StageID == "" {
				cp := *re
				cp.StageID = st.ID
				return nil, &cp
			}
			return nil, re
		}
		return nil, &RoutingError{StageID: st.ID, Label: label, Reason: err.Error()}
	}
	target, ok := ce.Paths[label]
	if !ok {
		return nil, &RoutingError{StageID: st.ID, Label: label}
	}
	if r.ready(target) {
		r.dispatched[target] = true
		next = append(next, target)
	}
	return next, nil
}

// ready must be called with mu held.
func (r *run) ready(id string) bool {
	if id == End || r.dispatched[id] {
		return false
	}
	return allCompleted(r.def.preds[id], r.completed)
}

// stalled reports a join whose predecessors only partly completed.
func (r *run) stalled() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.def.order {
		preds := r.def.preds[id]
		if r.dispatched[id] || len(preds) == 0 {
			continue
		}
		var missing []string
		for _, p := range preds {
			if !r.completed[p] {
				missing = append(missing, p)
			}
		}
		if len(missing) < len(preds) {
			return &ExecutionError{
				StageID: id,
				Err:     fmt.Errorf("%w: waiting for %s", ErrStalledJoin, strings.Join(missing, ", ")),
			}
		}
	}
	return nil
}

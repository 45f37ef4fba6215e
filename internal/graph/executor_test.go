package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    map[string]error
}

func (r *recorder) StageStarted(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recorder) StageCompleted(_ context.Context, id string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
}

func (r *recorder) StageFailed(_ context.Context, id string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = make(map[string]error)
	}
	r.failed[id] = err
}

func constant(field string, v any) HandlerFunc {
	return func(context.Context, State) (State, error) {
		return State{field: v}, nil
	}
}

// diamond: root -> {left, right} -> sink -> End.
func diamond(t *testing.T, sink HandlerFunc) *Definition {
	t.Helper()
	def, err := NewBuilder("diamond").
		AddStage(Stage{ID: "root", Inputs: []string{"seed"}, Outputs: []string{"base"}, Handler: func(_ context.Context, in State) (State, error) {
			return State{"base": in.String("seed") + "!"}, nil
		}}).
		AddStage(Stage{ID: "left", Inputs: []string{"base"}, Outputs: []string{"left"}, Handler: func(_ context.Context, in State) (State, error) {
			return State{"left": "L" + in.String("base")}, nil
		}}).
		AddStage(Stage{ID: "right", Inputs: []string{"base"}, Outputs: []string{"right"}, Handler: func(_ context.Context, in State) (State, error) {
			return State{"right": "R" + in.String("base")}, nil
		}}).
		AddStage(Stage{ID: "sink", Inputs: []string{"left", "right"}, Outputs: []string{"joined"}, Handler: sink}).
		AddEdge("root", "left").
		AddEdge("root", "right").
		AddJoin([]string{"left", "right"}, "sink").
		AddEdge("sink", End).
		SetEntry("root").
		Build()
	require.NoError(t, err)
	return def
}

func TestInvokeDiamond(t *testing.T) {
	var calls int32
	def := diamond(t, func(_ context.Context, in State) (State, error) {
		atomic.AddInt32(&calls, 1)
		return State{"joined": in.String("left") + "+" + in.String("right")}, nil
	})

	rec := &recorder{}
	exec := NewExecutor(zaptest.NewLogger(t))
	initial := State{"seed": "s"}
	got, err := exec.Invoke(context.Background(), def, initial, WithObserver(rec), WithInvocationID("inv-1"))
	require.NoError(t, err)

	want := State{
		"seed":   "s",
		"base":   "s!",
		"left":   "Ls!",
		"right":  "Rs!",
		"joined": "Ls!+Rs!",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("final state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(1), calls, "join must fire exactly once")
	assert.Equal(t, State{"seed": "s"}, initial, "initial state must not be modified")
	assert.ElementsMatch(t, []string{"root", "left", "right", "sink"}, rec.started)
	assert.ElementsMatch(t, []string{"root", "left", "right", "sink"}, rec.completed)
	assert.Empty(t, rec.failed)
}

func TestInvokeIsDeterministic(t *testing.T) {
	def := diamond(t, func(_ context.Context, in State) (State, error) {
		return State{"joined": in.String("left") + in.String("right")}, nil
	})
	exec := NewExecutor(nil)

	first, err := exec.Invoke(context.Background(), def, State{"seed": "x"})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := exec.Invoke(context.Background(), def, State{"seed": "x"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestInvokeProjectsOnlyDeclaredInputs(t *testing.T) {
	var seen State
	def, err := NewBuilder("projection").
		AddStage(Stage{ID: "a", Inputs: []string{"need"}, Optional: []string{"maybe", "absent"}, Outputs: []string{"out"},
			Handler: func(_ context.Context, in State) (State, error) {
				seen = in.Clone()
				return State{"out": 1, "sneaky": true}, nil
			}}).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	got, err := NewExecutor(zaptest.NewLogger(t)).Invoke(context.Background(), def,
		State{"need": "n", "maybe": "m", "secret": "s"})
	require.NoError(t, err)

	assert.Equal(t, State{"need": "n", "maybe": "m"}, seen)
	assert.Equal(t, 1, got["out"])
	assert.False(t, got.Has("sneaky"), "undeclared outputs must be ignored")
	assert.Equal(t, "s", got["secret"])
}

func TestInvokeSchemaError(t *testing.T) {
	def := diamond(t, constant("joined", "x"))

	got, err := NewExecutor(nil).Invoke(context.Background(), def, State{})
	require.Error(t, err)
	assert.Nil(t, got)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "root", execErr.StageID)
	assert.Equal(t, "schema", execErr.Kind())

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "seed", schemaErr.Field)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestInvokeHandlerErrorAbortsWithoutPartialState(t *testing.T) {
	boom := errors.New("boom")
	def := diamond(t, func(context.Context, State) (State, error) { return nil, boom })
	rec := &recorder{}

	got, err := NewExecutor(nil).Invoke(context.Background(), def, State{"seed": "s"}, WithObserver(rec))
	require.Error(t, err)
	assert.Nil(t, got)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "sink", execErr.StageID)
	assert.Equal(t, "handler", execErr.Kind())
	assert.True(t, errors.Is(err, ErrHandler))
	assert.True(t, errors.Is(err, boom))

	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "sink", he.StageID)
	assert.Contains(t, rec.failed, "sink")
}

func TestInvokeRecoversPanics(t *testing.T) {
	def, err := NewBuilder("panic").
		AddStage(Stage{ID: "a", Handler: func(context.Context, State) (State, error) { panic("kaboom") }}).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	_, err = NewExecutor(nil).Invoke(context.Background(), def, State{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandler))
	assert.ErrorContains(t, err, "kaboom")
}

func TestInvokeFailureCancelsSiblings(t *testing.T) {
	var downstream int32

	def, err := NewBuilder("cancel").
		AddStage(stage("root")).
		AddStage(Stage{ID: "fail", Handler: func(context.Context, State) (State, error) {
			return nil, errors.New("fail fast")
		}}).
		AddStage(Stage{ID: "slow", Outputs: []string{"slow"}, Handler: func(ctx context.Context, _ State) (State, error) {
			<-ctx.Done()
			return State{"slow": true}, nil
		}}).
		AddStage(Stage{ID: "after", Handler: func(context.Context, State) (State, error) {
			atomic.AddInt32(&downstream, 1)
			return nil, nil
		}}).
		AddEdge("root", "fail").
		AddEdge("root", "slow").
		AddEdge("slow", "after").
		SetEntry("root").
		Build()
	require.NoError(t, err)

	_, err = NewExecutor(nil).Invoke(context.Background(), def, State{})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "fail", execErr.StageID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&downstream), "no stage may start after a failure")
}

func TestInvokeCancelledContext(t *testing.T) {
	def := diamond(t, constant("joined", "x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(nil).Invoke(ctx, def, State{"seed": "s"})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "root", execErr.StageID)
	assert.Equal(t, "cancelled", execErr.Kind())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInvokeStageTimeout(t *testing.T) {
	def, err := NewBuilder("timeout").
		AddStage(Stage{ID: "slow", Handler: func(ctx context.Context, _ State) (State, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}).
		SetEntry("slow").
		Build()
	require.NoError(t, err)

	_, err = NewExecutor(nil, WithStageTimeout(10*time.Millisecond)).Invoke(context.Background(), def, State{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "handler", execErr.Kind())
}

func TestInvokeMaxParallel(t *testing.T) {
	var running, peak int32
	work := func(field string) HandlerFunc {
		return func(context.Context, State) (State, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return State{field: true}, nil
		}
	}

	b := NewBuilder("parallel").AddStage(stage("root")).SetEntry("root")
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("w%d", i)
		b.AddStage(Stage{ID: id, Outputs: []string{id}, Handler: work(id)}).AddEdge("root", id)
	}
	def, err := b.Build()
	require.NoError(t, err)

	got, err := NewExecutor(nil, WithMaxParallel(2)).Invoke(context.Background(), def, State{})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	for i := 0; i < 6; i++ {
		assert.True(t, got.Bool(fmt.Sprintf("w%d", i)))
	}
}

func TestInvokeConditionalRouting(t *testing.T) {
	route := func(s State) (string, error) { return s.String("mode"), nil }
	def, err := NewBuilder("routing").
		AddStage(stage("start")).
		AddStage(Stage{ID: "a", Outputs: []string{"path"}, Handler: constant("path", "a")}).
		AddStage(Stage{ID: "b", Outputs: []string{"path"}, Handler: constant("path", "b")}).
		AddConditionalEdges("start", route, map[string]string{"a": "a", "b": "b", "skip": End}).
		SetEntry("start").
		Build()
	require.NoError(t, err)
	exec := NewExecutor(nil)

	t.Run("selects mapped target", func(t *testing.T) {
		got, err := exec.Invoke(context.Background(), def, State{"mode": "b"})
		require.NoError(t, err)
		assert.Equal(t, "b", got["path"])
	})

	t.Run("end label terminates", func(t *testing.T) {
		got, err := exec.Invoke(context.Background(), def, State{"mode": "skip"})
		require.NoError(t, err)
		assert.False(t, got.Has("path"))
	})

	t.Run("unmapped label is a routing error", func(t *testing.T) {
		_, err := exec.Invoke(context.Background(), def, State{"mode": "zzz"})
		require.Error(t, err)

		var re *RoutingError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "start", re.StageID)
		assert.Equal(t, "zzz", re.Label)

		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "routing", execErr.Kind())
	})
}

func TestInvokeRouteErrorsAreRoutingErrors(t *testing.T) {
	tests := []struct {
		name  string
		route RouteFunc
	}{
		{"plain error", func(State) (string, error) { return "", errors.New("nope") }},
		{"routing error without stage", func(State) (string, error) { return "", &RoutingError{Label: "x", Reason: "bad"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def, err := NewBuilder("route-err").
				AddStage(stage("start")).
				AddConditionalEdges("start", tc.route, map[string]string{"x": End}).
				SetEntry("start").
				Build()
			require.NoError(t, err)

			_, err = NewExecutor(nil).Invoke(context.Background(), def, State{})
			var re *RoutingError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, "start", re.StageID)
			assert.True(t, errors.Is(err, ErrRouting))
		})
	}
}

func TestInvokeNilDefinition(t *testing.T) {
	_, err := NewExecutor(nil).Invoke(context.Background(), nil, State{})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

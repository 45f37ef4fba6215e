package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, in State) (State, error) { return State{}, nil }

func stage(id string, outputs ...string) Stage {
	return Stage{ID: id, Outputs: outputs, Handler: noop}
}

func TestBuildLinear(t *testing.T) {
	def, err := NewBuilder("linear").
		AddStage(stage("a", "x")).
		AddStage(stage("b", "y")).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "linear", def.Name())
	assert.Equal(t, "a", def.Entry())
	assert.Equal(t, []string{"a", "b"}, def.Stages())
	assert.Equal(t, []string{"a"}, def.Predecessors("b"))
	assert.Empty(t, def.Predecessors("a"))
	assert.Equal(t, []string{End}, def.Targets("b"))
	assert.False(t, def.Terminal("a"))
	assert.True(t, def.Terminal("b"))

	st, ok := def.Stage("a")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, st.Outputs)
	_, ok = def.Stage("missing")
	assert.False(t, ok)
}

func TestBuildJoinUnionsPredecessors(t *testing.T) {
	def, err := NewBuilder("join").
		AddStage(stage("root")).
		AddStage(stage("l", "left")).
		AddStage(stage("r", "right")).
		AddStage(stage("sink", "out")).
		AddEdge("root", "l").
		AddEdge("root", "r").
		AddEdge("l", "sink").
		AddEdge("r", "sink").
		SetEntry("root").
		Build()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l", "r"}, def.Predecessors("sink"))
}

func TestBuildRouteTargetsIsACopy(t *testing.T) {
	route := func(State) (string, error) { return "x", nil }
	def, err := NewBuilder("route").
		AddStage(stage("a")).
		AddStage(stage("b")).
		AddConditionalEdges("a", route, map[string]string{"x": "b", "done": End}).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	paths := def.RouteTargets("a")
	if diff := cmp.Diff(map[string]string{"x": "b", "done": End}, paths); diff != "" {
		t.Errorf("RouteTargets() mismatch (-want +got):\n%s", diff)
	}
	paths["x"] = "tampered"
	assert.Equal(t, "b", def.RouteTargets("a")["x"])
	assert.Nil(t, def.RouteTargets("b"))
	assert.False(t, def.Terminal("a"))
}

func TestBuildErrors(t *testing.T) {
	route := func(State) (string, error) { return "", nil }

	tests := []struct {
		name    string
		build   func() *Builder
		wantErr error
		msg     string
	}{
		{
			name:    "missing entry",
			build:   func() *Builder { return NewBuilder("g").AddStage(stage("a")) },
			wantErr: ErrInvalidGraph,
			msg:     "entry stage is required",
		},
		{
			name:    "undeclared entry",
			build:   func() *Builder { return NewBuilder("g").AddStage(stage("a")).SetEntry("b") },
			wantErr: ErrInvalidGraph,
			msg:     "entry stage b not found",
		},
		{
			name: "duplicate stage",
			build: func() *Builder {
				return NewBuilder("g").AddStage(stage("a")).AddStage(stage("a")).SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "duplicate stage id: a",
		},
		{
			name:    "reserved id",
			build:   func() *Builder { return NewBuilder("g").AddStage(stage(End)).SetEntry(End) },
			wantErr: ErrInvalidGraph,
			msg:     "is reserved",
		},
		{
			name: "missing handler",
			build: func() *Builder {
				return NewBuilder("g").AddStage(Stage{ID: "a"}).SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "stage a has no handler",
		},
		{
			name: "unknown edge target",
			build: func() *Builder {
				return NewBuilder("g").AddStage(stage("a")).AddEdge("a", "ghost").SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "non-existent target stage: ghost",
		},
		{
			name: "unknown edge source",
			build: func() *Builder {
				return NewBuilder("g").AddStage(stage("a")).AddEdge("ghost", "a").SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "non-existent source stage: ghost",
		},
		{
			name: "self edge",
			build: func() *Builder {
				return NewBuilder("g").AddStage(stage("a")).AddEdge("a", "a").SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "self-referential edge",
		},
		{
			name: "unknown label target",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddConditionalEdges("a", route, map[string]string{"x": "ghost"}).
					SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     `maps label "x" to non-existent stage: ghost`,
		},
		{
			name: "nil route",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddConditionalEdges("a", nil, map[string]string{"x": End}).
					SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "no routing function",
		},
		{
			name: "empty paths",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddConditionalEdges("a", route, nil).
					SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "empty path map",
		},
		{
			name: "two conditional edges",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddConditionalEdges("a", route, map[string]string{"x": End}).
					AddConditionalEdges("a", route, map[string]string{"y": End}).
					SetEntry("a")
			},
			wantErr: ErrInvalidGraph,
			msg:     "more than one conditional edge",
		},
		{
			name: "cycle",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddStage(stage("b")).
					AddStage(stage("c")).
					AddEdge("a", "b").
					AddEdge("b", "c").
					AddEdge("c", "b").
					SetEntry("a")
			},
			wantErr: ErrCycleFound,
			msg:     "b -> c -> b",
		},
		{
			name: "cycle through a routing label",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("a")).
					AddStage(stage("b")).
					AddEdge("a", "b").
					AddConditionalEdges("b", route, map[string]string{"again": "a", "done": End}).
					SetEntry("a")
			},
			wantErr: ErrCycleFound,
		},
		{
			name: "concurrent siblings write the same field",
			build: func() *Builder {
				return NewBuilder("g").
					AddStage(stage("root")).
					AddStage(stage("l", "shared")).
					AddStage(stage("r", "shared")).
					AddEdge("root", "l").
					AddEdge("root", "r").
					SetEntry("root")
			},
			wantErr: ErrInvalidGraph,
			msg:     `both write "shared"`,
		},
		{
			name: "join stalls when a branch is routed away",
			build: func() *Builder {
				pick := func(State) (string, error) { return "l", nil }
				return NewBuilder("g").
					AddStage(stage("root")).
					AddStage(stage("l", "left")).
					AddStage(stage("r", "right")).
					AddStage(stage("sink")).
					AddConditionalEdges("root", pick, map[string]string{"l": "l", "r": "r"}).
					AddJoin([]string{"l", "r"}, "sink").
					SetEntry("root")
			},
			wantErr: ErrInvalidGraph,
			msg:     "join sink can stall",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def, err := tc.build().Build()
			require.Error(t, err)
			assert.Nil(t, def)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			if tc.msg != "" {
				assert.ErrorContains(t, err, tc.msg)
			}
			var ge *GraphError
			assert.True(t, errors.As(err, &ge))
		})
	}
}

func TestBuildAllowsSameFieldOnExclusiveBranches(t *testing.T) {
	route := func(State) (string, error) { return "l", nil }
	_, err := NewBuilder("exclusive").
		AddStage(stage("root")).
		AddStage(stage("l", "shared")).
		AddStage(stage("r", "shared")).
		AddConditionalEdges("root", route, map[string]string{"l": "l", "r": "r"}).
		SetEntry("root").
		Build()
	assert.NoError(t, err)
}

func TestBuildAllowsSameFieldOnOrderedStages(t *testing.T) {
	_, err := NewBuilder("ordered").
		AddStage(stage("a", "x")).
		AddStage(stage("b", "x")).
		AddEdge("a", "b").
		SetEntry("a").
		Build()
	assert.NoError(t, err)
}

func TestBuildDoesNotAliasBuilderSlices(t *testing.T) {
	outputs := []string{"x"}
	b := NewBuilder("alias").AddStage(Stage{ID: "a", Outputs: outputs, Handler: noop}).SetEntry("a")
	def, err := b.Build()
	require.NoError(t, err)

	outputs[0] = "changed"
	st, _ := def.Stage("a")
	assert.Equal(t, []string{"x"}, st.Outputs)
}

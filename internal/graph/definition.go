package graph

import (
	"context"
)

// End is the reserved edge target marking termination of a branch.
const End = "__end__"

// HandlerFunc runs one stage. It receives only the stage's declared inputs and
// returns the fields it produced.
type HandlerFunc func(ctx context.Context, in State) (State, error)

// RouteFunc selects the label of the next stage from the current state. It
// must be pure.
type RouteFunc func(s State) (string, error)

// Stage is one pipeline step with declared input and output field sets.
type Stage struct {
	ID string
	// Kind is a free-form label ("agent", "tool") used by observers.
	Kind string
	// Inputs must be present in state before the stage runs.
	Inputs []string
	// Optional inputs are projected when present and skipped otherwise.
	Optional []string
	// Outputs are the only fields merged back from the handler's result.
	Outputs []string
	Handler HandlerFunc

	outputs map[string]struct{}
}

// Edge connects one or more source stages to a single target. An edge with
// several sources is a join.
type Edge struct {
	From []string
	To   string
}

// ConditionalEdge routes from a source stage to the target mapped from the
// label returned by Route.
type ConditionalEdge struct {
	From  string
	Route RouteFunc
	Paths map[string]string
}

// Definition is an immutable, validated graph. Build one with Builder.
type Definition struct {
	name        string
	entry       string
	order       []string
	stages      map[string]*Stage
	edges       []Edge
	conditional map[string]*ConditionalEdge
	preds       map[string][]string
	targets     map[string][]string
}

// Name returns the graph name.
func (d *Definition) Name() string { return d.name }

// Entry returns the entry stage id.
func (d *Definition) Entry() string { return d.entry }

// Stages returns stage ids in declaration order.
func (d *Definition) Stages() []string {
	return append([]string(nil), d.order...)
}

// Stage returns a copy of the stage declaration.
func (d *Definition) Stage(id string) (Stage, bool) {
	st, ok := d.stages[id]
	if !ok {
		return Stage{}, false
	}
	return *st, true
}

// Predecessors returns the static predecessors a stage waits for.
func (d *Definition) Predecessors(id string) []string {
	return append([]string(nil), d.preds[id]...)
}

// Targets returns the static edge targets of a stage, End included.
func (d *Definition) Targets(id string) []string {
	return append([]string(nil), d.targets[id]...)
}

// RouteTargets returns the label to target map of the stage's conditional
// edge, or nil if the stage has none.
func (d *Definition) RouteTargets(id string) map[string]string {
	ce, ok := d.conditional[id]
	if !ok {
		return nil
	}
	cp := make(map[string]string, len(ce.Paths))
	for k, v := range ce.Paths {
		cp[k] = v
	}
	return cp
}

// Terminal reports whether a stage has no successors other than End.
func (d *Definition) Terminal(id string) bool {
	if _, ok := d.conditional[id]; ok {
		return false
	}
	for _, t := range d.targets[id] {
		if t != End {
			return false
		}
	}
	return true
}

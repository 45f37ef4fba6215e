package graph

import (
	"fmt"
	"sort"
	"strings"
)

// maxRouteScenarios bounds the routing combinations Build enumerates.
const maxRouteScenarios = 1024

// Builder collects stages and edges and produces a validated Definition.
type Builder struct {
	name        string
	entry       string
	stages      []Stage
	edges       []Edge
	conditional []ConditionalEdge
}

// NewBuilder creates an empty builder for a graph called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddStage declares a stage.
func (b *Builder) AddStage(st Stage) *Builder {
	b.stages = append(b.stages, st)
	return b
}

// AddEdge adds a static edge from one stage to another (or End).
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: []string{from}, To: to})
	return b
}

// AddJoin adds a static edge from every stage in from to a single target.
// The target runs once, after all of them completed.
func (b *Builder) AddJoin(from []string, to string) *Builder {
	b.edges = append(b.edges, Edge{From: append([]string(nil), from...), To: to})
	return b
}

// AddConditionalEdges routes from a stage through route and paths.
func (b *Builder) AddConditionalEdges(from string, route RouteFunc, paths map[string]string) *Builder {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	b.conditional = append(b.conditional, ConditionalEdge{From: from, Route: route, Paths: cp})
	return b
}

// SetEntry sets the entry stage.
func (b *Builder) SetEntry(id string) *Builder {
	b.entry = id
	return b
}

// Build validates the collected declarations and returns the Definition.
func (b *Builder) Build() (*Definition, error) {
	d := &Definition{
		name:        b.name,
		entry:       b.entry,
		stages:      make(map[string]*Stage, len(b.stages)),
		conditional: make(map[string]*ConditionalEdge),
		preds:       make(map[string][]string),
		targets:     make(map[string][]string),
	}

	for i := range b.stages {
		st := b.stages[i]
		if st.ID == "" {
			return nil, invalidf("stage #%d has no id", i)
		}
		if st.ID == End {
			return nil, invalidf("stage id %s is reserved", End)
		}
		if _, dup := d.stages[st.ID]; dup {
			return nil, invalidf("duplicate stage id: %s", st.ID)
		}
		if st.Handler == nil {
			return nil, invalidf("stage %s has no handler", st.ID)
		}
		st.Inputs = append([]string(nil), st.Inputs...)
		st.Optional = append([]string(nil), st.Optional...)
		st.Outputs = append([]string(nil), st.Outputs...)
		st.outputs = make(map[string]struct{}, len(st.Outputs))
		for _, f := range st.Outputs {
			st.outputs[f] = struct{}{}
		}
		d.stages[st.ID] = &st
		d.order = append(d.order, st.ID)
	}

	if d.entry == "" {
		return nil, invalidf("entry stage is required")
	}
	if _, ok := d.stages[d.entry]; !ok {
		return nil, invalidf("entry stage %s not found in graph", d.entry)
	}

	for _, e := range b.edges {
		if len(e.From) == 0 {
			return nil, invalidf("edge to %s has no source", e.To)
		}
		if e.To != End {
			if _, ok := d.stages[e.To]; !ok {
				return nil, invalidf("edge references non-existent target stage: %s", e.To)
			}
		}
		for _, from := range e.From {
			if _, ok := d.stages[from]; !ok {
				return nil, invalidf("edge references non-existent source stage: %s", from)
			}
			if from == e.To {
				return nil, invalidf("self-referential edge not allowed: %s -> %s", from, from)
			}
			d.targets[from] = appendUnique(d.targets[from], e.To)
			if e.To != End {
				d.preds[e.To] = appendUnique(d.preds[e.To], from)
			}
		}
		d.edges = append(d.edges, Edge{From: append([]string(nil), e.From...), To: e.To})
	}

	for i := range b.conditional {
		ce := b.conditional[i]
		if _, ok := d.stages[ce.From]; !ok {
			return nil, invalidf("conditional edge references non-existent source stage: %s", ce.From)
		}
		if ce.Route == nil {
			return nil, invalidf("conditional edge from %s has no routing function", ce.From)
		}
		if len(ce.Paths) == 0 {
			return nil, invalidf("conditional edge from %s has an empty path map", ce.From)
		}
		if _, dup := d.conditional[ce.From]; dup {
			return nil, invalidf("stage %s has more than one conditional edge", ce.From)
		}
		for label, target := range ce.Paths {
			if target == ce.From {
				return nil, invalidf("self-referential edge not allowed: %s -> %s", target, target)
			}
			if target == End {
				continue
			}
			if _, ok := d.stages[target]; !ok {
				return nil, invalidf("conditional edge from %s maps label %q to non-existent stage: %s", ce.From, label, target)
			}
		}
		d.conditional[ce.From] = &ce
	}

	if err := d.detectCycles(); err != nil {
		return nil, err
	}
	if err := d.checkScenarios(); err != nil {
		return nil, err
	}

	return d, nil
}

// successors returns every stage a stage can lead to, in a stable order.
func (d *Definition) successors(id string) []string {
	var out []string
	for _, t := range d.targets[id] {
		if t != End {
			out = appendUnique(out, t)
		}
	}
	if ce, ok := d.conditional[id]; ok {
		for _, label := range sortedLabels(ce.Paths) {
			if t := ce.Paths[label]; t != End {
				out = appendUnique(out, t)
			}
		}
	}
	return out
}

// detectCycles runs a depth-first search with temporary and permanent marks.
func (d *Definition) detectCycles() error {
	permanent := make(map[string]bool, len(d.order))
	temporary := make(map[string]bool)
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			return cycleError(append(append([]string(nil), path[start:]...), id))
		}
		temporary[id] = true
		path = append(path, id)
		for _, next := range d.successors(id) {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range d.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// checkScenarios enumerates every combination of routing labels and checks
// the static sub-graph active under each one.
func (d *Definition) checkScenarios() error {
	var sources []string
	for _, id := range d.order {
		if _, ok := d.conditional[id]; ok {
			sources = append(sources, id)
		}
	}

	labels := make([][]string, len(sources))
	total := 1
	for i, src := range sources {
		labels[i] = sortedLabels(d.conditional[src].Paths)
		total *= len(labels[i])
		if total > maxRouteScenarios {
			return invalidf("too many routing combinations to validate (more than %d)", maxRouteScenarios)
		}
	}

	choice := make(map[string]string, len(sources))
	var walk func(i int) error
	walk = func(i int) error {
		if i == len(sources) {
			return d.checkScenario(choice)
		}
		for _, label := range labels[i] {
			choice[sources[i]] = label
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0)
}

// checkScenario simulates dispatch for one routing choice. It rejects joins
// that would wait forever and stages that may run concurrently while writing
// the same field.
func (d *Definition) checkScenario(choice map[string]string) error {
	completed := make(map[string]bool)
	dispatched := map[string]bool{d.entry: true}
	queue := []string{d.entry}
	var active []string
	follows := make(map[string][]string)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		completed[id] = true
		active = append(active, id)

		var next []string
		for _, t := range d.targets[id] {
			if t != End {
				next = append(next, t)
			}
		}
		if ce, ok := d.conditional[id]; ok {
			if t := ce.Paths[choice[id]]; t != End {
				next = appendUnique(next, t)
			}
		}
		follows[id] = next

		for _, t := range next {
			if dispatched[t] || !allCompleted(d.preds[t], completed) {
				continue
			}
			dispatched[t] = true
			queue = append(queue, t)
		}
	}

	for _, id := range d.order {
		preds := d.preds[id]
		if dispatched[id] || len(preds) == 0 {
			continue
		}
		var missing []string
		for _, p := range preds {
			if !completed[p] {
				missing = append(missing, p)
			}
		}
		if len(missing) < len(preds) {
			return invalidf("join %s can stall waiting for %s (%s)", id, strings.Join(missing, ", "), describeChoice(choice))
		}
	}

	reach := make(map[string]map[string]bool, len(active))
	var descend func(from, id string)
	descend = func(from, id string) {
		for _, next := range follows[id] {
			if reach[from][next] {
				continue
			}
			reach[from][next] = true
			descend(from, next)
		}
	}
	for _, id := range active {
		reach[id] = make(map[string]bool)
		descend(id, id)
	}

	for i, a := range active {
		for _, b := range active[i+1:] {
			if reach[a][b] || reach[b][a] {
				continue
			}
			if field, ok := sharedOutput(d.stages[a], d.stages[b]); ok {
				return invalidf("stages %s and %s can run concurrently but both write %q (%s)", a, b, field, describeChoice(choice))
			}
		}
	}
	return nil
}

func sharedOutput(a, b *Stage) (string, bool) {
	for _, f := range a.Outputs {
		if _, ok := b.outputs[f]; ok {
			return f, true
		}
	}
	return "", false
}

func allCompleted(ids []string, completed map[string]bool) bool {
	for _, id := range ids {
		if !completed[id] {
			return false
		}
	}
	return true
}

func describeChoice(choice map[string]string) string {
	if len(choice) == 0 {
		return "no routing"
	}
	parts := make([]string, 0, len(choice))
	for src, label := range choice {
		parts = append(parts, fmt.Sprintf("%s=%s", src, label))
	}
	sort.Strings(parts)
	return "routes " + strings.Join(parts, ", ")
}

func sortedLabels(paths map[string]string) []string {
	labels := make([]string, 0, len(paths))
	for l := range paths {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

package graph

import (
	"fmt"
	"sort"
)

// State is the field-name to value record threaded through one invocation.
// Stages only ever see a projection of it.
type State map[string]any

// Clone returns a shallow copy of s. Values are shared.
func (s State) Clone() State {
	cp := make(State, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Has reports whether field is set.
func (s State) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// String returns field as a string, or "" if it is unset or not a string.
func (s State) String(field string) string {
	v, _ := s[field].(string)
	return v
}

// Bool returns field as a bool, or false if it is unset or not a bool.
func (s State) Bool(field string) bool {
	v, _ := s[field].(bool)
	return v
}

// Fields returns the sorted field names present in s.
func (s State) Fields() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Value decodes field into T. The second result is false when the field is
// unset; a present field of the wrong type is an error.
func Value[T any](s State, field string) (T, bool, error) {
	var zero T
	raw, ok := s[field]
	if !ok || raw == nil {
		return zero, false, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, true, fmt.Errorf("field %q has type %T, want %T", field, raw, zero)
	}
	return v, true, nil
}

// project copies the stage's declared inputs out of s.
func project(st *Stage, s State) (State, error) {
	view := make(State, len(st.Inputs)+len(st.Optional))
	for _, f := range st.Inputs {
		v, ok := s[f]
		if !ok {
			return nil, &SchemaError{StageID: st.ID, Field: f}
		}
		view[f] = v
	}
	for _, f := range st.Optional {
		if v, ok := s[f]; ok {
			view[f] = v
		}
	}
	return view, nil
}

// merge writes the stage's declared outputs from out into s and returns the
// names of returned fields that were dropped because they were not declared.
func merge(st *Stage, s, out State) (ignored []string) {
	for k, v := range out {
		if _, ok := st.outputs[k]; !ok {
			ignored = append(ignored, k)
			continue
		}
		s[k] = v
	}
	sort.Strings(ignored)
	return ignored
}

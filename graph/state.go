//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
)

// State represents the state that flows through the graph.
// This is the shared data structure threaded between nodes.
type State map[string]any

// Clone creates a shallow copy of the state. Channel values themselves are
// never mutated in place, only replaced by reducer application, so a shallow
// copy is sufficient.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// StateReducer is a pure function that merges an update into the existing
// value of a state channel. Reducers must not mutate their inputs and must
// not panic for well-typed input; malformed updates are dropped with a
// logged warning.
type StateReducer func(existing, update any) any

// StateField defines a channel in the state schema: its type, reducer, and
// default value.
type StateField struct {
	Type     reflect.Type
	Reducer  StateReducer
	Default  func() any
	Required bool
}

// StateSchema defines the named channels of graph state and how partial
// updates merge into them.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates a new state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{
		Fields: make(map[string]StateField),
	}
}

// AddField adds a field to the state schema. A nil reducer defaults to
// replace semantics.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}
	s.Fields[name] = field
	return s
}

// Field returns the schema field for a channel name.
func (s *StateSchema) Field(name string) (StateField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	field, ok := s.Fields[name]
	return field, ok
}

// InitialState builds a state populated with every channel's default value.
func (s *StateSchema) InitialState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(State, len(s.Fields))
	for name, field := range s.Fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// ApplyUpdate applies a partial state update using the declared reducers.
// For every key present in the update the channel's reducer combines the
// current and incoming values; absent keys are untouched. Updates whose
// value does not match the declared channel type are dropped with a warning
// rather than aborting the run.
func (s *StateSchema) ApplyUpdate(currentState State, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := currentState.Clone()
	for key, updateValue := range update {
		field, exists := s.Fields[key]
		if !exists {
			// No channel declaration: replace.
			result[key] = updateValue
			continue
		}
		if field.Type != nil && updateValue != nil {
			if vt := reflect.TypeOf(updateValue); !vt.AssignableTo(field.Type) {
				log.Warnf("state channel %s: dropping update of type %v, want %v", key, vt, field.Type)
				continue
			}
		}
		currentValue, hasCurrentValue := result[key]
		if !hasCurrentValue && field.Default != nil {
			currentValue = field.Default()
		}
		result[key] = field.Reducer(currentValue, updateValue)
	}
	return result
}

// Validate validates a state against the schema.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		value, exists := state[name]
		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}
		if exists && value != nil && field.Type != nil {
			valueType := reflect.TypeOf(value)
			if !valueType.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v",
					name, field.Type, valueType)
			}
		}
	}
	return nil
}

// Common reducer functions.

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// AppendReducer appends the update slice to the existing slice.
func AppendReducer(existing, update any) any {
	if existing == nil {
		existing = []any{}
	}
	existingSlice, ok1 := existing.([]any)
	updateSlice, ok2 := update.([]any)
	if !ok1 || !ok2 {
		log.Warnf("append reducer: dropping non-slice update of type %T", update)
		return existing
	}
	merged := make([]any, 0, len(existingSlice)+len(updateSlice))
	merged = append(merged, existingSlice...)
	return append(merged, updateSlice...)
}

// MergeReducer shallow-merges the update map into the existing map. New keys
// overwrite old ones; untouched keys survive.
func MergeReducer(existing, update any) any {
	if existing == nil {
		existing = make(map[string]any)
	}
	existingMap, ok1 := existing.(map[string]any)
	updateMap, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		log.Warnf("merge reducer: dropping non-map update of type %T", update)
		return existing
	}
	result := make(map[string]any, len(existingMap)+len(updateMap))
	for k, v := range existingMap {
		result[k] = v
	}
	for k, v := range updateMap {
		result[k] = v
	}
	return result
}

// LastValueReducer replaces each updated key independently, like a set of
// per-key last-value channels. It differs from MergeReducer only in intent:
// values are opaque and never deep merged.
func LastValueReducer(existing, update any) any {
	return MergeReducer(existing, update)
}

// MessageReducer merges message slices. Incoming messages that carry an ID
// matching an existing message replace it in place; all other messages are
// appended. For disjoint ID sets the merge is order-independent.
func MessageReducer(existing, update any) any {
	if existing == nil {
		existing = []model.Message{}
	}
	existingMsgs, ok1 := existing.([]model.Message)
	updateMsgs, ok2 := update.([]model.Message)
	if !ok1 || !ok2 {
		log.Warnf("message reducer: dropping update of type %T", update)
		return existing
	}
	result := make([]model.Message, len(existingMsgs), len(existingMsgs)+len(updateMsgs))
	copy(result, existingMsgs)
	index := make(map[string]int, len(result))
	for i, msg := range result {
		if msg.ID != "" {
			index[msg.ID] = i
		}
	}
	for _, msg := range updateMsgs {
		if msg.ID != "" {
			if i, ok := index[msg.ID]; ok {
				result[i] = msg
				continue
			}
			index[msg.ID] = len(result)
		}
		result = append(result, msg)
	}
	return result
}

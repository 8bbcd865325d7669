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
	"context"
	"errors"
	"fmt"
	"time"
)

// InterruptError represents an interrupt in graph execution that can be
// resumed. Raising it from a node suspends the run at that node; the
// checkpointed state is the only persisted record while awaiting input.
type InterruptError struct {
	// Value is the payload surfaced to the caller (e.g. an approval prompt).
	Value any
	// Update is an optional partial state update applied through the schema
	// reducers before the suspension checkpoint is taken. This is how a node
	// persists pending work (e.g. proposed tool calls) across the suspension.
	Update State
	// NodeID is the ID of the node where the interrupt occurred.
	NodeID string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (g *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", g.NodeID, g.Step, g.Value)
}

// NewInterruptError creates a new InterruptError with the given value.
func NewInterruptError(value any) *InterruptError {
	return &InterruptError{
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// WithUpdate attaches a partial state update to the interrupt.
func (g *InterruptError) WithUpdate(update State) *InterruptError {
	g.Update = update
	return g
}

// IsInterruptError checks whether an error is an InterruptError.
func IsInterruptError(err error) bool {
	var interrupt *InterruptError
	return errors.As(err, &interrupt)
}

// AsInterruptError extracts an InterruptError from an error.
func AsInterruptError(err error) (*InterruptError, bool) {
	var interrupt *InterruptError
	if errors.As(err, &interrupt) {
		return interrupt, true
	}
	return nil, false
}

// ResumeCommand carries values to resume an interrupted graph execution.
type ResumeCommand struct {
	// Resume is a single resume value delivered to the next Interrupt call.
	Resume any
	// ResumeMap maps interrupt keys to resume values.
	ResumeMap map[string]any
}

// NewResumeCommand creates a new resume command.
func NewResumeCommand() *ResumeCommand {
	return &ResumeCommand{ResumeMap: make(map[string]any)}
}

// WithResume sets the resume value.
func (c *ResumeCommand) WithResume(value any) *ResumeCommand {
	c.Resume = value
	return c
}

// AddResumeValue adds a resume value for a specific interrupt key.
func (c *ResumeCommand) AddResumeValue(key string, value any) *ResumeCommand {
	if c.ResumeMap == nil {
		c.ResumeMap = make(map[string]any)
	}
	c.ResumeMap[key] = value
	return c
}

// Interrupt suspends execution at the current node with the given prompt
// value. On resume it returns the resume value that was provided. A node
// that re-executes after consuming its resume value sees the same value
// again, keeping node functions idempotent across replay.
func Interrupt(ctx context.Context, state State, key string, prompt any) (any, error) {
	usedMap, _ := state[StateKeyUsedInterrupts].(map[string]any)
	if usedMap == nil {
		usedMap = make(map[string]any)
		state[StateKeyUsedInterrupts] = usedMap
	}
	if usedValue, exists := usedMap[key]; exists {
		return usedValue, nil
	}
	if resumeValue, exists := state[StateKeyResume]; exists {
		usedMap[key] = resumeValue
		delete(state, StateKeyResume)
		return resumeValue, nil
	}
	if resumeMap, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if resumeValue, exists := resumeMap[key]; exists {
			usedMap[key] = resumeValue
			delete(resumeMap, key)
			return resumeValue, nil
		}
	}
	return nil, NewInterruptError(prompt)
}

// ResumeValue extracts a resume value from the state with type safety.
func ResumeValue[T any](state State, key string) (T, bool) {
	var zero T
	if resumeValue, exists := state[StateKeyResume]; exists {
		if typedValue, ok := resumeValue.(T); ok {
			delete(state, StateKeyResume)
			return typedValue, true
		}
	}
	if resumeMap, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if resumeValue, exists := resumeMap[key]; exists {
			if typedValue, ok := resumeValue.(T); ok {
				delete(resumeMap, key)
				return typedValue, true
			}
		}
	}
	return zero, false
}

// ClearResumeValues removes all resume values from the state.
func ClearResumeValues(state State) {
	delete(state, StateKeyResume)
	delete(state, StateKeyResumeMap)
	delete(state, StateKeyUsedInterrupts)
}

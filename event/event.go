//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package event provides the event system for flow execution.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentflow-go/agentflow/model"
)

// Event represents an event emitted during flow execution.
type Event struct {
	// Response is the base struct for all LLM response payloads.
	*model.Response

	// InvocationID is the invocation ID of the event.
	InvocationID string `json:"invocationId"`

	// Author is the author of the event (node ID or executor).
	Author string `json:"author"`

	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`

	// StateDelta contains state changes carried by this event.
	StateDelta map[string][]byte `json:"stateDelta,omitempty"`
}

// Clone creates a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	if e.StateDelta != nil {
		clone.StateDelta = make(map[string][]byte, len(e.StateDelta))
		for k, v := range e.StateDelta {
			clone.StateDelta[k] = append([]byte(nil), v...)
		}
	}
	return &clone
}

// Option configures an Event.
type Option func(*Event)

// WithResponse sets the response for the event.
func WithResponse(response *model.Response) Option {
	return func(e *Event) {
		e.Response = response
	}
}

// WithObject sets the object type for the event.
func WithObject(o string) Option {
	return func(e *Event) {
		e.Object = o
	}
}

// WithStateDelta sets the state delta for the event.
func WithStateDelta(stateDelta map[string][]byte) Option {
	return func(e *Event) {
		e.StateDelta = stateDelta
	}
}

// New creates a new Event with a generated ID and timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates a new error Event with the specified error details.
func NewErrorEvent(invocationID, author, errorType, errorMessage string) *Event {
	return &Event{
		Response: &model.Response{
			Object: model.ObjectTypeError,
			Done:   true,
			Error: &model.ResponseError{
				Type:    errorType,
				Message: errorMessage,
			},
		},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
}

// NewResponseEvent creates an event wrapping a model response.
func NewResponseEvent(invocationID, author string, response *model.Response) *Event {
	return New(invocationID, author, WithResponse(response))
}

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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current version of the checkpoint format.
const CheckpointVersion = 1

// DefaultCheckpointNamespace is the default namespace for checkpoints.
const DefaultCheckpointNamespace = ""

// Checkpoint represents a snapshot of graph state at a specific point in
// time. A lineage (one conversation thread) accumulates checkpoints as the
// graph advances; the latest one is authoritative for resuming.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// State holds the live channel values. Not serialized directly;
	// see EncodeState/DecodeState.
	State State `json:"-"`
	// RawState holds the serialized channel values after loading from a
	// persistent saver. Hydrated back into State via StateSchema.DecodeState.
	RawState map[string]json.RawMessage `json:"state,omitempty"`
	// NextNode is the node to execute when resuming. Empty means the run
	// completed.
	NextNode string `json:"next_node,omitempty"`
	// Step is the step number at checkpoint time.
	Step int `json:"step"`
	// ParentCheckpointID is the ID of the parent checkpoint.
	ParentCheckpointID string `json:"parent_checkpoint_id,omitempty"`
	// InterruptState describes the pending interrupt, if any.
	InterruptState *InterruptState `json:"interrupt_state,omitempty"`
}

// InterruptState represents the state of an interrupted execution.
type InterruptState struct {
	// NodeID is the ID of the node where execution was interrupted.
	NodeID string `json:"node_id"`
	// InterruptValue is the payload the interrupt surfaced.
	InterruptValue any `json:"interrupt_value"`
	// Step is the step number when the interrupt occurred.
	Step int `json:"step"`
}

// CheckpointMetadata contains metadata about a checkpoint.
type CheckpointMetadata struct {
	// Source indicates how the checkpoint was created: input, loop, interrupt.
	Source string `json:"source"`
	// Step is the step number (-1 for input, 0+ for loop steps).
	Step int `json:"step"`
	// Extra holds additional metadata fields.
	Extra map[string]any `json:"extra,omitempty"`
}

// CheckpointTuple pairs a checkpoint with its lineage and metadata.
type CheckpointTuple struct {
	LineageID  string              `json:"lineage_id"`
	Namespace  string              `json:"namespace"`
	Checkpoint *Checkpoint         `json:"checkpoint"`
	Metadata   *CheckpointMetadata `json:"metadata"`
}

// NewCheckpoint creates a checkpoint for the given state snapshot.
func NewCheckpoint(state State, nextNode string, step int) *Checkpoint {
	return &Checkpoint{
		Version:   CheckpointVersion,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Step:      step,
	}
}

// EncodeState serializes the checkpoint's channel values for persistent
// storage. Internal double-underscore keys are skipped; values that cannot
// be marshaled are skipped with an error only if a declared channel fails.
func (c *Checkpoint) EncodeState() error {
	if c.State == nil {
		return nil
	}
	raw := make(map[string]json.RawMessage, len(c.State))
	for key, value := range c.State {
		if strings.HasPrefix(key, "__") {
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode state channel %s: %w", key, err)
		}
		raw[key] = data
	}
	c.RawState = raw
	return nil
}

// DecodeState hydrates serialized channel values back into typed Go values
// using the schema's declared channel types. Undeclared channels decode into
// generic JSON values.
func (s *StateSchema) DecodeState(raw map[string]json.RawMessage) (State, error) {
	state := make(State, len(raw))
	for key, data := range raw {
		if field, ok := s.Field(key); ok && field.Type != nil {
			value := reflect.New(field.Type)
			if err := json.Unmarshal(data, value.Interface()); err != nil {
				return nil, fmt.Errorf("decode state channel %s: %w", key, err)
			}
			state[key] = value.Elem().Interface()
			continue
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("decode state channel %s: %w", key, err)
		}
		state[key] = value
	}
	return state, nil
}

// CheckpointFilter defines criteria for listing checkpoints.
type CheckpointFilter struct {
	// Limit is the maximum number of checkpoints to return (0 = no limit).
	Limit int
}

// CheckpointSaver persists and retrieves checkpoints keyed by lineage ID
// (the conversation thread). Implementations live under graph/checkpoint.
type CheckpointSaver interface {
	// Get retrieves a checkpoint by lineage and checkpoint ID.
	// An empty checkpoint ID retrieves the latest checkpoint.
	Get(ctx context.Context, lineageID, checkpointID string) (*CheckpointTuple, error)
	// Put stores a checkpoint for a lineage.
	Put(ctx context.Context, lineageID string, checkpoint *Checkpoint, metadata *CheckpointMetadata) error
	// List retrieves checkpoints for a lineage, newest first.
	List(ctx context.Context, lineageID string, filter *CheckpointFilter) ([]*CheckpointTuple, error)
	// DeleteLineage removes all checkpoints for a lineage.
	DeleteLineage(ctx context.Context, lineageID string) error
	// Close releases resources held by the saver.
	Close() error
}

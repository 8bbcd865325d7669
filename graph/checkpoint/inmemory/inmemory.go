//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage for graph
// execution state. Suitable for tests and single-process deployments.
package inmemory

import (
	"context"
	"sync"

	"github.com/agentflow-go/agentflow/graph"
)

// DefaultMaxCheckpointsPerLineage bounds stored history per lineage.
const DefaultMaxCheckpointsPerLineage = 100

// Saver is an in-memory implementation of graph.CheckpointSaver.
type Saver struct {
	mu sync.RWMutex
	// lineageID -> checkpoints in insertion order (oldest first).
	storage map[string][]*graph.CheckpointTuple
	max     int
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		storage: make(map[string][]*graph.CheckpointTuple),
		max:     DefaultMaxCheckpointsPerLineage,
	}
}

// WithMaxCheckpointsPerLineage sets the maximum number of checkpoints kept
// per lineage.
func (s *Saver) WithMaxCheckpointsPerLineage(max int) *Saver {
	s.max = max
	return s
}

// Get retrieves a checkpoint by lineage and checkpoint ID. An empty
// checkpoint ID retrieves the latest.
func (s *Saver) Get(ctx context.Context, lineageID, checkpointID string) (*graph.CheckpointTuple, error) {
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tuples := s.storage[lineageID]
	if len(tuples) == 0 {
		return nil, nil
	}
	if checkpointID == "" {
		return tuples[len(tuples)-1], nil
	}
	for i := len(tuples) - 1; i >= 0; i-- {
		if tuples[i].Checkpoint.ID == checkpointID {
			return tuples[i], nil
		}
	}
	return nil, graph.ErrCheckpointNotFound
}

// Put stores a checkpoint for a lineage.
func (s *Saver) Put(ctx context.Context, lineageID string, checkpoint *graph.Checkpoint, metadata *graph.CheckpointMetadata) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tuples := append(s.storage[lineageID], &graph.CheckpointTuple{
		LineageID:  lineageID,
		Namespace:  graph.DefaultCheckpointNamespace,
		Checkpoint: checkpoint,
		Metadata:   metadata,
	})
	if len(tuples) > s.max {
		tuples = tuples[len(tuples)-s.max:]
	}
	s.storage[lineageID] = tuples
	return nil
}

// List retrieves checkpoints for a lineage, newest first.
func (s *Saver) List(ctx context.Context, lineageID string, filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tuples := s.storage[lineageID]
	result := make([]*graph.CheckpointTuple, 0, len(tuples))
	for i := len(tuples) - 1; i >= 0; i-- {
		result = append(result, tuples[i])
		if filter != nil && filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// DeleteLineage removes all checkpoints for a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, lineageID)
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = make(map[string][]*graph.CheckpointTuple)
	return nil
}

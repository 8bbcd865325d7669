//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-backed checkpoint storage for graph
// execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentflow-go/agentflow/graph"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"lineage_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"PRIMARY KEY (lineage_id, checkpoint_ns, checkpoint_id)" +
		")"

	insertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"lineage_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, " +
		"checkpoint_json, metadata_json) VALUES (?, ?, ?, ?, ?, ?, ?)"

	selectLatest = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE lineage_id = ? AND checkpoint_ns = ? ORDER BY ts DESC, checkpoint_id DESC LIMIT 1"

	selectByID = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE lineage_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	selectAllDesc = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE lineage_id = ? AND checkpoint_ns = ? ORDER BY ts DESC, checkpoint_id DESC"

	deleteLineage = "DELETE FROM checkpoints WHERE lineage_id = ?"
)

// Saver is a SQLite-backed implementation of graph.CheckpointSaver. It
// expects an initialized *sql.DB using a SQLite driver and stores each
// checkpoint and its metadata as JSON blobs. Channel values are serialized
// through Checkpoint.EncodeState, so resumed runs hydrate typed state via
// the graph's schema.
type Saver struct {
	db *sql.DB
}

// NewSaver creates a new saver using the provided DB and creates the
// required schema if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Get retrieves a checkpoint by lineage and checkpoint ID. An empty
// checkpoint ID retrieves the latest.
func (s *Saver) Get(ctx context.Context, lineageID, checkpointID string) (*graph.CheckpointTuple, error) {
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, selectLatest, lineageID, graph.DefaultCheckpointNamespace)
	} else {
		row = s.db.QueryRowContext(ctx, selectByID, lineageID, graph.DefaultCheckpointNamespace, checkpointID)
	}
	tuple, err := scanTuple(row.Scan, lineageID)
	if errors.Is(err, sql.ErrNoRows) {
		if checkpointID == "" {
			return nil, nil
		}
		return nil, graph.ErrCheckpointNotFound
	}
	return tuple, err
}

// Put stores a checkpoint for a lineage.
func (s *Saver) Put(ctx context.Context, lineageID string, checkpoint *graph.Checkpoint, metadata *graph.CheckpointMetadata) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	if checkpoint == nil {
		return errors.New("checkpoint is nil")
	}
	if err := checkpoint.EncodeState(); err != nil {
		return err
	}
	checkpointJSON, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertCheckpoint,
		lineageID, graph.DefaultCheckpointNamespace, checkpoint.ID,
		checkpoint.ParentCheckpointID, checkpoint.Timestamp.UnixNano(),
		checkpointJSON, metadataJSON)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// List retrieves checkpoints for a lineage, newest first.
func (s *Saver) List(ctx context.Context, lineageID string, filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	rows, err := s.db.QueryContext(ctx, selectAllDesc, lineageID, graph.DefaultCheckpointNamespace)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()
	var result []*graph.CheckpointTuple
	for rows.Next() {
		tuple, err := scanTuple(rows.Scan, lineageID)
		if err != nil {
			return nil, err
		}
		result = append(result, tuple)
		if filter != nil && filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, rows.Err()
}

// DeleteLineage removes all checkpoints for a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	if _, err := s.db.ExecContext(ctx, deleteLineage, lineageID); err != nil {
		return fmt.Errorf("delete lineage: %w", err)
	}
	return nil
}

// Close releases resources held by the saver. The caller owns the DB handle.
func (s *Saver) Close() error {
	return nil
}

func scanTuple(scan func(...any) error, lineageID string) (*graph.CheckpointTuple, error) {
	var checkpointJSON, metadataJSON []byte
	if err := scan(&checkpointJSON, &metadataJSON); err != nil {
		return nil, err
	}
	var checkpoint graph.Checkpoint
	if err := json.Unmarshal(checkpointJSON, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var metadata graph.CheckpointMetadata
	if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &graph.CheckpointTuple{
		LineageID:  lineageID,
		Namespace:  graph.DefaultCheckpointNamespace,
		Checkpoint: &checkpoint,
		Metadata:   &metadata,
	}, nil
}

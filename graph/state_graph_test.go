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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow-go/agentflow/event"
)

func counterSchema() *StateSchema {
	return NewStateSchema().AddField("counter", StateField{
		Type:    reflect.TypeOf(0),
		Default: func() any { return 0 },
	})
}

func increment(ctx context.Context, state State) (any, error) {
	counter, _ := state["counter"].(int)
	return State{"counter": counter + 1}, nil
}

func TestStateGraphCompile(t *testing.T) {
	graph, err := NewStateGraph(counterSchema()).
		AddNode("increment", increment).
		SetEntryPoint("increment").
		SetFinishPoint("increment").
		Compile()
	require.NoError(t, err)
	assert.Equal(t, "increment", graph.EntryPoint())
}

func TestStateGraphCompileWithoutEntryPoint(t *testing.T) {
	_, err := NewStateGraph(counterSchema()).
		AddNode("increment", increment).
		Compile()
	assert.Error(t, err)
}

func TestStateGraphRejectsUnknownEdgeTarget(t *testing.T) {
	_, err := NewStateGraph(counterSchema()).
		AddNode("increment", increment).
		SetEntryPoint("increment").
		AddEdge("increment", "missing").
		Compile()
	assert.Error(t, err)
}

func TestStateGraphRejectsDuplicateNode(t *testing.T) {
	_, err := NewStateGraph(counterSchema()).
		AddNode("increment", increment).
		AddNode("increment", increment).
		SetEntryPoint("increment").
		Compile()
	assert.Error(t, err)
}

func TestStateGraphConditionalRouting(t *testing.T) {
	graph, err := NewStateGraph(counterSchema()).
		AddNode("increment", increment).
		AddNode("done", func(ctx context.Context, state State) (any, error) {
			return nil, nil
		}).
		SetEntryPoint("increment").
		AddConditionalEdges("increment", func(ctx context.Context, state State) (string, error) {
			counter, _ := state["counter"].(int)
			if counter < 3 {
				return "again", nil
			}
			return "finish", nil
		}, map[string]string{
			"again":  "increment",
			"finish": "done",
		}).
		SetFinishPoint("done").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(graph)
	require.NoError(t, err)
	final := runToCompletion(t, executor, nil, &Invocation{})
	assert.NotNil(t, final)
}

// runToCompletion drains an execution and fails the test on error events.
func runToCompletion(t *testing.T, executor *Executor, initial State, invocation *Invocation) *event.Event {
	t.Helper()
	events, err := executor.Execute(context.Background(), initial, invocation)
	require.NoError(t, err)
	var last *event.Event
	for evt := range events {
		if evt.Response != nil && evt.Response.Error != nil {
			t.Fatalf("execution failed: %s", evt.Response.Error.Message)
		}
		last = evt
	}
	return last
}

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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow-go/agentflow/event"
	"github.com/agentflow-go/agentflow/model"
)

// lifecycleSink records the run lifecycle notifications the executor sends.
type lifecycleSink struct {
	event.NoopSink
	mu         sync.Mutex
	nextAgents []string
	aborts     int
	ends       int
}

func (s *lifecycleSink) StreamNextAgent(chatID, agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAgents = append(s.nextAgents, agentName)
}

func (s *lifecycleSink) StreamAbort(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
}

func (s *lifecycleSink) StreamEnd(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
}

func TestExecutorRunsToCompletion(t *testing.T) {
	schema := NewStateSchema().AddField("value", StateField{Type: reflect.TypeOf("")})
	compiled, err := NewStateGraph(schema).
		AddNode("produce", func(ctx context.Context, state State) (any, error) {
			return State{
				"value":              "done",
				StateKeyLastResponse: "all done",
			}, nil
		}).
		SetEntryPoint("produce").
		SetFinishPoint("produce").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(compiled)
	require.NoError(t, err)
	final := runToCompletion(t, executor, nil, &Invocation{})
	require.NotNil(t, final)
	assert.Equal(t, model.ObjectTypeChatCompletion, final.Response.Object)
	assert.True(t, final.Response.Done)
	require.Len(t, final.Response.Choices, 1)
	assert.Equal(t, "all done", final.Response.Choices[0].Message.Content)
}

func TestExecutorMaxStepsExceeded(t *testing.T) {
	schema := NewStateSchema()
	compiled, err := NewStateGraph(schema).
		AddNode("loop", func(ctx context.Context, state State) (any, error) {
			return nil, nil
		}).
		SetEntryPoint("loop").
		AddEdge("loop", "loop").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(compiled, WithMaxSteps(3))
	require.NoError(t, err)
	events, err := executor.Execute(context.Background(), nil, &Invocation{})
	require.NoError(t, err)

	var sawError bool
	for evt := range events {
		if evt.Response != nil && evt.Response.Error != nil {
			sawError = true
			assert.Contains(t, evt.Response.Error.Message, "maximum execution steps")
		}
	}
	assert.True(t, sawError)
}

func TestExecutorCommandRouting(t *testing.T) {
	schema := NewStateSchema().AddField("visited", StateField{
		Type:    reflect.TypeOf([]any{}),
		Reducer: AppendReducer,
		Default: func() any { return []any{} },
	})
	visit := func(name, next string) NodeFunc {
		return func(ctx context.Context, state State) (any, error) {
			return &Command{
				Update: State{"visited": []any{name}},
				GoTo:   next,
			}, nil
		}
	}
	var finalState State
	compiled, err := NewStateGraph(schema).
		AddNode("a", visit("a", "c")).
		AddNode("b", visit("b", End)).
		AddNode("c", func(ctx context.Context, state State) (any, error) {
			finalState = state.Clone()
			return &Command{Update: State{"visited": []any{"c"}}, GoTo: End}, nil
		}).
		SetEntryPoint("a").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(compiled)
	require.NoError(t, err)
	runToCompletion(t, executor, nil, &Invocation{})
	// Node b was skipped by the explicit GoTo.
	assert.Equal(t, []any{"a"}, finalState["visited"])
}

func TestExecutorRequiresLineageWithSaver(t *testing.T) {
	schema := NewStateSchema()
	compiled, err := NewStateGraph(schema).
		AddNode("noop", func(ctx context.Context, state State) (any, error) { return nil, nil }).
		SetEntryPoint("noop").
		SetFinishPoint("noop").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(compiled, WithCheckpointSaver(memorySaver()))
	require.NoError(t, err)
	_, err = executor.Execute(context.Background(), nil, &Invocation{})
	assert.ErrorIs(t, err, ErrLineageIDRequired)
}

func TestExecutorNilInvocation(t *testing.T) {
	schema := NewStateSchema()
	compiled, err := NewStateGraph(schema).
		AddNode("noop", func(ctx context.Context, state State) (any, error) { return nil, nil }).
		SetEntryPoint("noop").
		SetFinishPoint("noop").
		Compile()
	require.NoError(t, err)

	executor, err := NewExecutor(compiled)
	require.NoError(t, err)
	_, err = executor.Execute(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilInvocation)
}

func TestExecutorSignalsEndAndNextAgent(t *testing.T) {
	schema := NewStateSchema()
	compiled, err := NewStateGraph(schema).
		AddNode("planner", func(ctx context.Context, state State) (any, error) {
			return State{StateKeyLastResponse: "done"}, nil
		}, WithNodeType(NodeTypeAgent)).
		SetEntryPoint("planner").
		SetFinishPoint("planner").
		Compile()
	require.NoError(t, err)

	sink := &lifecycleSink{}
	executor, err := NewExecutor(compiled, WithEventSink(sink))
	require.NoError(t, err)
	runToCompletion(t, executor, nil, &Invocation{ChatID: "chat-1"})

	assert.Equal(t, []string{"planner"}, sink.nextAgents)
	assert.Equal(t, 1, sink.ends)
	assert.Equal(t, 0, sink.aborts)
}

func TestExecutorCancelledRunAbortsWithoutCompletion(t *testing.T) {
	schema := NewStateSchema().AddField("value", StateField{Type: reflect.TypeOf("")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	compiled, err := NewStateGraph(schema).
		AddNode("first", func(ctx context.Context, state State) (any, error) {
			cancel()
			return State{"value": "first"}, nil
		}).
		AddNode("second", func(ctx context.Context, state State) (any, error) {
			t.Error("second node ran after cancellation")
			return nil, nil
		}).
		SetEntryPoint("first").
		AddEdge("first", "second").
		SetFinishPoint("second").
		Compile()
	require.NoError(t, err)

	sink := &lifecycleSink{}
	executor, err := NewExecutor(compiled, WithEventSink(sink))
	require.NoError(t, err)

	events, err := executor.Execute(ctx, nil, &Invocation{ChatID: "chat-2"})
	require.NoError(t, err)
	for evt := range events {
		if evt.Response != nil {
			// No completion event follows a cancelled run.
			assert.NotEqual(t, model.ObjectTypeChatCompletion, evt.Response.Object)
		}
	}
	assert.Equal(t, 1, sink.aborts)
	assert.Equal(t, 0, sink.ends)
}

func TestExecutorInterruptAndResume(t *testing.T) {
	schema := NewStateSchema().AddField("answer", StateField{Type: reflect.TypeOf("")})
	gate := func(ctx context.Context, state State) (any, error) {
		decision, err := Interrupt(ctx, state, "gate", "proceed?")
		if err != nil {
			return nil, err
		}
		return State{
			"answer":             decision,
			StateKeyLastResponse: decision.(string),
		}, nil
	}
	compiled, err := NewStateGraph(schema).
		AddNode("gate", gate).
		SetEntryPoint("gate").
		SetFinishPoint("gate").
		Compile()
	require.NoError(t, err)

	saver := memorySaver()
	executor, err := NewExecutor(compiled, WithCheckpointSaver(saver))
	require.NoError(t, err)

	// First run suspends at the gate and emits the approval request.
	events, err := executor.Execute(context.Background(), nil, &Invocation{LineageID: "lineage-1"})
	require.NoError(t, err)
	var sawApproval bool
	for evt := range events {
		if evt.Response != nil && evt.Response.Error != nil {
			t.Fatalf("unexpected error: %s", evt.Response.Error.Message)
		}
		if evt.Response != nil && evt.Response.Object == model.ObjectTypeApprovalRequest {
			sawApproval = true
		}
	}
	require.True(t, sawApproval)

	tuple, err := saver.Get(context.Background(), "lineage-1", "")
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, "gate", tuple.Checkpoint.NextNode)
	require.NotNil(t, tuple.Checkpoint.InterruptState)
	assert.Equal(t, "gate", tuple.Checkpoint.InterruptState.NodeID)

	// Second run resumes from the checkpoint with the decision.
	resume := NewResumeCommand().AddResumeValue("gate", "approved")
	final := runToCompletion(t, executor, nil, &Invocation{LineageID: "lineage-1", Resume: resume})
	require.NotNil(t, final)
	require.Len(t, final.Response.Choices, 1)
	assert.Equal(t, "approved", final.Response.Choices[0].Message.Content)
}

func TestExecutorInterruptCarriesStateUpdate(t *testing.T) {
	schema := NewStateSchema().AddField("note", StateField{Type: reflect.TypeOf("")})
	node := func(ctx context.Context, state State) (any, error) {
		if note, ok := state["note"].(string); ok && note != "" {
			return State{StateKeyLastResponse: note}, nil
		}
		return nil, NewInterruptError("hold").WithUpdate(State{"note": "persisted"})
	}
	compiled, err := NewStateGraph(schema).
		AddNode("node", node).
		SetEntryPoint("node").
		SetFinishPoint("node").
		Compile()
	require.NoError(t, err)

	saver := memorySaver()
	executor, err := NewExecutor(compiled, WithCheckpointSaver(saver))
	require.NoError(t, err)

	events, err := executor.Execute(context.Background(), nil, &Invocation{LineageID: "lineage-2"})
	require.NoError(t, err)
	for range events {
	}

	tuple, err := saver.Get(context.Background(), "lineage-2", "")
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, "persisted", tuple.Checkpoint.State["note"])

	final := runToCompletion(t, executor, nil, &Invocation{LineageID: "lineage-2"})
	require.NotNil(t, final)
	require.Len(t, final.Response.Choices, 1)
	assert.Equal(t, "persisted", final.Response.Choices[0].Message.Content)
}

// memorySaver is a minimal in-memory CheckpointSaver for executor tests,
// kept local to avoid importing the checkpoint backends.
type simpleSaver struct {
	tuples map[string][]*CheckpointTuple
}

func memorySaver() *simpleSaver {
	return &simpleSaver{tuples: make(map[string][]*CheckpointTuple)}
}

func (s *simpleSaver) Get(ctx context.Context, lineageID, checkpointID string) (*CheckpointTuple, error) {
	tuples := s.tuples[lineageID]
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
	return nil, ErrCheckpointNotFound
}

func (s *simpleSaver) Put(ctx context.Context, lineageID string, checkpoint *Checkpoint, metadata *CheckpointMetadata) error {
	s.tuples[lineageID] = append(s.tuples[lineageID], &CheckpointTuple{
		LineageID:  lineageID,
		Checkpoint: checkpoint,
		Metadata:   metadata,
	})
	return nil
}

func (s *simpleSaver) List(ctx context.Context, lineageID string, filter *CheckpointFilter) ([]*CheckpointTuple, error) {
	tuples := s.tuples[lineageID]
	result := make([]*CheckpointTuple, 0, len(tuples))
	for i := len(tuples) - 1; i >= 0; i-- {
		result = append(result, tuples[i])
	}
	return result, nil
}

func (s *simpleSaver) DeleteLineage(ctx context.Context, lineageID string) error {
	delete(s.tuples, lineageID)
	return nil
}

func (s *simpleSaver) Close() error { return nil }

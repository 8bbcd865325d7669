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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflow-go/agentflow/event"
	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
	"github.com/agentflow-go/agentflow/telemetry/trace"
)

// AuthorGraphExecutor is the author of graph executor events.
const AuthorGraphExecutor = "graph-executor"

// Invocation identifies one run of a graph over a conversation thread.
type Invocation struct {
	// InvocationID identifies this run. Generated when empty.
	InvocationID string
	// LineageID is the conversation thread ID. Required when a checkpoint
	// saver is configured.
	LineageID string
	// ChatID is the client-facing chat identifier, forwarded to sinks.
	ChatID string
	// Resume carries values for resuming an interrupted run.
	Resume *ResumeCommand
}

// Executor executes a graph with the given initial state.
type Executor struct {
	graph             *Graph
	saver             CheckpointSaver
	sink              event.Sink
	channelBufferSize int
	maxSteps          int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	channelBufferSize int
	maxSteps          int
	saver             CheckpointSaver
	sink              event.Sink
}

// WithChannelBufferSize sets the buffer size for event channels.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(opts *executorOptions) {
		opts.channelBufferSize = size
	}
}

// WithMaxSteps sets the maximum number of steps for graph execution.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(opts *executorOptions) {
		opts.maxSteps = maxSteps
	}
}

// WithCheckpointSaver sets the checkpoint saver used to persist state
// between runs. Without a saver, interrupts end the run unrecoverably.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(opts *executorOptions) {
		opts.saver = saver
	}
}

// WithEventSink sets the sink notified of run lifecycle transitions: the
// next agent node about to execute, run completion, and aborts.
func WithEventSink(sink event.Sink) ExecutorOption {
	return func(opts *executorOptions) {
		opts.sink = sink
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if err := graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	options := executorOptions{
		channelBufferSize: 256,
		maxSteps:          100,
		sink:              event.NoopSink{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Executor{
		graph:             graph,
		saver:             options.saver,
		sink:              options.sink,
		channelBufferSize: options.channelBufferSize,
		maxSteps:          options.maxSteps,
	}, nil
}

// Execute executes the graph with the given initial state. The returned
// channel delivers execution events and closes when the run completes,
// suspends on an interrupt, or fails.
func (e *Executor) Execute(
	ctx context.Context,
	initialState State,
	invocation *Invocation,
) (<-chan *event.Event, error) {
	if invocation == nil {
		return nil, ErrNilInvocation
	}
	if invocation.InvocationID == "" {
		invocation.InvocationID = uuid.New().String()
	}
	if e.saver != nil && invocation.LineageID == "" {
		return nil, ErrLineageIDRequired
	}

	ctx, span := trace.Tracer.Start(ctx, "execute_graph")

	eventChan := make(chan *event.Event, e.channelBufferSize)
	go func() {
		defer close(eventChan)
		defer span.End()
		if err := e.executeGraph(ctx, initialState, invocation, eventChan); err != nil {
			span.SetAttributes(attribute.String("agentflow.error", err.Error()))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.sink.StreamAbort(invocation.ChatID)
			}
			errorEvent := event.NewErrorEvent(
				invocation.InvocationID, AuthorGraphExecutor,
				ErrorTypeGraphExecution, err.Error())
			select {
			case eventChan <- errorEvent:
			case <-ctx.Done():
			}
		}
	}()
	return eventChan, nil
}

// executeGraph runs the node loop from the entry point (or from the
// checkpointed node when resuming) until End, an interrupt, or an error.
func (e *Executor) executeGraph(
	ctx context.Context,
	initialState State,
	invocation *Invocation,
	eventChan chan<- *event.Event,
) error {
	state, currentNodeID, step, err := e.prepareRun(ctx, initialState, invocation)
	if err != nil {
		return err
	}
	if currentNodeID == "" {
		return ErrNoEntryPoint
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		step++
		if step > e.maxSteps {
			return fmt.Errorf("maximum execution steps (%d) exceeded", e.maxSteps)
		}
		if currentNodeID == End {
			ClearResumeValues(state)
			if err := e.saveCheckpoint(ctx, invocation.LineageID, state, "", step, SourceLoop, nil); err != nil {
				return err
			}
			return e.emitCompletion(ctx, state, invocation, eventChan)
		}
		nextNodeID, newState, err := e.executeNode(ctx, state, invocation, currentNodeID, step, eventChan)
		if err != nil {
			if interrupt, ok := AsInterruptError(err); ok {
				return e.suspend(ctx, state, invocation, currentNodeID, step, interrupt, eventChan)
			}
			return fmt.Errorf("error executing node %s: %w", currentNodeID, err)
		}
		state = newState
		currentNodeID = nextNodeID
	}
}

// prepareRun builds the starting state and node. When resuming from a
// checkpoint, the persisted state is hydrated first and the caller-provided
// initial state is merged on top as a regular partial update.
func (e *Executor) prepareRun(
	ctx context.Context,
	initialState State,
	invocation *Invocation,
) (State, string, int, error) {
	schema := e.graph.Schema()
	startNode := e.graph.EntryPoint()
	step := 0

	state := schema.InitialState()
	if e.saver != nil {
		tuple, err := e.saver.Get(ctx, invocation.LineageID, "")
		if err != nil {
			return nil, "", 0, fmt.Errorf("load checkpoint: %w", err)
		}
		if tuple != nil && tuple.Checkpoint != nil {
			ckpt := tuple.Checkpoint
			saved := ckpt.State
			if saved == nil && ckpt.RawState != nil {
				saved, err = schema.DecodeState(ckpt.RawState)
				if err != nil {
					return nil, "", 0, fmt.Errorf("hydrate checkpoint: %w", err)
				}
			}
			if saved != nil {
				state = saved.Clone()
			}
			step = ckpt.Step
			if ckpt.NextNode != "" {
				startNode = ckpt.NextNode
			}
		}
	}
	if initialState != nil {
		state = schema.ApplyUpdate(state, initialState)
	}
	if resume := invocation.Resume; resume != nil {
		if resume.Resume != nil {
			state[StateKeyResume] = resume.Resume
		}
		if len(resume.ResumeMap) > 0 {
			state[StateKeyResumeMap] = resume.ResumeMap
		}
	}
	return state, startNode, step, nil
}

// executeNode executes a single node and returns the next node ID along
// with the merged state.
func (e *Executor) executeNode(
	ctx context.Context,
	state State,
	invocation *Invocation,
	nodeID string,
	step int,
	eventChan chan<- *event.Event,
) (string, State, error) {
	node, exists := e.graph.Node(nodeID)
	if !exists {
		return "", nil, fmt.Errorf("node %s not found", nodeID)
	}
	if node.Type == NodeTypeAgent {
		e.sink.StreamNextAgent(invocation.ChatID, node.Name)
	}

	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("execute_node %s", nodeID))
	defer span.End()
	span.SetAttributes(
		attribute.String("agentflow.node_id", nodeID),
		attribute.String("agentflow.node_type", string(node.Type)),
		attribute.String("agentflow.invocation_id", invocation.InvocationID),
	)

	if node.Function != nil {
		result, err := node.Function(ctx, state)
		if err != nil {
			if interrupt, ok := AsInterruptError(err); ok {
				interrupt.NodeID = nodeID
				interrupt.Step = step
				return "", nil, interrupt
			}
			span.SetAttributes(attribute.String("agentflow.error", err.Error()))
			return "", nil, fmt.Errorf("node function execution failed: %w", err)
		}
		switch typed := result.(type) {
		case *Command:
			if typed.Update != nil {
				state = e.graph.Schema().ApplyUpdate(state, typed.Update)
			}
			if typed.GoTo != "" {
				span.SetAttributes(attribute.String("agentflow.next_node", typed.GoTo))
				return typed.GoTo, state, e.saveLoopCheckpoint(ctx, invocation, state, typed.GoTo, step)
			}
		case State:
			state = e.graph.Schema().ApplyUpdate(state, typed)
		case nil:
			// A nil update leaves the state untouched.
		default:
			return "", nil, fmt.Errorf("node function returned invalid result type: %T", result)
		}
	}
	nextNode, err := e.selectNextNode(ctx, state, nodeID)
	if err != nil {
		return "", nil, err
	}
	span.SetAttributes(attribute.String("agentflow.next_node", nextNode))
	return nextNode, state, e.saveLoopCheckpoint(ctx, invocation, state, nextNode, step)
}

// selectNextNode selects the next node based on edges and conditional logic.
func (e *Executor) selectNextNode(ctx context.Context, state State, currentNodeID string) (string, error) {
	if condEdge, exists := e.graph.ConditionalEdge(currentNodeID); exists {
		conditionResult, err := condEdge.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("conditional edge evaluation failed: %w", err)
		}
		if nextNode, exists := condEdge.PathMap[conditionResult]; exists {
			return nextNode, nil
		}
		return "", fmt.Errorf("condition result %s not found in path map", conditionResult)
	}
	edges := e.graph.Edges(currentNodeID)
	if len(edges) == 0 {
		return End, nil
	}
	return edges[0].To, nil
}

// suspend checkpoints the pre-interrupt state and emits the interrupt
// payload. The run ends cleanly; a later Execute with a resume command (or
// new decision messages) picks up at the interrupted node.
func (e *Executor) suspend(
	ctx context.Context,
	state State,
	invocation *Invocation,
	nodeID string,
	step int,
	interrupt *InterruptError,
	eventChan chan<- *event.Event,
) error {
	if interrupt.Update != nil {
		state = e.graph.Schema().ApplyUpdate(state, interrupt.Update)
	}
	interruptState := &InterruptState{
		NodeID:         nodeID,
		InterruptValue: interrupt.Value,
		Step:           step,
	}
	if err := e.saveCheckpoint(ctx, invocation.LineageID, state, nodeID, step, SourceInterrupt, interruptState); err != nil {
		return err
	}
	payload, err := json.Marshal(interrupt.Value)
	if err != nil {
		log.Warnf("interrupt payload not serializable: %v", err)
		payload = []byte(fmt.Sprintf("%q", fmt.Sprint(interrupt.Value)))
	}
	interruptEvent := event.New(invocation.InvocationID, nodeID,
		event.WithObject(model.ObjectTypeApprovalRequest))
	interruptEvent.Response.Choices = []model.Choice{{
		Message: model.Message{
			Role:    model.RoleAssistant,
			Content: string(payload),
		},
	}}
	select {
	case eventChan <- interruptEvent:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// emitCompletion sends the final event of a successful run.
func (e *Executor) emitCompletion(
	ctx context.Context,
	state State,
	invocation *Invocation,
	eventChan chan<- *event.Event,
) error {
	completionEvent := event.New(invocation.InvocationID, AuthorGraphExecutor,
		event.WithObject(model.ObjectTypeChatCompletion))
	completionEvent.Response.Done = true
	if lastResponse, ok := state[StateKeyLastResponse].(string); ok {
		completionEvent.Response.Choices = []model.Choice{{
			Message: model.NewAssistantMessage(lastResponse),
		}}
	}
	select {
	case eventChan <- completionEvent:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.sink.StreamEnd(invocation.ChatID)
	return nil
}

func (e *Executor) saveLoopCheckpoint(ctx context.Context, invocation *Invocation, state State, nextNode string, step int) error {
	if nextNode == End {
		// The End transition saves its own final checkpoint.
		return nil
	}
	return e.saveCheckpoint(ctx, invocation.LineageID, state, nextNode, step, SourceLoop, nil)
}

func (e *Executor) saveCheckpoint(
	ctx context.Context,
	lineageID string,
	state State,
	nextNode string,
	step int,
	source string,
	interruptState *InterruptState,
) error {
	if e.saver == nil {
		return nil
	}
	ckpt := NewCheckpoint(state.Clone(), nextNode, step)
	ckpt.InterruptState = interruptState
	metadata := &CheckpointMetadata{Source: source, Step: step}
	if err := e.saver.Put(ctx, lineageID, ckpt, metadata); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

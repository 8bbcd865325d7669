//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package seqagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/agentflow-go/agentflow/event"
	"github.com/agentflow-go/agentflow/graph"
	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
	"github.com/agentflow-go/agentflow/tool"
)

// Sentinel markers a tool may append to its string output to attach
// JSON-encoded side data. Everything before the first marker is the
// user-visible output.
const (
	// SourceDocumentsMarker prefixes a JSON array of source documents.
	SourceDocumentsMarker = "\n\n----SOURCE_DOCUMENTS----\n\n"
	// ArtifactsMarker prefixes a JSON array of artifacts.
	ArtifactsMarker = "\n\n----ARTIFACTS----\n\n"
)

// defaultToolConcurrency bounds concurrent tool calls per node.
const defaultToolConcurrency = 8

// ToolNode executes the tool calls requested by the last assistant message.
// Calls run concurrently; results are fanned back in in call order, one
// ToolMessage per call, and the turn's tool records are aggregated into the
// flow channel.
type ToolNode struct {
	nodeID string
	tools  map[string]tool.CallableTool
	pool   *ants.Pool
	sink   event.Sink
}

// ToolNodeOption configures a ToolNode.
type ToolNodeOption func(*toolNodeOptions)

type toolNodeOptions struct {
	concurrency int
	sink        event.Sink
}

// WithToolConcurrency sets the maximum number of concurrently executing
// tool calls.
func WithToolConcurrency(n int) ToolNodeOption {
	return func(opts *toolNodeOptions) {
		if n > 0 {
			opts.concurrency = n
		}
	}
}

// WithToolSink sets the event sink notified of the turn's tool records.
func WithToolSink(sink event.Sink) ToolNodeOption {
	return func(opts *toolNodeOptions) {
		opts.sink = sink
	}
}

// NewToolNode creates a tool execution node over the given registry.
func NewToolNode(nodeID string, tools map[string]tool.CallableTool, opts ...ToolNodeOption) (*ToolNode, error) {
	if nodeID == "" {
		return nil, errors.New("tool node ID is required")
	}
	if len(tools) == 0 {
		return nil, errors.New("tool node requires at least one tool")
	}
	options := toolNodeOptions{
		concurrency: defaultToolConcurrency,
		sink:        event.NoopSink{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	pool, err := ants.NewPool(options.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create tool pool: %w", err)
	}
	return &ToolNode{
		nodeID: nodeID,
		tools:  tools,
		pool:   pool,
		sink:   options.sink,
	}, nil
}

// Close releases the node's worker pool.
func (n *ToolNode) Close() {
	n.pool.Release()
}

// Func returns the graph node function for this tool node.
func (n *ToolNode) Func() graph.NodeFunc {
	return n.run
}

func (n *ToolNode) run(ctx context.Context, state graph.State) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last, ok := lastMessage(Messages(state))
	if !ok || last.Role != model.RoleAssistant || len(last.ToolCalls) == 0 {
		return nil, errors.New("tool node requires a preceding assistant message with tool calls")
	}
	// Tool messages carry the tag of the agent that requested the calls so
	// that agent can recognize its own executed results on re-entry.
	originNodeID := messageNodeID(last)
	if originNodeID == "" {
		originNodeID = n.nodeID
	}

	info := snapshotFlowInfo(state)
	results, err := executeCalls(ctx, n.pool, n.tools, last.ToolCalls, info)
	if err != nil {
		return nil, err
	}

	toolMessages := make([]model.Message, 0, len(results))
	var usedTools []UsedTool
	var sourceDocuments []SourceDocument
	var artifacts []Artifact
	for _, result := range results {
		msg := model.NewToolMessage(result.call.ID, result.call.Function.Name, result.output)
		msg.ID = uuid.New().String()
		msg.Metadata = map[string]any{
			MetadataKeyNodeID:    originNodeID,
			MetadataKeyUsedTools: []UsedTool{result.usedTool},
		}
		if len(result.sourceDocuments) > 0 {
			msg.Metadata[MetadataKeySourceDocuments] = result.sourceDocuments
		}
		if len(result.artifacts) > 0 {
			msg.Metadata[MetadataKeyArtifacts] = result.artifacts
		}
		toolMessages = append(toolMessages, msg)
		usedTools = append(usedTools, result.usedTool)
		sourceDocuments = append(sourceDocuments, result.sourceDocuments...)
		artifacts = append(artifacts, result.artifacts...)
	}

	flow := FlowValues(state)
	chatID := flowString(flow, FlowKeyChatID)
	if len(usedTools) > 0 {
		n.sink.StreamUsedTools(chatID, usedTools)
	}
	if len(sourceDocuments) > 0 {
		n.sink.StreamSourceDocuments(chatID, sourceDocuments)
	}
	if len(artifacts) > 0 {
		n.sink.StreamArtifacts(chatID, artifacts)
	}

	return graph.State{
		StateKeyMessages: toolMessages,
		StateKeyFlow:     accumulateFlowRecords(flow, usedTools, sourceDocuments, artifacts),
	}, nil
}

// accumulateFlowRecords appends this turn's records onto the flow channel's
// running aggregates. The flow channel shallow-merges, so the combined
// slices are computed here from the current snapshot.
func accumulateFlowRecords(
	flow map[string]any,
	usedTools []UsedTool,
	sourceDocuments []SourceDocument,
	artifacts []Artifact,
) map[string]any {
	update := make(map[string]any, 3)
	existingTools, _ := flow[FlowKeyUsedTools].([]UsedTool)
	update[FlowKeyUsedTools] = append(append([]UsedTool{}, existingTools...), usedTools...)
	existingDocs, _ := flow[FlowKeySourceDocuments].([]SourceDocument)
	update[FlowKeySourceDocuments] = append(append([]SourceDocument{}, existingDocs...), sourceDocuments...)
	existingArtifacts, _ := flow[FlowKeyArtifacts].([]Artifact)
	update[FlowKeyArtifacts] = append(append([]Artifact{}, existingArtifacts...), artifacts...)
	return update
}

// callResult is one completed tool call, indexed back into call order.
type callResult struct {
	call            model.ToolCall
	output          string
	usedTool        UsedTool
	sourceDocuments []SourceDocument
	artifacts       []Artifact
}

// executeCalls fans the requested calls out over the worker pool and fans
// the results back in in call order. All tools are resolved before any call
// starts; a missing name fails the whole invocation. Any call error aborts
// the node.
func executeCalls(
	ctx context.Context,
	pool *ants.Pool,
	tools map[string]tool.CallableTool,
	calls []model.ToolCall,
	info FlowInfo,
) ([]callResult, error) {
	resolved := make([]tool.CallableTool, len(calls))
	for i, call := range calls {
		t, ok := tools[call.Function.Name]
		if !ok {
			return nil, &ToolNotFoundError{Tool: call.Function.Name}
		}
		resolved[i] = t
	}

	callCtx := ContextWithFlowInfo(ctx, info)
	results := make([]callResult, len(calls))
	callErrs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i], callErrs[i] = invokeTool(callCtx, resolved[i], calls[i])
		}
		if pool != nil {
			if err := pool.Submit(task); err == nil {
				continue
			}
		}
		go task()
	}
	wg.Wait()

	if err := errors.Join(callErrs...); err != nil {
		return nil, err
	}
	return results, nil
}

func invokeTool(ctx context.Context, t tool.CallableTool, call model.ToolCall) (callResult, error) {
	if err := ctx.Err(); err != nil {
		return callResult{}, err
	}
	name := call.Function.Name
	raw, err := t.Call(ctx, call.Function.Arguments)
	if err != nil {
		return callResult{}, fmt.Errorf("tool %s: %w", name, err)
	}
	output, sourceDocuments, artifacts := ParseToolOutput(stringifyToolOutput(raw))

	var input map[string]any
	if len(call.Function.Arguments) > 0 {
		if err := json.Unmarshal(call.Function.Arguments, &input); err != nil {
			log.Warnf("tool %s: arguments are not an object: %v", name, err)
		}
	}
	return callResult{
		call:   call,
		output: output,
		usedTool: UsedTool{
			Tool:       name,
			ToolInput:  input,
			ToolOutput: output,
		},
		sourceDocuments: sourceDocuments,
		artifacts:       artifacts,
	}, nil
}

// stringifyToolOutput renders a tool's return value as the string fed back
// to the model.
func stringifyToolOutput(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case nil:
		return ""
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	}
}

// ParseToolOutput splits a tool's raw output into the user-visible text and
// the optional sentinel-delimited source-document and artifact blocks. A
// malformed block is logged and dropped; the visible output and any other
// block survive.
func ParseToolOutput(raw string) (string, []SourceDocument, []Artifact) {
	visible := raw
	var docsBlock, artifactsBlock string
	if before, after, found := strings.Cut(visible, SourceDocumentsMarker); found {
		visible, docsBlock = before, after
	}
	// The artifacts block may trail either the visible output or the
	// source-documents block.
	if before, after, found := strings.Cut(docsBlock, ArtifactsMarker); found {
		docsBlock, artifactsBlock = before, after
	}
	if before, after, found := strings.Cut(visible, ArtifactsMarker); found {
		visible, artifactsBlock = before, after
	}

	var sourceDocuments []SourceDocument
	if docsBlock != "" {
		if err := json.Unmarshal([]byte(docsBlock), &sourceDocuments); err != nil {
			log.Warnf("dropping malformed source documents block: %v", err)
			sourceDocuments = nil
		}
	}
	var artifacts []Artifact
	if artifactsBlock != "" {
		if err := json.Unmarshal([]byte(artifactsBlock), &artifacts); err != nil {
			log.Warnf("dropping malformed artifacts block: %v", err)
			artifacts = nil
		}
	}
	return visible, sourceDocuments, artifacts
}

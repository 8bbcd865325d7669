//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package seqagent implements sequential agent nodes for graph execution:
// model-driven agent nodes with a tool-calling loop, concurrent tool
// execution nodes, human-in-the-loop approval, and declarative custom state
// updates. Nodes communicate only through the reducer-merged graph state.
package seqagent

import (
	"reflect"

	"github.com/agentflow-go/agentflow/graph"
	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
)

// State channel names used by sequential agent flows.
const (
	// StateKeyMessages holds the ordered conversation, merged append-only
	// with ID-based deduplication.
	StateKeyMessages = "messages"
	// StateKeyFlow holds per-run metadata (session/chat identifiers, the
	// original input, accumulated tool records), shallow-merged.
	StateKeyFlow = "flow"
	// StateKeyUIState holds values surfaced to the calling client, each key
	// independently replaced.
	StateKeyUIState = "ui_state"
	// StateKeyState holds user-declared custom state with per-key merge
	// operations configured at flow design time.
	StateKeyState = "state"
	// StateKeyApprovals holds pending tool-call approvals keyed by the
	// requesting agent's node ID.
	StateKeyApprovals = "approvals"
)

// Keys inside the flow channel.
const (
	FlowKeySessionID       = "sessionId"
	FlowKeyChatID          = "chatId"
	FlowKeyChatflowID      = "chatflowId"
	FlowKeyInput           = "input"
	FlowKeyStreaming       = "streaming"
	FlowKeyUsedTools       = "usedTools"
	FlowKeySourceDocuments = "sourceDocuments"
	FlowKeyArtifacts       = "artifacts"
)

// Keys used in message metadata.
const (
	MetadataKeyNodeID          = "nodeId"
	MetadataKeyUsedTools       = "usedTools"
	MetadataKeySourceDocuments = "sourceDocuments"
	MetadataKeyArtifacts       = "artifacts"
)

// UsedTool records one completed tool invocation.
type UsedTool struct {
	Tool       string         `json:"tool"`
	ToolInput  map[string]any `json:"toolInput"`
	ToolOutput string         `json:"toolOutput"`
}

// SourceDocument is a retrieval result attached to a tool's output.
type SourceDocument struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Artifact is an opaque JSON object emitted by a tool alongside its output.
type Artifact map[string]any

// Operation selects how updates to one custom state key merge with the
// existing value.
type Operation string

// Merge operations for custom state keys.
const (
	// OpReplace overwrites the existing value.
	OpReplace Operation = "replace"
	// OpAppend appends the update to the existing value as a list.
	OpAppend Operation = "append"
)

// CustomKey declares one user-defined custom state key with its default
// value and merge operation. Keys not declared default to replace.
type CustomKey struct {
	Key       string
	Operation Operation
	Default   any
}

// NewFlowSchema builds the state schema for a sequential agent flow. The
// built-in channels are always present; customKeys configure the per-key
// merge behavior of the custom state channel.
func NewFlowSchema(customKeys ...CustomKey) *graph.StateSchema {
	schema := graph.NewStateSchema()
	schema.AddField(StateKeyMessages, graph.StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: graph.MessageReducer,
		Default: func() any { return []model.Message{} },
	})
	schema.AddField(StateKeyFlow, graph.StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: graph.MergeReducer,
		Default: func() any { return map[string]any{} },
	})
	schema.AddField(StateKeyUIState, graph.StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: graph.LastValueReducer,
		Default: func() any { return map[string]any{} },
	})
	schema.AddField(StateKeyState, graph.StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: customStateReducer(customKeys),
		Default: customStateDefault(customKeys),
	})
	schema.AddField(StateKeyApprovals, graph.StateField{
		Type:    reflect.TypeOf(map[string]*PendingApproval{}),
		Reducer: approvalReducer,
		Default: func() any { return map[string]*PendingApproval{} },
	})
	return schema
}

// customStateDefault builds the initial custom state from the declared
// per-key defaults.
func customStateDefault(customKeys []CustomKey) func() any {
	return func() any {
		initial := make(map[string]any, len(customKeys))
		for _, key := range customKeys {
			initial[key.Key] = key.Default
		}
		return initial
	}
}

// customStateReducer merges a custom state patch key by key, honoring each
// declared key's merge operation. Undeclared keys replace.
func customStateReducer(customKeys []CustomKey) graph.StateReducer {
	operations := make(map[string]Operation, len(customKeys))
	for _, key := range customKeys {
		operations[key.Key] = key.Operation
	}
	return func(existing, update any) any {
		if existing == nil {
			existing = map[string]any{}
		}
		existingMap, ok1 := existing.(map[string]any)
		updateMap, ok2 := update.(map[string]any)
		if !ok1 || !ok2 {
			log.Warnf("custom state reducer: dropping non-map update of type %T", update)
			return existing
		}
		result := make(map[string]any, len(existingMap)+len(updateMap))
		for k, v := range existingMap {
			result[k] = v
		}
		for k, v := range updateMap {
			if operations[k] == OpAppend {
				result[k] = appendValues(result[k], v)
				continue
			}
			result[k] = v
		}
		return result
	}
}

// appendValues concatenates the update onto the existing value as a list,
// lifting scalars into single-element lists.
func appendValues(existing, update any) []any {
	return append(asList(existing), asList(update)...)
}

func asList(value any) []any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []any:
		return typed
	default:
		return []any{typed}
	}
}

// Messages returns the conversation channel of the state.
func Messages(state graph.State) []model.Message {
	messages, _ := state[StateKeyMessages].([]model.Message)
	return messages
}

// FlowValues returns the flow metadata channel of the state.
func FlowValues(state graph.State) map[string]any {
	flow, _ := state[StateKeyFlow].(map[string]any)
	return flow
}

// CustomState returns the user-declared custom state channel.
func CustomState(state graph.State) map[string]any {
	custom, _ := state[StateKeyState].(map[string]any)
	return custom
}

// PendingApprovals returns the pending approval channel of the state.
func PendingApprovals(state graph.State) map[string]*PendingApproval {
	approvals, _ := state[StateKeyApprovals].(map[string]*PendingApproval)
	return approvals
}

func flowString(flow map[string]any, key string) string {
	value, _ := flow[key].(string)
	return value
}

// lastMessage returns the most recent message, or false for an empty list.
func lastMessage(messages []model.Message) (model.Message, bool) {
	if len(messages) == 0 {
		return model.Message{}, false
	}
	return messages[len(messages)-1], true
}

// messageNodeID extracts the node tag from a message's metadata.
func messageNodeID(msg model.Message) string {
	if msg.Metadata == nil {
		return ""
	}
	nodeID, _ := msg.Metadata[MetadataKeyNodeID].(string)
	return nodeID
}

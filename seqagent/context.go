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

	"github.com/agentflow-go/agentflow/graph"
)

// FlowInfo is the immutable run-scoped context injected into every tool
// invocation. Tools may read it but never write through it; all state
// mutation flows through reducer-merged node updates.
type FlowInfo struct {
	ChatflowID string
	SessionID  string
	ChatID     string
	// Input is the original user input for this run.
	Input string
	// State is a read-only snapshot of the custom state at invocation time.
	State map[string]any
}

type flowInfoKey struct{}

// ContextWithFlowInfo returns a context carrying the given flow info.
func ContextWithFlowInfo(ctx context.Context, info FlowInfo) context.Context {
	return context.WithValue(ctx, flowInfoKey{}, info)
}

// FlowInfoFromContext extracts the flow info injected for a tool call.
func FlowInfoFromContext(ctx context.Context) (FlowInfo, bool) {
	info, ok := ctx.Value(flowInfoKey{}).(FlowInfo)
	return info, ok
}

// snapshotFlowInfo builds the per-invocation flow info from the current
// state. The custom state is copied so tools cannot observe later merges.
func snapshotFlowInfo(state graph.State) FlowInfo {
	flow := FlowValues(state)
	custom := CustomState(state)
	snapshot := make(map[string]any, len(custom))
	for k, v := range custom {
		snapshot[k] = v
	}
	return FlowInfo{
		ChatflowID: flowString(flow, FlowKeyChatflowID),
		SessionID:  flowString(flow, FlowKeySessionID),
		ChatID:     flowString(flow, FlowKeyChatID),
		Input:      flowString(flow, FlowKeyInput),
		State:      snapshot,
	}
}

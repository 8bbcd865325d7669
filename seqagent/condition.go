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
	"github.com/agentflow-go/agentflow/model"
)

// Routing results returned by ToolRoutingCondition.
const (
	// RouteTools routes to the tool execution node.
	RouteTools = "tools"
	// RouteNext routes to the flow's next node.
	RouteNext = "next"
)

// ToolRoutingCondition returns a conditional-edge predicate that routes to
// the tool node when the last message is an assistant message carrying tool
// calls, and to the next node otherwise.
func ToolRoutingCondition() graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (string, error) {
		last, ok := lastMessage(Messages(state))
		if !ok {
			return RouteNext, nil
		}
		if last.Role == model.RoleAssistant && len(last.ToolCalls) > 0 {
			return RouteTools, nil
		}
		return RouteNext, nil
	}
}

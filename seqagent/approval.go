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
	"strings"

	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
)

// PendingApproval is the persisted record of a tool-call request awaiting a
// human decision. It lives in the approvals state channel, keyed by the
// requesting agent's node ID, so suspended runs can be resumed from a
// checkpoint after a process restart. It is consumed and discarded once the
// agent observes a matching executed tool result.
type PendingApproval struct {
	NodeID      string           `json:"nodeId"`
	ToolCalls   []model.ToolCall `json:"toolCalls"`
	Prompt      string           `json:"prompt"`
	ApproveText string           `json:"approveButtonText"`
	RejectText  string           `json:"rejectButtonText"`
}

// payload builds the client-facing approval request emitted on the event
// sink and carried by the interrupt.
func (p *PendingApproval) payload() map[string]any {
	calls := make([]map[string]any, 0, len(p.ToolCalls))
	for _, call := range p.ToolCalls {
		calls = append(calls, map[string]any{
			"id":   call.ID,
			"tool": call.Function.Name,
			"args": string(call.Function.Arguments),
		})
	}
	return map[string]any{
		"nodeId":            p.NodeID,
		"prompt":            p.Prompt,
		"approveButtonText": p.ApproveText,
		"rejectButtonText":  p.RejectText,
		"toolCalls":         calls,
	}
}

// resumeKey is the interrupt key an approval decision must answer.
func (p *PendingApproval) resumeKey() string {
	return "approval:" + p.NodeID
}

// approvalReducer merges pending approvals per node ID. A nil entry clears
// that node's pending approval; unrelated pending approvals survive.
func approvalReducer(existing, update any) any {
	if existing == nil {
		existing = map[string]*PendingApproval{}
	}
	existingMap, ok1 := existing.(map[string]*PendingApproval)
	updateMap, ok2 := update.(map[string]*PendingApproval)
	if !ok1 || !ok2 {
		log.Warnf("approval reducer: dropping update of type %T", update)
		return existing
	}
	result := make(map[string]*PendingApproval, len(existingMap)+len(updateMap))
	for k, v := range existingMap {
		result[k] = v
	}
	for k, v := range updateMap {
		if v == nil {
			delete(result, k)
			continue
		}
		result[k] = v
	}
	return result
}

// clearApproval builds the state update that discards a consumed pending
// approval.
func clearApproval(nodeID string) map[string]*PendingApproval {
	return map[string]*PendingApproval{nodeID: nil}
}

// decisionApproves interprets a resume value as an approval decision.
// Booleans are taken directly; strings match common affirmative forms.
func decisionApproves(decision any) bool {
	switch typed := decision.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "approve", "approved", "yes", "y", "true":
			return true
		}
	}
	return false
}

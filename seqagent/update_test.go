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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow-go/agentflow/sandbox"
)

func testFlowContext() FlowContext {
	return FlowContext{
		ChatflowID: "cf1",
		SessionID:  "s1",
		ChatID:     "c1",
		Input:      "what is 2+2?",
		Output: Output{
			Content: "4",
			UsedTools: []UsedTool{
				{Tool: "calculator", ToolInput: map[string]any{"a": 2.0, "b": 2.0}, ToolOutput: "4"},
			},
		},
		State: map[string]any{"existing": "value"},
		Vars:  map[string]any{"apiHost": "example.com"},
	}
}

func TestResolveUpdateStateRules(t *testing.T) {
	cfg := &UpdateStateConfig{Rules: []UpdateRule{
		{Key: "answer", Value: "$flow.output.content"},
		{Key: "toolOutput", Value: "$flow.output.usedTools[0].toolOutput"},
		{Key: "question", Value: "$flow.input"},
		{Key: "host", Value: "$vars.apiHost"},
		{Key: "label", Value: "plain literal"},
	}}

	patch, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, "4", patch["answer"])
	assert.Equal(t, "4", patch["toolOutput"])
	assert.Equal(t, "what is 2+2?", patch["question"])
	assert.Equal(t, "example.com", patch["host"])
	assert.Equal(t, "plain literal", patch["label"])
}

func TestResolveUpdateStatePathMissYieldsNil(t *testing.T) {
	cfg := &UpdateStateConfig{Rules: []UpdateRule{
		{Key: "missing", Value: "$flow.output.noSuchField"},
		{Key: "outOfRange", Value: "$flow.output.usedTools[5].toolOutput"},
	}}
	patch, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), nil)
	require.NoError(t, err)
	assert.Nil(t, patch["missing"])
	assert.Nil(t, patch["outOfRange"])
}

func TestResolveUpdateStateEmptyKey(t *testing.T) {
	cfg := &UpdateStateConfig{Rules: []UpdateRule{
		{Key: "ok", Value: "x"},
		{Key: "", Value: "y"},
	}}
	_, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), nil)
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Row)
}

func TestUpdateStateConfigValidate(t *testing.T) {
	assert.NoError(t, (*UpdateStateConfig)(nil).validate())
	assert.NoError(t, (&UpdateStateConfig{Rules: []UpdateRule{{Key: "k"}}}).validate())
	assert.Error(t, (&UpdateStateConfig{
		Rules: []UpdateRule{{Key: "k"}},
		Code:  "return {}",
	}).validate())
	assert.Error(t, (&UpdateStateConfig{Rules: []UpdateRule{{Key: ""}}}).validate())
}

func TestLookupPath(t *testing.T) {
	tests := []struct {
		value string
		path  string
		ok    bool
	}{
		{"$flow", "$", true},
		{"$flow.output.content", "$.output.content", true},
		{"$flow[\"output\"]", "$[\"output\"]", true},
		{"$vars.apiHost", "$.vars.apiHost", true},
		{"$vars[\"apiHost\"]", "$.vars[\"apiHost\"]", true},
		{"literal", "", false},
		{"$flowish", "", false},
	}
	for _, tt := range tests {
		path, ok := lookupPath(tt.value)
		assert.Equal(t, tt.ok, ok, tt.value)
		assert.Equal(t, tt.path, path, tt.value)
	}
}

func TestResolveUpdateStateCodeMode(t *testing.T) {
	cfg := &UpdateStateConfig{Code: `
return {
    answer: flow.output.content,
    host: vars.apiHost,
    count: flow.output.usedTools.length
};`}
	patch, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), sandbox.NewGojaRunner())
	require.NoError(t, err)
	assert.Equal(t, "4", patch["answer"])
	assert.Equal(t, "example.com", patch["host"])
	assert.EqualValues(t, 1, patch["count"])
}

func TestResolveUpdateStateCodeModeInvalidReturn(t *testing.T) {
	cfg := &UpdateStateConfig{Code: `return "just a string";`}
	_, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), sandbox.NewGojaRunner())
	var invalid *InvalidReturnTypeError
	assert.ErrorAs(t, err, &invalid)
}

func TestResolveUpdateStateCodeModeRequiresRunner(t *testing.T) {
	cfg := &UpdateStateConfig{Code: `return {};`}
	_, err := ResolveUpdateState(context.Background(), cfg, testFlowContext(), nil)
	assert.Error(t, err)
}

func TestResolveUpdateStateNilConfig(t *testing.T) {
	patch, err := ResolveUpdateState(context.Background(), nil, testFlowContext(), nil)
	require.NoError(t, err)
	assert.Nil(t, patch)
}

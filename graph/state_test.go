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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow-go/agentflow/model"
)

func TestStateClone(t *testing.T) {
	state := State{"a": 1, "b": "two"}
	clone := state.Clone()
	clone["a"] = 10
	assert.Equal(t, 1, state["a"])
	assert.Equal(t, "two", clone["b"])
}

func TestSchemaInitialState(t *testing.T) {
	schema := NewStateSchema().
		AddField("counter", StateField{
			Type:    reflect.TypeOf(0),
			Default: func() any { return 0 },
		}).
		AddField("nodefault", StateField{Type: reflect.TypeOf("")})

	state := schema.InitialState()
	assert.Equal(t, 0, state["counter"])
	_, exists := state["nodefault"]
	assert.False(t, exists)
}

func TestApplyUpdateReplaceByDefault(t *testing.T) {
	schema := NewStateSchema().AddField("value", StateField{Type: reflect.TypeOf("")})
	state := schema.ApplyUpdate(State{"value": "old"}, State{"value": "new"})
	assert.Equal(t, "new", state["value"])
}

func TestApplyUpdateDropsMistypedValues(t *testing.T) {
	schema := NewStateSchema().AddField("count", StateField{Type: reflect.TypeOf(0)})
	state := schema.ApplyUpdate(State{"count": 1}, State{"count": "not a number"})
	assert.Equal(t, 1, state["count"])
}

func TestApplyUpdateLeavesAbsentKeysUntouched(t *testing.T) {
	schema := NewStateSchema().
		AddField("a", StateField{Type: reflect.TypeOf("")}).
		AddField("b", StateField{Type: reflect.TypeOf("")})
	state := schema.ApplyUpdate(State{"a": "1", "b": "2"}, State{"a": "10"})
	assert.Equal(t, "10", state["a"])
	assert.Equal(t, "2", state["b"])
}

func TestAppendReducer(t *testing.T) {
	merged := AppendReducer([]any{1, 2}, []any{3})
	assert.Equal(t, []any{1, 2, 3}, merged)

	// Malformed updates are dropped, not merged.
	merged = AppendReducer([]any{1}, "not a slice")
	assert.Equal(t, []any{1}, merged)
}

func TestMergeReducer(t *testing.T) {
	merged := MergeReducer(
		map[string]any{"a": 1, "b": 2},
		map[string]any{"b": 20, "c": 3},
	)
	assert.Equal(t, map[string]any{"a": 1, "b": 20, "c": 3}, merged)
}

func TestMessageReducerAppends(t *testing.T) {
	existing := []model.Message{model.NewUserMessage("hi")}
	update := []model.Message{model.NewAssistantMessage("hello")}
	merged := MessageReducer(existing, update).([]model.Message)
	require.Len(t, merged, 2)
	assert.Equal(t, "hello", merged[1].Content)
}

func TestMessageReducerReplacesByID(t *testing.T) {
	first := model.Message{ID: "m1", Role: model.RoleAssistant, Content: "draft"}
	second := model.Message{ID: "m1", Role: model.RoleAssistant, Content: "final"}
	merged := MessageReducer([]model.Message{first}, []model.Message{second}).([]model.Message)
	require.Len(t, merged, 1)
	assert.Equal(t, "final", merged[0].Content)
}

func TestMessageReducerOrderIndependentForDisjointIDs(t *testing.T) {
	base := []model.Message{{ID: "a", Role: model.RoleUser, Content: "q"}}
	u1 := []model.Message{{ID: "b", Role: model.RoleAssistant, Content: "x"}}
	u2 := []model.Message{{ID: "c", Role: model.RoleTool, Content: "y"}}

	oneTwo := MessageReducer(MessageReducer(base, u1), u2).([]model.Message)
	twoOne := MessageReducer(MessageReducer(base, u2), u1).([]model.Message)

	ids := func(msgs []model.Message) map[string]string {
		set := make(map[string]string, len(msgs))
		for _, m := range msgs {
			set[m.ID] = m.Content
		}
		return set
	}
	assert.Equal(t, ids(oneTwo), ids(twoOne))
	assert.Len(t, oneTwo, 3)
	assert.Len(t, twoOne, 3)
}

func TestValidateRequiredField(t *testing.T) {
	schema := NewStateSchema().AddField("required", StateField{
		Type:     reflect.TypeOf(""),
		Required: true,
	})
	assert.Error(t, schema.Validate(State{}))
	assert.NoError(t, schema.Validate(State{"required": "present"}))
}

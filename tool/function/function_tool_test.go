//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	A    int    `json:"a"`
	B    int    `json:"b"`
	Note string `json:"note,omitempty"`
}

func add(ctx context.Context, in addInput) (int, error) {
	return in.A + in.B, nil
}

func TestFunctionToolCall(t *testing.T) {
	adder := New(add, WithName("add"), WithDescription("adds two integers"))
	result, err := adder.Call(context.Background(), []byte(`{"a": 2, "b": 3}`))
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestFunctionToolCallEmptyArgs(t *testing.T) {
	adder := New(add, WithName("add"))
	result, err := adder.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result)
}

func TestFunctionToolCallBadArgs(t *testing.T) {
	adder := New(add, WithName("add"))
	_, err := adder.Call(context.Background(), []byte(`{"a": "not a number"}`))
	assert.Error(t, err)
}

func TestFunctionToolPropagatesError(t *testing.T) {
	failing := New(func(ctx context.Context, in addInput) (int, error) {
		return 0, errors.New("boom")
	}, WithName("fail"))
	_, err := failing.Call(context.Background(), []byte(`{}`))
	assert.EqualError(t, err, "boom")
}

func TestFunctionToolDeclaration(t *testing.T) {
	adder := New(add, WithName("add"), WithDescription("adds two integers"))
	decl := adder.Declaration()
	assert.Equal(t, "add", decl.Name)
	assert.Equal(t, "adds two integers", decl.Description)

	schema := decl.InputSchema
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "a")
	assert.Equal(t, "integer", schema.Properties["a"].Type)
	require.Contains(t, schema.Properties, "note")
	assert.Equal(t, "string", schema.Properties["note"].Type)
	// omitempty fields are optional.
	assert.ElementsMatch(t, []string{"a", "b"}, schema.Required)
}

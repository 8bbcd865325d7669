//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package tool provides tool interfaces and implementations for the flow engine.
package tool

import (
	"context"
)

// Tool is the minimal interface all tools implement.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool defines the interface for tools that support calling operations.
type CallableTool interface {
	// Call calls the tool with the provided context and JSON-encoded
	// arguments. Returns the result of execution or an error if the
	// operation fails.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// Declaration describes the metadata of a tool: its name, description, and
// expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`
	// Description explains the tool's purpose and functionality.
	Description string `json:"description"`
	// InputSchema defines the expected input in JSON schema format.
	InputSchema *Schema `json:"inputSchema,omitempty"`
	// OutputSchema defines the expected output in JSON schema format.
	OutputSchema *Schema `json:"outputSchema,omitempty"`
}

// Schema represents the structure of JSON Schema used for defining arguments
// and responses. It follows the JSON Schema standard.
type Schema struct {
	// Type specifies the data type (e.g. "object", "array", "string").
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Items defines the schema of array items.
	Items *Schema `json:"items,omitempty"`
	// AdditionalProperties controls whether undeclared properties are allowed.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}

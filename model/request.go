//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"encoding/json"

	"github.com/agentflow-go/agentflow/tool"
)

// Role represents the author of a message.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid checks whether the role is one of the known constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Content part type constants.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image_url"
)

// ContentPart represents one segment of multimodal message content.
// Text parts carry Text; image parts carry an HTTP(S) URL or inline
// base64 data.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	// ID identifies the message for merge deduplication. Optional;
	// messages without an ID are always appended.
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name is an optional author name (e.g. the agent that produced it).
	Name string `json:"name,omitempty"`
	// ContentParts holds multimodal content; when non-empty it takes
	// precedence over Content for providers that support it.
	ContentParts []ContentPart `json:"content_parts,omitempty"`
	// ToolID links a tool response back to the originating call.
	ToolID string `json:"tool_id,omitempty"`
	// ToolCalls holds tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Metadata carries structured side-channel data that never reaches the
	// provider (node tags, accumulated tool records, source documents).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a new tool response message for the given call ID.
func NewToolMessage(toolID, name, content string) Message {
	return Message{Role: RoleTool, ToolID: toolID, Name: name, Content: content}
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// Type of the tool. Currently only `function` is supported.
	Type string `json:"type"`
	// Function holds the call target and arguments.
	Function FunctionCall `json:"function,omitempty"`
	// ID is the call identifier returned by the model.
	ID string `json:"id,omitempty"`
}

// FunctionCall is the function half of a tool call.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`
	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`
	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`
	// Stream enables streaming responses.
	Stream bool `json:"stream,omitempty"`
}

// Request is a request to generate content from a model.
type Request struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	// Tools are bound per request and handled separately from serialization.
	Tools map[string]tool.Tool `json:"-"`
}

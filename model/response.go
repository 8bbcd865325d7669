//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package model

// Object type constants for responses and events.
const (
	// ObjectTypeError is the object type for error events.
	ObjectTypeError = "error"
	// ObjectTypeToolResponse is the object type for tool response events.
	ObjectTypeToolResponse = "tool.response"
	// ObjectTypeChatCompletionChunk is the object type for streamed chunks.
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
	// ObjectTypeChatCompletion is the object type for full completions.
	ObjectTypeChatCompletion = "chat.completion"
	// ObjectTypeApprovalRequest is the object type for human-in-the-loop
	// approval request events.
	ObjectTypeApprovalRequest = "approval.request"
)

// Choice represents a single completion choice.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`
	// Message is the complete message content.
	Message Message `json:"message,omitempty"`
	// Delta is the incremental message content for streaming.
	Delta Message `json:"delta,omitempty"`
	// FinishReason is the reason the choice finished:
	// "stop", "length", "tool_calls", "content_filter".
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage contains token accounting for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError represents an API-level error from the model service.
type ResponseError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Type is the type of error.
	Type string `json:"type"`
}

func (e *ResponseError) Error() string { return e.Message }

// Response is a single (possibly partial) model response.
type Response struct {
	// ID is the unique identifier for this response.
	ID string `json:"id"`
	// Object describes the type of object returned.
	Object string `json:"object"`
	// Created is the Unix timestamp when the response was created.
	Created int64 `json:"created"`
	// Model is the model used to generate the response.
	Model string `json:"model"`
	// Choices are the completion choices.
	Choices []Choice `json:"choices"`
	// Usage is the token usage, present on the final response.
	Usage *Usage `json:"usage,omitempty"`
	// Error is the API-level error, if any.
	Error *ResponseError `json:"error,omitempty"`
	// Done reports whether this is the final response of the stream.
	Done bool `json:"done"`
	// IsPartial reports whether this response is an incremental chunk.
	IsPartial bool `json:"is_partial,omitempty"`
}

// Clone creates a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Choices = make([]Choice, len(r.Choices))
	copy(clone.Choices, r.Choices)
	if r.Usage != nil {
		usage := *r.Usage
		clone.Usage = &usage
	}
	if r.Error != nil {
		respErr := *r.Error
		clone.Error = &respErr
	}
	return &clone
}

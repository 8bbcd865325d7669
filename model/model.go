//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package model provides interfaces for working with LLMs.
package model

import "context"

// Model is the interface for all language models.
//
// Error handling uses a dual-layer approach:
//
// 1. Function-level errors (returned as `error`):
//   - System-level failures that prevent communication
//   - Examples: nil request, network issues, invalid parameters
//
// 2. Response-level errors (Response.Error field):
//   - API-level errors returned by the model service
//   - Examples: rate limits, content filtering, model errors
//   - Delivered through the response channel as structured errors
type Model interface {
	// GenerateContent generates content from the given request.
	//
	// Returns a channel of Response objects for streaming results and an
	// error for system-level failures. Response objects may carry their own
	// Error field for API-level errors.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
	// SupportsToolBinding reports whether the model can accept tool
	// declarations and emit tool calls.
	SupportsToolBinding bool
}

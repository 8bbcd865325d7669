//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-compatible model implementation.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
	"github.com/agentflow-go/agentflow/tool"
)

// defaultChannelBufferSize is the default response channel buffer size.
const defaultChannelBufferSize = 256

// Model implements the model.Model interface for OpenAI-compatible APIs.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
}

type options struct {
	apiKey            string
	baseURL           string
	channelBufferSize int
	openaiOptions     []openaiopt.RequestOption
}

// Option configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.apiKey = key
	}
}

// WithBaseURL sets the base URL, for OpenAI-compatible endpoints.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.baseURL = url
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.channelBufferSize = size
	}
}

// WithOpenAIOptions forwards extra request options to the OpenAI client.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.openaiOptions = append(opts.openaiOptions, openaiOpts...)
	}
}

// New creates a new OpenAI-like model.
func New(name string, opts ...Option) *Model {
	o := &options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.openaiOptions...)
	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:                m.name,
		SupportsToolBinding: true,
	}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan)
		} else {
			m.handleNonStreamingResponse(ctx, chatRequest, responseChan)
		}
	}()
	return responseChan, nil
}

// convertMessages converts our Message format to OpenAI's format.
func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		case model.RoleAssistant:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCalls: convertToolCalls(msg.ToolCalls),
				},
			}
		case model.RoleTool:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolID,
				},
			}
		default:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: convertUserContent(msg),
				},
			}
		}
	}
	return result
}

// convertUserContent converts user message content, including multimodal
// image parts, to OpenAI's content union.
func convertUserContent(msg model.Message) openai.ChatCompletionUserMessageParamContentUnion {
	if len(msg.ContentParts) == 0 {
		return openai.ChatCompletionUserMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	if msg.Content != "" {
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfText: &openai.ChatCompletionContentPartTextParam{Text: msg.Content},
		})
	}
	for _, part := range msg.ContentParts {
		switch part.Type {
		case model.ContentTypeText:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: part.Text},
			})
		case model.ContentTypeImage:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
						URL: part.ImageURL,
					},
				},
			})
		}
	}
	return openai.ChatCompletionUserMessageParamContentUnion{
		OfArrayOfContentParts: parts,
	}
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

func convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		declaration := t.Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

// handleStreamingResponse streams chunks as partial responses and emits a
// final aggregated response once the stream completes.
func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			// Tool call deltas surface only in the final response.
			continue
		}
		response := &model.Response{
			ID:        chunk.ID,
			Object:    model.ObjectTypeChatCompletionChunk,
			Created:   chunk.Created,
			Model:     chunk.Model,
			IsPartial: true,
			Choices: []model.Choice{{
				Delta: model.Message{
					Role:    model.RoleAssistant,
					Content: chunk.Choices[0].Delta.Content,
				},
			}},
		}
		select {
		case responseChan <- response:
		case <-ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil {
		sendError(ctx, responseChan, err)
		return
	}

	final := &model.Response{
		ID:      acc.ID,
		Object:  model.ObjectTypeChatCompletion,
		Created: acc.Created,
		Model:   acc.Model,
		Done:    true,
	}
	if len(acc.Choices) > 0 {
		choice := acc.Choices[0]
		finishReason := string(choice.FinishReason)
		final.Choices = []model.Choice{{
			Message: model.Message{
				Role:      model.RoleAssistant,
				Content:   choice.Message.Content,
				ToolCalls: convertResponseToolCalls(choice.Message.ToolCalls),
			},
			FinishReason: &finishReason,
		}}
	}
	if acc.Usage.TotalTokens > 0 {
		final.Usage = &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
	}
	select {
	case responseChan <- final:
	case <-ctx.Done():
	}
}

// handleNonStreamingResponse issues a single completion request.
func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	completion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		sendError(ctx, responseChan, err)
		return
	}
	response := &model.Response{
		ID:      completion.ID,
		Object:  model.ObjectTypeChatCompletion,
		Created: completion.Created,
		Model:   completion.Model,
		Done:    true,
		Usage: &model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for i, choice := range completion.Choices {
		finishReason := string(choice.FinishReason)
		response.Choices = append(response.Choices, model.Choice{
			Index: i,
			Message: model.Message{
				Role:      model.RoleAssistant,
				Content:   choice.Message.Content,
				ToolCalls: convertResponseToolCalls(choice.Message.ToolCalls),
			},
			FinishReason: &finishReason,
		})
	}
	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

func convertResponseToolCalls(toolCalls []openai.ChatCompletionMessageToolCall) []model.ToolCall {
	var result []model.ToolCall
	for _, call := range toolCalls {
		result = append(result, model.ToolCall{
			Type: "function",
			ID:   call.ID,
			Function: model.FunctionCall{
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			},
		})
	}
	return result
}

func sendError(ctx context.Context, responseChan chan<- *model.Response, err error) {
	response := &model.Response{
		Object:  model.ObjectTypeError,
		Created: time.Now().Unix(),
		Done:    true,
		Error: &model.ResponseError{
			Message: err.Error(),
			Type:    "api_error",
		},
	}
	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/agentflow-go/agentflow/event"
	"github.com/agentflow-go/agentflow/graph"
	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/model"
	"github.com/agentflow-go/agentflow/sandbox"
	"github.com/agentflow-go/agentflow/tool"
)

// HistorySelection selects which prior messages the agent's prompt sees.
// The selection affects only the model-visible slice, never what is
// appended to the conversation afterwards.
type HistorySelection string

// History selection modes.
const (
	// HistoryAllMessages exposes the entire conversation.
	HistoryAllMessages HistorySelection = "all_messages"
	// HistoryLastMessage exposes only the most recent non-system message.
	HistoryLastMessage HistorySelection = "last_message"
	// HistoryUserQuestion exposes only the first user message.
	HistoryUserQuestion HistorySelection = "user_question"
	// HistoryEmpty exposes no history at all.
	HistoryEmpty HistorySelection = "empty"
)

// Defaults applied by NewAgentNode.
const (
	defaultMaxIterations  = 10
	defaultApprovalPrompt = "The agent wants to use a tool. Proceed?"
	defaultApproveText    = "Yes"
	defaultRejectText     = "No"
)

// FileStore materializes stored files for multimodal message content.
type FileStore interface {
	GetFile(ctx context.Context, name, chatflowID, chatID string) ([]byte, error)
}

// Config declares one agent node. It is resolved once at node construction
// and immutable afterwards.
type Config struct {
	// Name is the agent's display name, used as the message author.
	// Required.
	Name string
	// NodeID is the graph node ID. Defaults to Name.
	NodeID string
	// Model generates the agent's responses. Required.
	Model model.Model
	// SystemPrompt and HumanPrompt are templates; {var} placeholders are
	// filled from PromptValues and the run input.
	SystemPrompt string
	HumanPrompt  string
	// PromptValues supplies template variable values.
	PromptValues map[string]string
	// Tools is the agent's tool registry, bound to the model per call.
	Tools map[string]tool.CallableTool
	// HistorySelection picks the model-visible conversation slice.
	HistorySelection HistorySelection
	// Interrupt requires human approval before requested tool calls run.
	Interrupt bool
	// MaxIterations bounds the tool-calling loop per turn.
	MaxIterations int
	// ApprovalPrompt, ApproveText and RejectText configure the approval
	// request surfaced to the client when Interrupt is set. These are
	// flow-design-time texts; when left empty, NewAgentNode falls back to
	// "The agent wants to use a tool. Proceed?" with "Yes"/"No" labels.
	ApprovalPrompt string
	ApproveText    string
	RejectText     string
	// FewShot is spliced between the system prompt and the history.
	FewShot []model.Message
	// Images names stored files attached as multimodal content.
	Images []string
	// UpdateState patches custom state after the turn completes.
	UpdateState *UpdateStateConfig
}

// AgentOption configures an agent node's collaborators.
type AgentOption func(*agentOptions)

type agentOptions struct {
	sink        event.Sink
	fileStore   FileStore
	variables   []Variable
	runner      sandbox.Runner
	concurrency int
}

// WithSink sets the event sink for streaming tokens and approval requests.
func WithSink(sink event.Sink) AgentOption {
	return func(opts *agentOptions) {
		opts.sink = sink
	}
}

// WithFileStore sets the store used to materialize image attachments.
func WithFileStore(store FileStore) AgentOption {
	return func(opts *agentOptions) {
		opts.fileStore = store
	}
}

// WithVariables sets the platform variables available to prompt templates
// and update-state resolution.
func WithVariables(variables []Variable) AgentOption {
	return func(opts *agentOptions) {
		opts.variables = variables
	}
}

// WithScriptRunner sets the sandbox used for code-mode update-state rules.
func WithScriptRunner(runner sandbox.Runner) AgentOption {
	return func(opts *agentOptions) {
		opts.runner = runner
	}
}

// WithConcurrency bounds concurrent tool calls within the agent's loop.
func WithConcurrency(n int) AgentOption {
	return func(opts *agentOptions) {
		if n > 0 {
			opts.concurrency = n
		}
	}
}

// AgentNode runs a model over the selected conversation slice, optionally
// in a tool-calling loop, and returns a normalized output as a partial
// state update. With Interrupt set, requested tool calls suspend the run
// until a human decision arrives.
type AgentNode struct {
	name           string
	nodeID         string
	model          model.Model
	systemPrompt   string
	humanPrompt    string
	promptValues   map[string]string
	tools          map[string]tool.CallableTool
	history        HistorySelection
	interrupt      bool
	maxIterations  int
	approvalPrompt string
	approveText    string
	rejectText     string
	fewShot        []model.Message
	images         []string
	updateState    *UpdateStateConfig

	sink      event.Sink
	fileStore FileStore
	vars      map[string]any
	runner    sandbox.Runner
	pool      *ants.Pool
}

// NewAgentNode creates an agent node from its configuration. Configuration
// errors fail here, before the node ever executes.
func NewAgentNode(cfg Config, opts ...AgentOption) (*AgentNode, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %s: model is required", cfg.Name)
	}
	if err := cfg.UpdateState.validate(); err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = cfg.Name
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	approvalPrompt := cfg.ApprovalPrompt
	if approvalPrompt == "" {
		approvalPrompt = defaultApprovalPrompt
	}
	approveText := cfg.ApproveText
	if approveText == "" {
		approveText = defaultApproveText
	}
	rejectText := cfg.RejectText
	if rejectText == "" {
		rejectText = defaultRejectText
	}
	history := cfg.HistorySelection
	if history == "" {
		history = HistoryAllMessages
	}

	options := agentOptions{
		sink:        event.NoopSink{},
		concurrency: defaultToolConcurrency,
	}
	for _, opt := range opts {
		opt(&options)
	}
	var pool *ants.Pool
	if len(cfg.Tools) > 0 {
		var err error
		pool, err = ants.NewPool(options.concurrency)
		if err != nil {
			return nil, fmt.Errorf("agent %s: create tool pool: %w", cfg.Name, err)
		}
	}

	return &AgentNode{
		name:           cfg.Name,
		nodeID:         nodeID,
		model:          cfg.Model,
		systemPrompt:   cfg.SystemPrompt,
		humanPrompt:    cfg.HumanPrompt,
		promptValues:   cfg.PromptValues,
		tools:          cfg.Tools,
		history:        history,
		interrupt:      cfg.Interrupt,
		maxIterations:  maxIterations,
		approvalPrompt: approvalPrompt,
		approveText:    approveText,
		rejectText:     rejectText,
		fewShot:        cfg.FewShot,
		images:         cfg.Images,
		updateState:    cfg.UpdateState,
		sink:           options.sink,
		fileStore:      options.fileStore,
		vars:           FlattenVariables(options.variables),
		runner:         options.runner,
		pool:           pool,
	}, nil
}

// NodeID returns the agent's graph node ID.
func (a *AgentNode) NodeID() string {
	return a.nodeID
}

// Close releases the agent's worker pool.
func (a *AgentNode) Close() {
	if a.pool != nil {
		a.pool.Release()
	}
}

// Func returns the graph node function for this agent.
func (a *AgentNode) Func() graph.NodeFunc {
	return a.run
}

func (a *AgentNode) run(ctx context.Context, state graph.State) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pending := PendingApprovals(state)[a.nodeID]; pending != nil {
		return a.resumeFromApproval(ctx, state, pending)
	}

	flow := FlowValues(state)
	chatID := flowString(flow, FlowKeyChatID)
	streaming := flowBool(flow, FlowKeyStreaming)
	prompt := a.buildPrompt(ctx, state)

	if len(a.tools) > 0 && !a.interrupt {
		output, err := a.runToolLoop(ctx, chatID, streaming, prompt, snapshotFlowInfo(state))
		if err != nil {
			return nil, err
		}
		a.streamRecords(chatID, output)
		return a.buildResult(ctx, state, output, nil)
	}

	content, toolCalls, err := a.callModel(ctx, chatID, streaming, prompt, len(a.tools) > 0)
	if err != nil {
		return nil, err
	}
	if len(toolCalls) > 0 {
		if a.interrupt {
			return a.requestApproval(chatID, content, toolCalls)
		}
		// Without approval the requested calls are handed to the graph's
		// tool node through the routing condition.
		assistant := a.newAgentMessage(content, Output{})
		assistant.ToolCalls = toolCalls
		return graph.State{StateKeyMessages: []model.Message{assistant}}, nil
	}
	return a.buildResult(ctx, state, a.normalizeOutput(content, nil, nil, nil), nil)
}

// requestApproval transitions this node to awaiting approval: the proposed
// calls and the pending record are persisted through the interrupt's state
// update, the client is notified, and the run suspends here.
func (a *AgentNode) requestApproval(chatID, content string, toolCalls []model.ToolCall) (any, error) {
	pending := &PendingApproval{
		NodeID:      a.nodeID,
		ToolCalls:   toolCalls,
		Prompt:      a.approvalPrompt,
		ApproveText: a.approveText,
		RejectText:  a.rejectText,
	}
	assistant := a.newAgentMessage(content, Output{})
	assistant.ToolCalls = toolCalls
	payload := pending.payload()
	a.sink.StreamAction(chatID, payload)
	update := graph.State{
		StateKeyMessages:  []model.Message{assistant},
		StateKeyApprovals: map[string]*PendingApproval{a.nodeID: pending},
		StateKeyUIState:   map[string]any{"pendingApproval": payload},
	}
	return nil, graph.NewInterruptError(payload).WithUpdate(update)
}

// resumeFromApproval drives the awaiting-approval state machine on
// re-entry. An executed tool result tagged with this node completes the
// turn. An approval decision routes the persisted calls onward for
// execution. Anything else re-requests approval rather than assuming the
// calls ran.
func (a *AgentNode) resumeFromApproval(ctx context.Context, state graph.State, pending *PendingApproval) (any, error) {
	results := trailingToolResults(Messages(state), a.nodeID)
	if len(results) > 0 {
		output := a.outputFromToolResults(results)
		flow := FlowValues(state)
		a.streamRecords(flowString(flow, FlowKeyChatID), output)
		return a.buildResult(ctx, state, output, clearApproval(a.nodeID))
	}

	if decision, ok := graph.ResumeValue[any](state, pending.resumeKey()); ok && decisionApproves(decision) {
		// The proposed calls are already the last assistant message; an
		// empty update lets the routing condition send them to the tool
		// node for execution.
		return nil, nil
	}

	flow := FlowValues(state)
	payload := pending.payload()
	a.sink.StreamAction(flowString(flow, FlowKeyChatID), payload)
	return nil, graph.NewInterruptError(payload)
}

// outputFromToolResults reformats already-executed tool results into the
// agent's standard output shape.
func (a *AgentNode) outputFromToolResults(results []model.Message) Output {
	var contents []string
	var usedTools []UsedTool
	var sourceDocuments []SourceDocument
	var artifacts []Artifact
	for _, msg := range results {
		if msg.Content != "" {
			contents = append(contents, msg.Content)
		}
		usedTools = append(usedTools, coerceRecords[UsedTool](msg.Metadata[MetadataKeyUsedTools])...)
		sourceDocuments = append(sourceDocuments, coerceRecords[SourceDocument](msg.Metadata[MetadataKeySourceDocuments])...)
		artifacts = append(artifacts, coerceRecords[Artifact](msg.Metadata[MetadataKeyArtifacts])...)
	}
	return a.normalizeOutput(strings.Join(contents, "\n"), usedTools, sourceDocuments, artifacts)
}

// trailingToolResults collects the uninterrupted run of tool messages at
// the end of the conversation that carry this node's tag, in original
// order.
func trailingToolResults(messages []model.Message, nodeID string) []model.Message {
	var results []model.Message
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != model.RoleTool || messageNodeID(msg) != nodeID {
			break
		}
		results = append([]model.Message{msg}, results...)
	}
	return results
}

// runToolLoop drives the model-call / tool-call cycle until the model
// produces a final answer or the iteration bound is hit.
func (a *AgentNode) runToolLoop(
	ctx context.Context,
	chatID string,
	streaming bool,
	prompt []model.Message,
	info FlowInfo,
) (Output, error) {
	scratch := append([]model.Message{}, prompt...)
	var usedTools []UsedTool
	var sourceDocuments []SourceDocument
	var artifacts []Artifact
	for i := 0; i < a.maxIterations; i++ {
		content, toolCalls, err := a.callModel(ctx, chatID, streaming, scratch, true)
		if err != nil {
			return Output{}, err
		}
		if len(toolCalls) == 0 {
			return a.normalizeOutput(content, usedTools, sourceDocuments, artifacts), nil
		}
		if content != "" {
			a.sink.StreamAgentReasoning(chatID, content)
		}
		assistant := model.NewAssistantMessage(content)
		assistant.ToolCalls = toolCalls
		scratch = append(scratch, assistant)

		results, err := executeCalls(ctx, a.pool, a.tools, toolCalls, info)
		if err != nil {
			return Output{}, err
		}
		for _, result := range results {
			scratch = append(scratch, model.NewToolMessage(result.call.ID, result.call.Function.Name, result.output))
			usedTools = append(usedTools, result.usedTool)
			sourceDocuments = append(sourceDocuments, result.sourceDocuments...)
			artifacts = append(artifacts, result.artifacts...)
		}
	}
	return Output{}, &MaxIterationsError{Limit: a.maxIterations}
}

// callModel issues one model call, forwarding streamed tokens to the sink,
// and returns the final content and any requested tool calls.
func (a *AgentNode) callModel(
	ctx context.Context,
	chatID string,
	streaming bool,
	messages []model.Message,
	bindTools bool,
) (string, []model.ToolCall, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	request := &model.Request{Messages: messages}
	request.Stream = streaming
	if bindTools && len(a.tools) > 0 && a.model.Info().SupportsToolBinding {
		request.Tools = make(map[string]tool.Tool, len(a.tools))
		for name, t := range a.tools {
			request.Tools[name] = t
		}
	}
	responses, err := a.model.GenerateContent(ctx, request)
	if err != nil {
		return "", nil, fmt.Errorf("model call failed: %w", err)
	}

	var accumulated strings.Builder
	var finalContent string
	var toolCalls []model.ToolCall
	for response := range responses {
		if response.Error != nil {
			return "", nil, fmt.Errorf("model call failed: %w", response.Error)
		}
		if response.IsPartial {
			for _, choice := range response.Choices {
				if choice.Delta.Content != "" {
					accumulated.WriteString(choice.Delta.Content)
					a.sink.StreamToken(chatID, choice.Delta.Content)
				}
			}
			continue
		}
		if len(response.Choices) == 0 {
			continue
		}
		msg := response.Choices[0].Message
		if msg.Content != "" {
			finalContent = msg.Content
		} else if len(msg.ContentParts) > 0 {
			finalContent = joinTextParts(msg.ContentParts)
		}
		toolCalls = append(toolCalls, msg.ToolCalls...)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if finalContent == "" {
		finalContent = accumulated.String()
	}
	return finalContent, toolCalls, nil
}

// buildPrompt assembles the model-visible messages: rendered system prompt,
// few-shot examples, the selected history slice, and the optional human
// prompt with image attachments.
func (a *AgentNode) buildPrompt(ctx context.Context, state graph.State) []model.Message {
	flow := FlowValues(state)
	input := flowString(flow, FlowKeyInput)
	history := selectHistory(Messages(state), a.history)

	prompt := make([]model.Message, 0, len(history)+len(a.fewShot)+2)
	if a.systemPrompt != "" {
		prompt = append(prompt, model.NewSystemMessage(a.renderPrompt(a.systemPrompt, input)))
	}
	prompt = append(prompt, a.fewShot...)
	prompt = append(prompt, history...)
	if a.humanPrompt != "" || len(a.images) > 0 {
		human := model.NewUserMessage(a.renderPrompt(a.humanPrompt, input))
		human.ContentParts = a.imageParts(ctx, flow)
		prompt = append(prompt, human)
	}
	return prompt
}

// selectHistory returns the model-visible slice of the conversation for a
// selection mode.
func selectHistory(messages []model.Message, mode HistorySelection) []model.Message {
	switch mode {
	case HistoryEmpty:
		return nil
	case HistoryUserQuestion:
		for _, msg := range messages {
			if msg.Role == model.RoleUser {
				return []model.Message{msg}
			}
		}
		return nil
	case HistoryLastMessage:
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role != model.RoleSystem {
				return []model.Message{messages[i]}
			}
		}
		return nil
	default:
		return messages
	}
}

// renderPrompt fills {var} placeholders from the configured values and the
// run input. Prompts containing a colon have their braces escaped first so
// structured content (e.g. inline JSON) is not mistaken for placeholders.
func (a *AgentNode) renderPrompt(template, input string) string {
	values := make(map[string]string, len(a.promptValues)+1)
	for k, v := range a.promptValues {
		values[k] = v
	}
	if _, ok := values["question"]; !ok {
		values["question"] = input
	}
	return renderTemplate(escapeReservedBraces(template), values)
}

// escapeReservedBraces doubles every brace when the content contains a
// colon, turning would-be placeholders into literals.
func escapeReservedBraces(s string) string {
	if !strings.Contains(s, ":") {
		return s
	}
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}

// renderTemplate substitutes {key} placeholders and collapses escaped
// double braces back to literals.
func renderTemplate(template string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		switch template[i] {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			if end := strings.IndexByte(template[i:], '}'); end > 0 {
				if value, ok := values[template[i+1:i+end]]; ok {
					b.WriteString(value)
					i += end + 1
					continue
				}
			}
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
		}
		b.WriteByte(template[i])
		i++
	}
	return b.String()
}

// imageParts materializes the configured image attachments as inline data
// URLs. A failed retrieval degrades to a turn without that image.
func (a *AgentNode) imageParts(ctx context.Context, flow map[string]any) []model.ContentPart {
	if len(a.images) == 0 {
		return nil
	}
	if a.fileStore == nil {
		log.Warnf("agent %s: images configured but no file store available", a.name)
		return nil
	}
	chatflowID := flowString(flow, FlowKeyChatflowID)
	chatID := flowString(flow, FlowKeyChatID)
	var parts []model.ContentPart
	for _, name := range a.images {
		data, err := a.fileStore.GetFile(ctx, name, chatflowID, chatID)
		if err != nil {
			log.Warnf("agent %s: skipping image %s: %v", a.name, name, err)
			continue
		}
		parts = append(parts, model.ContentPart{
			Type:     model.ContentTypeImage,
			ImageURL: "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}
	return parts
}

// imageMarkdownPattern matches markdown image references.
var imageMarkdownPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]*)\)`)

// normalizeOutput builds the agent's standard output shape: array-shaped
// content collapsed to a string and locally-referenced image markdown
// stripped.
func (a *AgentNode) normalizeOutput(
	content string,
	usedTools []UsedTool,
	sourceDocuments []SourceDocument,
	artifacts []Artifact,
) Output {
	return Output{
		Content:         stripLocalImages(collapseArrayContent(content)),
		UsedTools:       usedTools,
		SourceDocuments: sourceDocuments,
		Artifacts:       artifacts,
	}
}

// stripLocalImages removes image markdown whose target is not an HTTP(S)
// URL; only remotely fetchable image links survive.
func stripLocalImages(content string) string {
	return imageMarkdownPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := imageMarkdownPattern.FindStringSubmatch(match)
		url := strings.TrimSpace(sub[1])
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			return match
		}
		return ""
	})
}

// collapseArrayContent flattens array-shaped model output like
// [{"text": "..."}] into a single string.
func collapseArrayContent(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "[") {
		return content
	}
	var parts []map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parts); err != nil {
		return content
	}
	var texts []string
	for _, part := range parts {
		if text, ok := part["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return content
	}
	return strings.Join(texts, "")
}

// joinTextParts concatenates the text segments of multimodal content.
func joinTextParts(parts []model.ContentPart) string {
	var texts []string
	for _, part := range parts {
		if part.Type == model.ContentTypeText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "")
}

// buildResult finalizes a completed turn: the update-state rules are
// resolved against the flow context, and the partial update carries the
// tagged agent message, the accumulated records, and the custom-state
// patch.
func (a *AgentNode) buildResult(
	ctx context.Context,
	state graph.State,
	output Output,
	approvalUpdate map[string]*PendingApproval,
) (any, error) {
	patch, err := a.resolveStatePatch(ctx, state, output)
	if err != nil {
		return nil, err
	}

	message := a.newAgentMessage(output.Content, output)
	update := graph.State{
		StateKeyMessages:           []model.Message{message},
		graph.StateKeyLastResponse: output.Content,
	}
	if len(output.UsedTools) > 0 || len(output.SourceDocuments) > 0 || len(output.Artifacts) > 0 {
		update[StateKeyFlow] = accumulateFlowRecords(
			FlowValues(state), output.UsedTools, output.SourceDocuments, output.Artifacts)
	}
	if patch != nil {
		update[StateKeyState] = patch
	}
	if approvalUpdate != nil {
		update[StateKeyApprovals] = approvalUpdate
		// Drop the pending-approval payload surfaced to the client at
		// suspension time.
		update[StateKeyUIState] = map[string]any{}
	}
	return update, nil
}

// newAgentMessage creates the agent's tagged assistant message. A non-zero
// output attaches the turn's records as side-channel metadata.
func (a *AgentNode) newAgentMessage(content string, output Output) model.Message {
	message := model.NewAssistantMessage(content)
	message.ID = uuid.New().String()
	message.Name = a.name
	message.Metadata = map[string]any{MetadataKeyNodeID: a.nodeID}
	if len(output.UsedTools) > 0 {
		message.Metadata[MetadataKeyUsedTools] = output.UsedTools
	}
	if len(output.SourceDocuments) > 0 {
		message.Metadata[MetadataKeySourceDocuments] = output.SourceDocuments
	}
	if len(output.Artifacts) > 0 {
		message.Metadata[MetadataKeyArtifacts] = output.Artifacts
	}
	return message
}

// resolveStatePatch evaluates the configured update-state rules against the
// per-invocation flow context.
func (a *AgentNode) resolveStatePatch(ctx context.Context, state graph.State, output Output) (map[string]any, error) {
	if a.updateState == nil {
		return nil, nil
	}
	flow := FlowValues(state)
	flowCtx := FlowContext{
		ChatflowID: flowString(flow, FlowKeyChatflowID),
		SessionID:  flowString(flow, FlowKeySessionID),
		ChatID:     flowString(flow, FlowKeyChatID),
		Input:      flowString(flow, FlowKeyInput),
		Output:     output,
		State:      CustomState(state),
		Vars:       a.vars,
	}
	patch, err := ResolveUpdateState(ctx, a.updateState, flowCtx, a.runner)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}
	return patch, nil
}

// streamRecords notifies the sink of the turn's accumulated tool records.
func (a *AgentNode) streamRecords(chatID string, output Output) {
	if len(output.UsedTools) > 0 {
		a.sink.StreamUsedTools(chatID, output.UsedTools)
	}
	if len(output.SourceDocuments) > 0 {
		a.sink.StreamSourceDocuments(chatID, output.SourceDocuments)
	}
	if len(output.Artifacts) > 0 {
		a.sink.StreamArtifacts(chatID, output.Artifacts)
	}
}

// coerceRecords converts metadata values back to typed records. Values read
// from a hydrated checkpoint arrive as JSON-shaped maps rather than typed
// slices, so both forms are handled.
func coerceRecords[T any](value any) []T {
	if value == nil {
		return nil
	}
	if typed, ok := value.([]T); ok {
		return typed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

func flowBool(flow map[string]any, key string) bool {
	value, _ := flow[key].(bool)
	return value
}

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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow-go/agentflow/graph"
	"github.com/agentflow-go/agentflow/model"
	"github.com/agentflow-go/agentflow/tool"
	"github.com/agentflow-go/agentflow/tool/function"
)

// scriptedModel plays back canned response batches, one batch per call, and
// records the requests it received.
type scriptedModel struct {
	mu       sync.Mutex
	batches  [][]*model.Response
	requests []*model.Request
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", SupportsToolBinding: true}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, request)
	if len(m.batches) == 0 {
		return nil, errors.New("no scripted response left")
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	ch := make(chan *model.Response, len(batch))
	for _, response := range batch {
		ch <- response
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) script(batches ...[]*model.Response) *scriptedModel {
	m.batches = append(m.batches, batches...)
	return m
}

func finalResponse(content string, calls ...model.ToolCall) []*model.Response {
	msg := model.NewAssistantMessage(content)
	msg.ToolCalls = calls
	return []*model.Response{{
		Object:  model.ObjectTypeChatCompletion,
		Choices: []model.Choice{{Message: msg}},
		Done:    true,
	}}
}

func partialThenFinal(tokens ...string) []*model.Response {
	var responses []*model.Response
	for _, token := range tokens {
		responses = append(responses, &model.Response{
			Object:    model.ObjectTypeChatCompletionChunk,
			Choices:   []model.Choice{{Delta: model.Message{Content: token}}},
			IsPartial: true,
		})
	}
	return append(responses, &model.Response{
		Object: model.ObjectTypeChatCompletion,
		Done:   true,
	})
}

func flowState(input string) graph.State {
	return graph.State{
		StateKeyMessages: []model.Message{model.NewUserMessage(input)},
		StateKeyFlow: map[string]any{
			FlowKeyChatID: "c1",
			FlowKeyInput:  input,
		},
	}
}

func TestNewAgentNodeValidation(t *testing.T) {
	_, err := NewAgentNode(Config{Model: &scriptedModel{}})
	assert.Error(t, err)
	_, err = NewAgentNode(Config{Name: "a"})
	assert.Error(t, err)
	_, err = NewAgentNode(Config{
		Name:        "a",
		Model:       &scriptedModel{},
		UpdateState: &UpdateStateConfig{Rules: []UpdateRule{{Key: "k"}}, Code: "x"},
	})
	assert.Error(t, err)
}

func TestAgentSimpleAnswer(t *testing.T) {
	m := (&scriptedModel{}).script(finalResponse("the answer"))
	agent, err := NewAgentNode(Config{
		Name:         "writer",
		Model:        m,
		SystemPrompt: "You answer questions.",
	})
	require.NoError(t, err)
	defer agent.Close()

	result, err := agent.Func()(context.Background(), flowState("question?"))
	require.NoError(t, err)
	update := result.(graph.State)

	assert.Equal(t, "the answer", update[graph.StateKeyLastResponse])
	messages, _ := update[StateKeyMessages].([]model.Message)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleAssistant, messages[0].Role)
	assert.Equal(t, "writer", messages[0].Name)
	assert.Equal(t, "writer", messageNodeID(messages[0]))
	assert.NotEmpty(t, messages[0].ID)

	// The prompt was the rendered system prompt plus the history.
	require.Len(t, m.requests, 1)
	prompt := m.requests[0].Messages
	require.Len(t, prompt, 2)
	assert.Equal(t, model.RoleSystem, prompt[0].Role)
	assert.Equal(t, "question?", prompt[1].Content)
}

func TestAgentStreamsTokens(t *testing.T) {
	m := (&scriptedModel{}).script(partialThenFinal("hel", "lo"))
	sink := &recordingSink{}
	agent, err := NewAgentNode(Config{Name: "writer", Model: m}, WithSink(sink))
	require.NoError(t, err)
	defer agent.Close()

	state := flowState("hi")
	FlowValues(state)[FlowKeyStreaming] = true
	result, err := agent.Func()(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"hel", "lo"}, sink.tokens)
	// Without a final message body the accumulated tokens are the answer.
	assert.Equal(t, "hello", result.(graph.State)[graph.StateKeyLastResponse])
	assert.True(t, m.requests[0].Stream)
}

func TestAgentToolLoop(t *testing.T) {
	m := (&scriptedModel{}).script(
		finalResponse("", echoCall("call-1", "ping")),
		finalResponse("pong received"),
	)
	agent, err := NewAgentNode(Config{
		Name:  "worker",
		Model: m,
		Tools: map[string]tool.CallableTool{"echo": echoTool("")},
	})
	require.NoError(t, err)
	defer agent.Close()

	result, err := agent.Func()(context.Background(), flowState("ping the tool"))
	require.NoError(t, err)
	update := result.(graph.State)

	assert.Equal(t, "pong received", update[graph.StateKeyLastResponse])
	flow, _ := update[StateKeyFlow].(map[string]any)
	usedTools, _ := flow[FlowKeyUsedTools].([]UsedTool)
	require.Len(t, usedTools, 1)
	assert.Equal(t, "echo", usedTools[0].Tool)
	assert.Equal(t, "ping", usedTools[0].ToolOutput)

	messages, _ := update[StateKeyMessages].([]model.Message)
	require.Len(t, messages, 1)
	records := coerceRecords[UsedTool](messages[0].Metadata[MetadataKeyUsedTools])
	require.Len(t, records, 1)
	assert.Equal(t, "echo", records[0].Tool)

	// The second call saw the assistant's request and the tool result.
	require.Len(t, m.requests, 2)
	second := m.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, model.RoleAssistant, second[1].Role)
	assert.Equal(t, model.RoleTool, second[2].Role)
	assert.Equal(t, "call-1", second[2].ToolID)
}

func TestAgentToolLoopBindsTools(t *testing.T) {
	m := (&scriptedModel{}).script(finalResponse("no tools needed"))
	agent, err := NewAgentNode(Config{
		Name:  "worker",
		Model: m,
		Tools: map[string]tool.CallableTool{"echo": echoTool("")},
	})
	require.NoError(t, err)
	defer agent.Close()

	_, err = agent.Func()(context.Background(), flowState("hi"))
	require.NoError(t, err)
	require.Len(t, m.requests, 1)
	assert.Contains(t, m.requests[0].Tools, "echo")
}

func TestAgentToolLoopMaxIterations(t *testing.T) {
	m := (&scriptedModel{}).script(
		finalResponse("", echoCall("call-1", "a")),
		finalResponse("", echoCall("call-2", "b")),
	)
	agent, err := NewAgentNode(Config{
		Name:          "worker",
		Model:         m,
		Tools:         map[string]tool.CallableTool{"echo": echoTool("")},
		MaxIterations: 1,
	})
	require.NoError(t, err)
	defer agent.Close()

	_, err = agent.Func()(context.Background(), flowState("loop"))
	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 1, maxErr.Limit)
}

func TestAgentCancelledBeforeEntry(t *testing.T) {
	m := (&scriptedModel{}).script(finalResponse("never"))
	agent, err := NewAgentNode(Config{Name: "writer", Model: m})
	require.NoError(t, err)
	defer agent.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := agent.Func()(ctx, flowState("q"))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	// The model was never called.
	assert.Empty(t, m.requests)
}

func TestAgentToolLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := function.New(func(ctx context.Context, in echoInput) (string, error) {
		cancel()
		return in.Text, nil
	}, function.WithName("echo"))

	m := (&scriptedModel{}).script(
		finalResponse("", echoCall("call-1", "x")),
		finalResponse("never reached"),
	)
	agent, err := NewAgentNode(Config{
		Name:  "worker",
		Model: m,
		Tools: map[string]tool.CallableTool{"echo": cancelling},
	})
	require.NoError(t, err)
	defer agent.Close()

	result, err := agent.Func()(ctx, flowState("go"))
	// The cancellation check before the second model call stops the loop;
	// no partial update escapes the node.
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, m.requests, 1)
}

func TestAgentStreamsReasoningBetweenToolCalls(t *testing.T) {
	m := (&scriptedModel{}).script(
		finalResponse("let me check", echoCall("call-1", "x")),
		finalResponse("checked"),
	)
	sink := &recordingSink{}
	agent, err := NewAgentNode(Config{
		Name:  "worker",
		Model: m,
		Tools: map[string]tool.CallableTool{"echo": echoTool("")},
	}, WithSink(sink))
	require.NoError(t, err)
	defer agent.Close()

	_, err = agent.Func()(context.Background(), flowState("go"))
	require.NoError(t, err)
	assert.Equal(t, []any{"let me check"}, sink.reasoning)
}

func TestAgentInterruptRequestsApproval(t *testing.T) {
	m := (&scriptedModel{}).script(finalResponse("", echoCall("call-1", "x")))
	sink := &recordingSink{}
	agent, err := NewAgentNode(Config{
		Name:           "guarded",
		Model:          m,
		Tools:          map[string]tool.CallableTool{"echo": echoTool("")},
		Interrupt:      true,
		ApprovalPrompt: "run it?",
	}, WithSink(sink))
	require.NoError(t, err)
	defer agent.Close()

	_, err = agent.Func()(context.Background(), flowState("do the thing"))
	interrupt, ok := graph.AsInterruptError(err)
	require.True(t, ok)

	// The client was notified and the same payload rides the interrupt.
	require.Len(t, sink.actions, 1)
	payload, _ := interrupt.Value.(map[string]any)
	require.NotNil(t, payload)
	assert.Equal(t, "run it?", payload["prompt"])

	// The pending calls and the approval record are persisted through the
	// interrupt's state update.
	require.NotNil(t, interrupt.Update)
	messages, _ := interrupt.Update[StateKeyMessages].([]model.Message)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].ToolCalls, 1)
	assert.Equal(t, "guarded", messageNodeID(messages[0]))

	approvals, _ := interrupt.Update[StateKeyApprovals].(map[string]*PendingApproval)
	require.Contains(t, approvals, "guarded")
	assert.Equal(t, "run it?", approvals["guarded"].Prompt)
}

func TestAgentResumeConsumesExecutedToolResults(t *testing.T) {
	m := &scriptedModel{}
	agent, err := NewAgentNode(Config{
		Name:      "guarded",
		Model:     m,
		Tools:     map[string]tool.CallableTool{"echo": echoTool("")},
		Interrupt: true,
	})
	require.NoError(t, err)
	defer agent.Close()

	toolMsg := model.NewToolMessage("call-1", "echo", "executed output")
	toolMsg.Metadata = map[string]any{
		MetadataKeyNodeID:    "guarded",
		MetadataKeyUsedTools: []UsedTool{{Tool: "echo", ToolOutput: "executed output"}},
	}
	state := flowState("do the thing")
	state[StateKeyMessages] = append(Messages(state), toolMsg)
	state[StateKeyApprovals] = map[string]*PendingApproval{
		"guarded": {NodeID: "guarded", ToolCalls: []model.ToolCall{echoCall("call-1", "x")}},
	}

	result, err := agent.Func()(context.Background(), state)
	require.NoError(t, err)
	update := result.(graph.State)

	// No model call happens on this path.
	assert.Empty(t, m.requests)
	assert.Equal(t, "executed output", update[graph.StateKeyLastResponse])
	assert.Equal(t, clearApproval("guarded"), update[StateKeyApprovals])
	// The pending-approval payload surfaced at suspension time is cleared
	// along with the approval record.
	assert.Equal(t, map[string]any{}, update[StateKeyUIState])

	flow, _ := update[StateKeyFlow].(map[string]any)
	usedTools, _ := flow[FlowKeyUsedTools].([]UsedTool)
	require.Len(t, usedTools, 1)
	assert.Equal(t, "echo", usedTools[0].Tool)
}

func TestAgentResumeApprovedRoutesToTools(t *testing.T) {
	agent, err := NewAgentNode(Config{
		Name:      "guarded",
		Model:     &scriptedModel{},
		Tools:     map[string]tool.CallableTool{"echo": echoTool("")},
		Interrupt: true,
	})
	require.NoError(t, err)
	defer agent.Close()

	state := flowState("do the thing")
	state[StateKeyApprovals] = map[string]*PendingApproval{
		"guarded": {NodeID: "guarded", ToolCalls: []model.ToolCall{echoCall("call-1", "x")}},
	}
	state[graph.StateKeyResumeMap] = map[string]any{"approval:guarded": true}

	// A nil result leaves the persisted assistant tool calls as the last
	// message, so the routing condition sends them to the tool node.
	result, err := agent.Func()(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAgentResumeWithoutDecisionReinterrupts(t *testing.T) {
	sink := &recordingSink{}
	agent, err := NewAgentNode(Config{
		Name:      "guarded",
		Model:     &scriptedModel{},
		Tools:     map[string]tool.CallableTool{"echo": echoTool("")},
		Interrupt: true,
	}, WithSink(sink))
	require.NoError(t, err)
	defer agent.Close()

	state := flowState("do the thing")
	state[StateKeyApprovals] = map[string]*PendingApproval{
		"guarded": {NodeID: "guarded", Prompt: "still waiting"},
	}

	_, err = agent.Func()(context.Background(), state)
	assert.True(t, graph.IsInterruptError(err))
	require.Len(t, sink.actions, 1)
}

func TestAgentResumeRejectedReinterrupts(t *testing.T) {
	agent, err := NewAgentNode(Config{
		Name:      "guarded",
		Model:     &scriptedModel{},
		Tools:     map[string]tool.CallableTool{"echo": echoTool("")},
		Interrupt: true,
	})
	require.NoError(t, err)
	defer agent.Close()

	state := flowState("do the thing")
	state[StateKeyApprovals] = map[string]*PendingApproval{"guarded": {NodeID: "guarded"}}
	state[graph.StateKeyResumeMap] = map[string]any{"approval:guarded": false}

	_, err = agent.Func()(context.Background(), state)
	assert.True(t, graph.IsInterruptError(err))
}

func TestAgentAppliesUpdateStateRules(t *testing.T) {
	m := (&scriptedModel{}).script(finalResponse("final text"))
	agent, err := NewAgentNode(Config{
		Name:  "writer",
		Model: m,
		UpdateState: &UpdateStateConfig{Rules: []UpdateRule{
			{Key: "answer", Value: "$flow.output.content"},
			{Key: "who", Value: "$vars.author"},
		}},
	}, WithVariables([]Variable{{Name: "author", Type: VariableStatic, Value: "me"}}))
	require.NoError(t, err)
	defer agent.Close()

	result, err := agent.Func()(context.Background(), flowState("q"))
	require.NoError(t, err)
	patch, _ := result.(graph.State)[StateKeyState].(map[string]any)
	assert.Equal(t, "final text", patch["answer"])
	assert.Equal(t, "me", patch["who"])
}

func TestSelectHistory(t *testing.T) {
	messages := []model.Message{
		model.NewSystemMessage("sys"),
		model.NewUserMessage("first question"),
		model.NewAssistantMessage("answer"),
		model.NewUserMessage("second question"),
	}
	tests := []struct {
		mode HistorySelection
		want []string
	}{
		{HistoryAllMessages, []string{"sys", "first question", "answer", "second question"}},
		{HistoryLastMessage, []string{"second question"}},
		{HistoryUserQuestion, []string{"first question"}},
		{HistoryEmpty, nil},
	}
	for _, tt := range tests {
		got := selectHistory(messages, tt.mode)
		var contents []string
		for _, msg := range got {
			contents = append(contents, msg.Content)
		}
		assert.Equal(t, tt.want, contents, string(tt.mode))
	}
}

func TestSelectHistoryLastMessageSkipsSystem(t *testing.T) {
	messages := []model.Message{
		model.NewUserMessage("question"),
		model.NewSystemMessage("sys"),
	}
	got := selectHistory(messages, HistoryLastMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "question", got[0].Content)
}

func TestRenderTemplate(t *testing.T) {
	values := map[string]string{"name": "Ada", "question": "why?"}
	assert.Equal(t, "Hello Ada, you asked why?",
		renderTemplate("Hello {name}, you asked {question}", values))
	// Unknown placeholders pass through untouched.
	assert.Equal(t, "keep {unknown}", renderTemplate("keep {unknown}", values))
	// Doubled braces collapse to literals.
	assert.Equal(t, `{"a": 1}`, renderTemplate(`{{"a": 1}}`, values))
}

func TestEscapeReservedBraces(t *testing.T) {
	// Content with a colon is treated as structured; braces become literals.
	assert.Equal(t, `{{"k": "v"}}`, escapeReservedBraces(`{"k": "v"}`))
	// Plain templates keep their placeholders.
	assert.Equal(t, "hi {name}", escapeReservedBraces("hi {name}"))
}

func TestRenderPromptSubstitutesQuestion(t *testing.T) {
	agent, err := NewAgentNode(Config{Name: "a", Model: &scriptedModel{}})
	require.NoError(t, err)
	defer agent.Close()
	assert.Equal(t, "Answer this; what is up",
		agent.renderPrompt("Answer this; {question}", "what is up"))
}

func TestNormalizeOutputCollapsesArrayContent(t *testing.T) {
	agent, err := NewAgentNode(Config{Name: "a", Model: &scriptedModel{}})
	require.NoError(t, err)
	defer agent.Close()

	out := agent.normalizeOutput(`[{"text": "part one "}, {"text": "part two"}]`, nil, nil, nil)
	assert.Equal(t, "part one part two", out.Content)

	// Non-array content passes through.
	out = agent.normalizeOutput("plain", nil, nil, nil)
	assert.Equal(t, "plain", out.Content)
}

func TestStripLocalImages(t *testing.T) {
	content := "before ![local](file:///tmp/x.png) middle ![remote](https://example.com/x.png) after"
	stripped := stripLocalImages(content)
	assert.NotContains(t, stripped, "file:///tmp/x.png")
	assert.Contains(t, stripped, "https://example.com/x.png")
}

func TestCoerceRecordsFromHydratedJSON(t *testing.T) {
	// Checkpoint hydration turns typed metadata into JSON-shaped values.
	hydrated := []any{map[string]any{"tool": "echo", "toolOutput": "out"}}
	records := coerceRecords[UsedTool](hydrated)
	require.Len(t, records, 1)
	assert.Equal(t, "echo", records[0].Tool)
	assert.Equal(t, "out", records[0].ToolOutput)

	typed := []UsedTool{{Tool: "direct"}}
	assert.Equal(t, typed, coerceRecords[UsedTool](typed))
	assert.Nil(t, coerceRecords[UsedTool](nil))
}

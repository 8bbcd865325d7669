//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package event

// Sink receives UI-facing streaming events keyed by chat ID. The engine
// calls these fire-and-forget: implementations own their retry and
// backpressure policy, and a failing sink never fails a run.
type Sink interface {
	// StreamToken forwards a single generated token.
	StreamToken(chatID, token string)
	// StreamAgentReasoning forwards intermediate agent reasoning payloads.
	StreamAgentReasoning(chatID string, payload any)
	// StreamNextAgent announces the next agent about to execute.
	StreamNextAgent(chatID, agentName string)
	// StreamSourceDocuments forwards retrieved source documents.
	StreamSourceDocuments(chatID string, documents any)
	// StreamUsedTools forwards the tools used in the current turn.
	StreamUsedTools(chatID string, usedTools any)
	// StreamArtifacts forwards artifacts produced in the current turn.
	StreamArtifacts(chatID string, artifacts any)
	// StreamAction forwards a human-in-the-loop approval request.
	StreamAction(chatID string, approvalPayload any)
	// StreamAbort signals that the run was aborted.
	StreamAbort(chatID string)
	// StreamEnd signals the end of the run.
	StreamEnd(chatID string)
}

// NoopSink discards all events. It is the default when no sink is configured.
type NoopSink struct{}

// StreamToken implements Sink.
func (NoopSink) StreamToken(chatID, token string) {}

// StreamAgentReasoning implements Sink.
func (NoopSink) StreamAgentReasoning(chatID string, payload any) {}

// StreamNextAgent implements Sink.
func (NoopSink) StreamNextAgent(chatID, agentName string) {}

// StreamSourceDocuments implements Sink.
func (NoopSink) StreamSourceDocuments(chatID string, documents any) {}

// StreamUsedTools implements Sink.
func (NoopSink) StreamUsedTools(chatID string, usedTools any) {}

// StreamArtifacts implements Sink.
func (NoopSink) StreamArtifacts(chatID string, artifacts any) {}

// StreamAction implements Sink.
func (NoopSink) StreamAction(chatID string, approvalPayload any) {}

// StreamAbort implements Sink.
func (NoopSink) StreamAbort(chatID string) {}

// StreamEnd implements Sink.
func (NoopSink) StreamEnd(chatID string) {}

// SinkEvent is one streamed event as delivered by a ChannelSink.
type SinkEvent struct {
	// Type names the sink method that produced the event: "token",
	// "agent_reasoning", "next_agent", "source_documents", "used_tools",
	// "artifacts", "action", "abort", "end".
	Type    string
	ChatID  string
	Payload any
}

// ChannelSink forwards events to a buffered channel. When the channel is
// full the event is dropped; sinks never block or fail a run.
type ChannelSink struct {
	events chan SinkEvent
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelSink{events: make(chan SinkEvent, bufferSize)}
}

// Events returns the channel events are delivered on.
func (s *ChannelSink) Events() <-chan SinkEvent {
	return s.events
}

// Close closes the event channel. No sink method may be called afterwards.
func (s *ChannelSink) Close() {
	close(s.events)
}

func (s *ChannelSink) send(eventType, chatID string, payload any) {
	select {
	case s.events <- SinkEvent{Type: eventType, ChatID: chatID, Payload: payload}:
	default:
	}
}

// StreamToken implements Sink.
func (s *ChannelSink) StreamToken(chatID, token string) { s.send("token", chatID, token) }

// StreamAgentReasoning implements Sink.
func (s *ChannelSink) StreamAgentReasoning(chatID string, payload any) {
	s.send("agent_reasoning", chatID, payload)
}

// StreamNextAgent implements Sink.
func (s *ChannelSink) StreamNextAgent(chatID, agentName string) {
	s.send("next_agent", chatID, agentName)
}

// StreamSourceDocuments implements Sink.
func (s *ChannelSink) StreamSourceDocuments(chatID string, documents any) {
	s.send("source_documents", chatID, documents)
}

// StreamUsedTools implements Sink.
func (s *ChannelSink) StreamUsedTools(chatID string, usedTools any) {
	s.send("used_tools", chatID, usedTools)
}

// StreamArtifacts implements Sink.
func (s *ChannelSink) StreamArtifacts(chatID string, artifacts any) {
	s.send("artifacts", chatID, artifacts)
}

// StreamAction implements Sink.
func (s *ChannelSink) StreamAction(chatID string, approvalPayload any) {
	s.send("action", chatID, approvalPayload)
}

// StreamAbort implements Sink.
func (s *ChannelSink) StreamAbort(chatID string) { s.send("abort", chatID, nil) }

// StreamEnd implements Sink.
func (s *ChannelSink) StreamEnd(chatID string) { s.send("end", chatID, nil) }

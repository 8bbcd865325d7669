//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkDelivers(t *testing.T) {
	sink := NewChannelSink(4)
	sink.StreamToken("c1", "hi")
	sink.StreamUsedTools("c1", []string{"echo"})
	sink.StreamEnd("c1")
	sink.Close()

	var received []SinkEvent
	for evt := range sink.Events() {
		received = append(received, evt)
	}
	require.Len(t, received, 3)
	assert.Equal(t, SinkEvent{Type: "token", ChatID: "c1", Payload: "hi"}, received[0])
	assert.Equal(t, "used_tools", received[1].Type)
	assert.Equal(t, "end", received[2].Type)
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.StreamToken("c1", "kept")
	// The buffer is full; this must not block.
	sink.StreamToken("c1", "dropped")
	sink.Close()

	var received []SinkEvent
	for evt := range sink.Events() {
		received = append(received, evt)
	}
	require.Len(t, received, 1)
	assert.Equal(t, "kept", received[0].Payload)
}

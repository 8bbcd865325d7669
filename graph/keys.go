//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package graph

// Internal state keys. Keys with the double-underscore prefix never appear
// in user-declared schemas and are stripped before checkpointing.
const (
	// StateKeyResume holds a single pending resume value.
	StateKeyResume = "__resume__"
	// StateKeyResumeMap maps interrupt keys to pending resume values.
	StateKeyResumeMap = "__resume_map__"
	// StateKeyUsedInterrupts tracks consumed interrupts for replay stability.
	StateKeyUsedInterrupts = "__used_interrupts__"
)

// StateKeyLastResponse holds the last normalized agent output as a plain
// string, surfaced in the completion event.
const StateKeyLastResponse = "last_response"

// Checkpoint Metadata.Source enumeration values.
const (
	// SourceInput marks a checkpoint created from initial input.
	SourceInput = "input"
	// SourceLoop marks a checkpoint created inside the execution loop.
	SourceLoop = "loop"
	// SourceInterrupt marks a checkpoint created by an interrupt.
	SourceInterrupt = "interrupt"
)

//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package seqagent

import "fmt"

// ToolNotFoundError reports a tool call referencing a name absent from the
// tool registry.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found in registry", e.Tool)
}

// MaxIterationsError reports a tool-calling loop exceeding its iteration
// bound without producing a final answer.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("agent exceeded maximum iterations (%d) without a final answer", e.Limit)
}

// MissingKeyError reports an update-state table row without a key.
type MissingKeyError struct {
	Row int
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("update state row %d has no key", e.Row)
}

// InvalidReturnTypeError reports a code-mode update-state script returning
// something other than a plain object.
type InvalidReturnTypeError struct {
	Got string
}

func (e *InvalidReturnTypeError) Error() string {
	return fmt.Sprintf("update state script must return an object, got %s", e.Got)
}

//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

// Errors.
var (
	ErrLineageIDRequired  = errors.New("lineage_id is required")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNoEntryPoint       = errors.New("no entry point found")
	ErrNilInvocation      = errors.New("invocation is nil")
)

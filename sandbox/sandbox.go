//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package sandbox executes user-supplied scripts in an isolated JavaScript
// interpreter. Scripts see only the values explicitly bound for the call:
// there is no module system, no filesystem and no network access.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 10 * time.Second

// Runner executes a script body with the given bindings in scope and
// returns whatever the script returns.
type Runner interface {
	Run(ctx context.Context, code string, bindings map[string]any) (any, error)
}

// GojaRunner is a Runner backed by the goja JavaScript interpreter. A fresh
// VM is created per call, so runners are safe for concurrent use and scripts
// cannot leak state into each other.
type GojaRunner struct {
	timeout time.Duration
}

// Option configures a GojaRunner.
type Option func(*GojaRunner)

// WithTimeout sets the per-execution timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *GojaRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewGojaRunner creates a new sandboxed JavaScript runner.
func NewGojaRunner(opts ...Option) *GojaRunner {
	runner := &GojaRunner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run executes the script body wrapped as a function, with each binding set
// as a global. The script's return value is exported as plain Go data
// (maps, slices, strings, float64, bool).
func (r *GojaRunner) Run(ctx context.Context, code string, bindings map[string]any) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	wrapped := fmt.Sprintf("(function() {\n%s\n})()", code)
	value, err := vm.RunString(wrapped)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("script execution failed: %w", err)
	}
	return normalize(value.Export()), nil
}

// normalize flattens goja's exported values into plain JSON-shaped Go data.
func normalize(value any) any {
	switch value.(type) {
	case nil, string, bool, float64, int64, map[string]any, []any:
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"

	"github.com/agentflow-go/agentflow/log"
	"github.com/agentflow-go/agentflow/sandbox"
)

// Output is an agent node's normalized result: the final content plus the
// tool records accumulated during the turn.
type Output struct {
	Content         string           `json:"content"`
	UsedTools       []UsedTool       `json:"usedTools,omitempty"`
	SourceDocuments []SourceDocument `json:"sourceDocuments,omitempty"`
	Artifacts       []Artifact       `json:"artifacts,omitempty"`
}

// FlowContext is the immutable resolution namespace for update-state rules,
// built once per node completion. Rules address it as $flow.<path>; the
// flattened variables are also reachable as $vars.<name>.
type FlowContext struct {
	ChatflowID string         `json:"chatflowId"`
	SessionID  string         `json:"sessionId"`
	ChatID     string         `json:"chatId"`
	Input      string         `json:"input"`
	Output     Output         `json:"output"`
	State      map[string]any `json:"state"`
	Vars       map[string]any `json:"vars"`
}

// UpdateRule is one row of a table-mode update-state configuration.
type UpdateRule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UpdateStateConfig declares how to patch custom state after a node
// finishes. Rules and Code are mutually exclusive.
type UpdateStateConfig struct {
	// Rules is the declarative key/value table.
	Rules []UpdateRule `json:"rules,omitempty"`
	// Code is a script returning the patch object, run in the sandbox with
	// flow and vars bound.
	Code string `json:"code,omitempty"`
}

// validate checks the configuration at node build time.
func (c *UpdateStateConfig) validate() error {
	if c == nil {
		return nil
	}
	if len(c.Rules) > 0 && c.Code != "" {
		return errors.New("update state: rules and code are mutually exclusive")
	}
	for i, rule := range c.Rules {
		if rule.Key == "" {
			return &MissingKeyError{Row: i}
		}
	}
	return nil
}

// ResolveUpdateState evaluates an update-state configuration against the
// flow context and returns the custom state patch. Table rows resolve
// $flow/$vars paths; anything else is a literal. A path that misses (bad
// key, index out of range) yields nil for that row rather than an error.
func ResolveUpdateState(
	ctx context.Context,
	cfg *UpdateStateConfig,
	flowCtx FlowContext,
	runner sandbox.Runner,
) (map[string]any, error) {
	if cfg == nil {
		return nil, nil
	}
	if cfg.Code != "" {
		return resolveCodeMode(ctx, cfg.Code, flowCtx, runner)
	}
	if len(cfg.Rules) == 0 {
		return nil, nil
	}
	namespace, err := flowNamespace(flowCtx)
	if err != nil {
		return nil, err
	}
	patch := make(map[string]any, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		if rule.Key == "" {
			return nil, &MissingKeyError{Row: i}
		}
		patch[rule.Key] = resolveRuleValue(rule.Value, namespace)
	}
	return patch, nil
}

// resolveRuleValue resolves one table value: a $flow/$vars path lookup or a
// literal.
func resolveRuleValue(value string, namespace map[string]any) any {
	path, ok := lookupPath(value)
	if !ok {
		return value
	}
	resolved, err := jsonpath.JsonPathLookup(namespace, path)
	if err != nil {
		// Misses resolve to nil, matching the path-lookup contract.
		log.Debugf("update state: path %s did not resolve: %v", value, err)
		return nil
	}
	return resolved
}

// lookupPath translates a $flow/$vars reference into a JSONPath over the
// flow namespace.
func lookupPath(value string) (string, bool) {
	switch {
	case value == "$flow":
		return "$", true
	case strings.HasPrefix(value, "$flow.") || strings.HasPrefix(value, "$flow["):
		return "$" + value[len("$flow"):], true
	case strings.HasPrefix(value, "$vars.") || strings.HasPrefix(value, "$vars["):
		return "$.vars" + value[len("$vars"):], true
	}
	return "", false
}

// resolveCodeMode runs the user script in the sandbox and validates that it
// returned a plain object.
func resolveCodeMode(
	ctx context.Context,
	code string,
	flowCtx FlowContext,
	runner sandbox.Runner,
) (map[string]any, error) {
	if runner == nil {
		return nil, errors.New("update state: no script runner configured")
	}
	namespace, err := flowNamespace(flowCtx)
	if err != nil {
		return nil, err
	}
	result, err := runner.Run(ctx, code, map[string]any{
		"flow": namespace,
		"vars": flowCtx.Vars,
	})
	if err != nil {
		return nil, fmt.Errorf("update state script: %w", err)
	}
	patch, ok := result.(map[string]any)
	if !ok {
		return nil, &InvalidReturnTypeError{Got: fmt.Sprintf("%T", result)}
	}
	return patch, nil
}

// flowNamespace converts the typed flow context into the JSON-shaped map
// that path lookups and scripts operate on.
func flowNamespace(flowCtx FlowContext) (map[string]any, error) {
	data, err := json.Marshal(flowCtx)
	if err != nil {
		return nil, fmt.Errorf("build flow namespace: %w", err)
	}
	var namespace map[string]any
	if err := json.Unmarshal(data, &namespace); err != nil {
		return nil, fmt.Errorf("build flow namespace: %w", err)
	}
	return namespace, nil
}

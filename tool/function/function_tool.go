//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

// Package function provides a generic wrapper for exposing plain Go
// functions as callable tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/agentflow-go/agentflow/tool"
)

// FunctionTool implements the CallableTool interface for executing functions
// with JSON arguments.
type FunctionTool[I, O any] struct {
	name        string
	description string
	inputSchema *tool.Schema
	fn          func(context.Context, I) (O, error)
}

// Option configures a FunctionTool.
type Option func(*options)

type options struct {
	name        string
	description string
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// New creates a FunctionTool wrapping fn. The input schema is derived from
// the JSON structure of I.
func New[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var zero I
	return &FunctionTool[I, O]{
		name:        o.name,
		description: o.description,
		inputSchema: schemaOf(reflect.TypeOf(zero)),
		fn:          fn,
	}
}

// Declaration returns the tool metadata.
func (t *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        t.name,
		Description: t.description,
		InputSchema: t.inputSchema,
	}
}

// Call unmarshals jsonArgs into I and invokes the wrapped function.
func (t *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("tool %s: unmarshal arguments: %w", t.name, err)
		}
	}
	return t.fn(ctx, input)
}

// schemaOf derives a JSON schema from a Go type. Struct fields use their
// json tags; unexported and "-" fields are skipped.
func schemaOf(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: schemaOf(t.Elem())}
	case reflect.Struct:
		schema := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			required := true
			if tag, ok := field.Tag.Lookup("json"); ok {
				parts := strings.Split(tag, ",")
				if parts[0] == "-" {
					continue
				}
				if parts[0] != "" {
					name = parts[0]
				}
				for _, p := range parts[1:] {
					if p == "omitempty" {
						required = false
					}
				}
			}
			schema.Properties[name] = schemaOf(field.Type)
			if required {
				schema.Required = append(schema.Required, name)
			}
		}
		return schema
	default:
		return &tool.Schema{Type: "object"}
	}
}

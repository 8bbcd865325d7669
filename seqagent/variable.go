//
// Tencent is pleased to support the open source community by making agentflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// agentflow is licensed under the Apache License Version 2.0.
//
//

package seqagent

import "os"

// VariableType distinguishes platform variables resolved at design time
// from ones resolved from the process environment at use time.
type VariableType string

// Variable type constants.
const (
	// VariableStatic passes the declared value through as-is.
	VariableStatic VariableType = "static"
	// VariableRuntime resolves the value from the environment variable
	// named by the variable's name, at use time.
	VariableRuntime VariableType = "runtime"
)

// Variable is one platform-declared variable available to prompt templates
// and update-state resolution as $vars.<name>.
type Variable struct {
	Name  string       `json:"name"`
	Type  VariableType `json:"type"`
	Value string       `json:"value"`
}

// FlattenVariables resolves a variable list into a name-to-value map.
// Runtime variables are read from the environment eagerly so later lookups
// see a stable snapshot.
func FlattenVariables(variables []Variable) map[string]any {
	flattened := make(map[string]any, len(variables))
	for _, variable := range variables {
		if variable.Type == VariableRuntime {
			flattened[variable.Name] = os.Getenv(variable.Name)
			continue
		}
		flattened[variable.Name] = variable.Value
	}
	return flattened
}

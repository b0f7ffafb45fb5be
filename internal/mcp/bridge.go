package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FunctionTools converts discovered tool definitions into the function
// descriptors model APIs take:
//
//	{"type": "function", "function": {"name": ..., "description": ..., "parameters": {...}}}
//
// Order is preserved. A tool without an input schema gets an empty
// object schema. A schema that is not a JSON object is an error, since
// the model could never produce valid arguments for it.
func FunctionTools(defs []ToolDefinition) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(defs))
	for _, td := range defs {
		if td.Name == "" {
			return nil, fmt.Errorf("tool definition without a name")
		}
		params, err := schemaObject(td.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", td.Name, err)
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        td.Name,
				"description": td.Description,
				"parameters":  params,
			},
		})
	}
	return out, nil
}

func schemaObject(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return nil, fmt.Errorf("input schema is not a JSON object: %w", err)
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema, nil
}

// FilterTools applies include and exclude lists by tool name. When
// include is non-empty only listed tools pass and exclude is ignored;
// otherwise tools named in exclude are dropped.
func FilterTools(defs []ToolDefinition, include, exclude []string) []ToolDefinition {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	out := make([]ToolDefinition, 0, len(defs))
	for _, td := range defs {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}
		out = append(out, td)
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

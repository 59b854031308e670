// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tools holds the tool registry and executor. Tools shuttle data and
// execution between the model and the host; their only outputs to the engine
// are the return value and an optional progress channel.
package tools

import (
	"context"
	"encoding/json"
)

// Source identifies where a tool definition came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceMCP     Source = "mcp"
	SourcePlugin  Source = "plugin"
)

// SecurityLevel gates how freely a tool may run.
type SecurityLevel string

const (
	SecurityPublic   SecurityLevel = "public"
	SecurityModerate SecurityLevel = "moderate"
	SecurityStrict   SecurityLevel = "strict"
)

// Info is the static description of one tool.
type Info struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Category        string        `json:"category,omitempty"`
	Description     string        `json:"description"`
	SecurityLevel   SecurityLevel `json:"securityLevel"`
	SupportsParallel bool         `json:"supportsParallel,omitempty"`
	EnabledByDefault bool         `json:"enabledByDefault"`
	Source           Source       `json:"source"`
	// SupportedByModels restricts the tool to the listed model ids; empty
	// means every model. UnsupportedByModels excludes specific models and
	// wins on conflict.
	SupportedByModels   []string `json:"supportedByModels,omitempty"`
	UnsupportedByModels []string `json:"unsupportedByModels,omitempty"`
}

// Schema is a JSON Schema for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Format      string             `json:"format,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *Schema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(description string, properties map[string]*Schema, required []string) *Schema {
	return &Schema{Type: "object", Description: description, Properties: properties, Required: required}
}

// StringSchema creates a string schema.
func StringSchema(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// NumberSchema creates a number schema.
func NumberSchema(description string) *Schema {
	return &Schema{Type: "number", Description: description}
}

// BooleanSchema creates a boolean schema.
func BooleanSchema(description string) *Schema {
	return &Schema{Type: "boolean", Description: description}
}

// ArraySchema creates an array schema.
func ArraySchema(description string, items *Schema) *Schema {
	return &Schema{Type: "array", Description: description, Items: items}
}

// WithEnum adds enum values to the schema.
func (s *Schema) WithEnum(values ...any) *Schema {
	s.Enum = values
	return s
}

// Normalize ensures object schemas carry non-nil properties and that types
// are present where the structure makes them unambiguous. Some providers
// reject schemas that omit these.
func Normalize(schema *Schema) *Schema {
	if schema == nil {
		return nil
	}
	if schema.Type == "" {
		switch {
		case schema.Properties != nil:
			schema.Type = "object"
		case schema.Items != nil:
			schema.Type = "array"
		case len(schema.Enum) > 0:
			schema.Type = "string"
		}
	}
	if schema.Type == "object" {
		if schema.Properties == nil {
			schema.Properties = make(map[string]*Schema)
		}
		for key, prop := range schema.Properties {
			schema.Properties[key] = Normalize(prop)
		}
	}
	if schema.Type == "array" && schema.Items != nil {
		schema.Items = Normalize(schema.Items)
	}
	return schema
}

// Error is a structured tool failure.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Result is the outcome of one tool execution.
type Result struct {
	Success bool `json:"success"`
	// Output is the tool's result payload; format varies by tool.
	Output any    `json:"output,omitempty"`
	Error  *Error `json:"error,omitempty"`
	// DurationMs is the measured execution time. Validation failures carry
	// zero.
	DurationMs int64 `json:"durationMs"`
}

// ExecContext carries the execution environment a tool runs in.
type ExecContext struct {
	SessionID string
	MessageID string
	// Progress receives structured progress updates when non-nil. Tools must
	// not block on it.
	Progress chan<- any
}

// Tool is one executable capability.
type Tool interface {
	// Info returns the tool's static description.
	Info() Info
	// InputSchema returns the JSON Schema for the tool's arguments.
	InputSchema() *Schema
	// Execute runs the tool. Implementations honor ctx cancellation.
	Execute(ctx context.Context, args map[string]any, execCtx ExecContext) (any, error)
}

// SupportsModel reports whether the tool may be offered to the model.
func (i Info) SupportsModel(modelID string) bool {
	for _, m := range i.UnsupportedByModels {
		if m == modelID {
			return false
		}
	}
	if len(i.SupportedByModels) == 0 {
		return true
	}
	for _, m := range i.SupportedByModels {
		if m == modelID {
			return true
		}
	}
	return false
}

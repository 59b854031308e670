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

// Package provider defines the uniform LLM provider capability: configure,
// enumerate models, and open a streaming completion. Concrete adapters live
// in subpackages and register by id at startup.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/teradata-labs/skein/pkg/models"
)

// ConfigField describes one provider configuration input.
type ConfigField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Secret      bool   `json:"secret,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Config is the provider's configuration mapping (apiKey, endpoint, ...).
type Config map[string]string

// APIKey returns the conventional apiKey entry.
func (c Config) APIKey() string {
	return c["apiKey"]
}

// ModelDetails carries per-model limits and pricing from a live provider.
type ModelDetails struct {
	ContextLength int     `json:"contextLength"`
	MaxOutput     int     `json:"maxOutput"`
	InputPrice    float64 `json:"inputPrice"`
	OutputPrice   float64 `json:"outputPrice"`
}

// EventKind discriminates provider stream events.
type EventKind string

const (
	TextStart      EventKind = "text-start"
	TextDelta      EventKind = "text-delta"
	TextEnd        EventKind = "text-end"
	ReasoningStart EventKind = "reasoning-start"
	ReasoningDelta EventKind = "reasoning-delta"
	ReasoningEnd   EventKind = "reasoning-end"
	ToolInputStart EventKind = "tool-input-start"
	ToolInputDelta EventKind = "tool-input-delta"
	ToolInputEnd   EventKind = "tool-input-end"
	ToolCall       EventKind = "tool-call"
	File           EventKind = "file"
	Finish         EventKind = "finish"
)

// Usage is the provider-reported token accounting for a completion.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Event is one element of a provider completion stream.
type Event struct {
	Kind EventKind `json:"kind"`

	// text-delta, reasoning-delta
	Text string `json:"text,omitempty"`

	// tool-input-*, tool-call
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	InputDelta string         `json:"inputDelta,omitempty"`
	Input      map[string]any `json:"input,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	Base64    string `json:"base64,omitempty"`

	// finish
	Usage        Usage  `json:"usage,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// Stream is a lazy sequence of provider events. Recv blocks for the next
// event and returns io.EOF once the stream is exhausted; Close releases
// provider resources early. Recv honors the context the stream was opened
// with.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// ContentKind discriminates model message content parts.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentFile       ContentKind = "file"
	ContentReasoning  ContentKind = "reasoning"
	ContentToolCall   ContentKind = "tool-call"
	ContentToolResult ContentKind = "tool-result"
)

// ContentPart is one element of a model message.
type ContentPart struct {
	Kind ContentKind `json:"kind"`

	Text string `json:"text,omitempty"`

	// file
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool-call / tool-result
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Result     any            `json:"result,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

// ModelMessage is one model-facing message built by the context assembler.
type ModelMessage struct {
	Role    string        `json:"role"` // user, assistant, system
	Content []ContentPart `json:"content"`
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) ModelMessage {
	return ModelMessage{Role: role, Content: []ContentPart{{Kind: ContentText, Text: text}}}
}

// ToolSchema is the provider-facing description of one callable tool.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// Request is one completion request.
type Request struct {
	Model     string         `json:"model"`
	Messages  []ModelMessage `json:"messages"`
	Tools     []ToolSchema   `json:"tools,omitempty"`
	MaxTokens int            `json:"maxTokens,omitempty"`
}

// Provider is the uniform adapter over one LLM backend.
type Provider interface {
	// ID is the stable provider identifier ("anthropic", "openrouter").
	ID() string
	// Name is the human-readable provider name.
	Name() string
	// Description is a one-line provider description.
	Description() string
	// ConfigSchema describes the provider's configuration fields.
	ConfigSchema() []ConfigField
	// IsConfigured reports whether the config suffices to open completions.
	IsConfigured(config Config) bool
	// FetchModels enumerates the provider's models. Results are cached per
	// (provider, apiKey-prefix) for an hour and retried on network errors.
	FetchModels(ctx context.Context, config Config) ([]models.Model, error)
	// ModelDetails returns per-model limits, or nil for unknown models.
	ModelDetails(ctx context.Context, modelID string, config Config) (*ModelDetails, error)
	// OpenCompletion opens a streaming completion. The stream honors ctx
	// cancellation and releases provider resources promptly.
	OpenCompletion(ctx context.Context, config Config, req Request) (Stream, error)
}

// Registry holds the registered providers. Immutable after startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any previous registration of the id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get looks up a provider by id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
	return p, nil
}

// List returns all registered providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

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

// Package models is the catalog of providers and models with their input,
// output, and tool capabilities. The catalog is immutable after
// initialization; prompt assembly and the streaming engine consult it for
// capability checks and context limits.
package models

import (
	"sort"
	"sync"
)

// Capability is one model input/output modality.
type Capability string

const (
	CapText  Capability = "text"
	CapImage Capability = "image"
	CapVideo Capability = "video"
	CapAudio Capability = "audio"
	CapFile  Capability = "file"
	CapTools Capability = "tools"
)

// ReasoningMode describes whether a model emits reasoning content.
type ReasoningMode string

const (
	ReasoningYes  ReasoningMode = "yes"
	ReasoningNo   ReasoningMode = "no"
	ReasoningAuto ReasoningMode = "auto"
)

// ModelStatus is the catalog status of a model.
type ModelStatus string

const (
	ModelActive     ModelStatus = "active"
	ModelDeprecated ModelStatus = "deprecated"
	ModelBeta       ModelStatus = "beta"
)

// Pricing is per-million-token cost in USD.
type Pricing struct {
	InputPerMTok  float64 `json:"inputPerMTok"`
	OutputPerMTok float64 `json:"outputPerMTok"`
}

// Model is one catalog entry.
type Model struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"providerId"`
	Name       string        `json:"name"`
	MaxContext int           `json:"maxContext"`
	Input      []Capability  `json:"input"`
	Output     []Capability  `json:"output"`
	Pricing    *Pricing      `json:"pricing,omitempty"`
	Reasoning  ReasoningMode `json:"reasoning"`
	Status     ModelStatus   `json:"status"`
	// Tokenizer names the tiktoken encoding used for this model's token
	// accounting.
	Tokenizer string `json:"tokenizer,omitempty"`
}

// SupportsInput reports whether the model accepts the capability as input.
func (m Model) SupportsInput(c Capability) bool {
	for _, cap := range m.Input {
		if cap == c {
			return true
		}
	}
	return false
}

// SupportsOutput reports whether the model can produce the capability.
func (m Model) SupportsOutput(c Capability) bool {
	for _, cap := range m.Output {
		if cap == c {
			return true
		}
	}
	return false
}

// ProviderInfo is one provider catalog entry.
type ProviderInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is the static model catalog. Effectively immutable after Register
// calls at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderInfo
	models    map[string]Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]ProviderInfo),
		models:    make(map[string]Model),
	}
}

// RegisterProvider adds a provider to the catalog.
func (r *Registry) RegisterProvider(info ProviderInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[info.ID] = info
}

// RegisterModel adds a model to the catalog, replacing any entry with the
// same id.
func (r *Registry) RegisterModel(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Tokenizer == "" {
		m.Tokenizer = "cl100k_base"
	}
	r.models[m.ID] = m
}

// GetAllProviders returns all providers sorted by id.
func (r *Registry) GetAllProviders() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAllModels returns all models sorted by id.
func (r *Registry) GetAllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetModel looks up a model by id.
func (r *Registry) GetModel(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// GetModelsByProvider returns the provider's models sorted by id.
func (r *Registry) GetModelsByProvider(providerID string) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Model
	for _, m := range r.models {
		if m.ProviderID == providerID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ModelSupportsInput reports whether the model accepts the capability.
// Unknown models support nothing.
func (r *Registry) ModelSupportsInput(modelID string, c Capability) bool {
	m, ok := r.GetModel(modelID)
	return ok && m.SupportsInput(c)
}

// ModelSupportsOutput reports whether the model can produce the capability.
func (r *Registry) ModelSupportsOutput(modelID string, c Capability) bool {
	m, ok := r.GetModel(modelID)
	return ok && m.SupportsOutput(c)
}

// MaxContext returns the model's context window, or a conservative default
// for unknown models.
func (r *Registry) MaxContext(modelID string) int {
	if m, ok := r.GetModel(modelID); ok && m.MaxContext > 0 {
		return m.MaxContext
	}
	return 128000
}

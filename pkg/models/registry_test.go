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
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCatalog(t *testing.T) {
	r := NewRegistry()
	r.RegisterProvider(ProviderInfo{ID: "anthropic", Name: "Anthropic"})
	r.RegisterProvider(ProviderInfo{ID: "openrouter", Name: "OpenRouter"})
	r.RegisterModel(Model{
		ID: "claude-sonnet-4-5", ProviderID: "anthropic", MaxContext: 200000,
		Input:  []Capability{CapText, CapImage, CapTools},
		Output: []Capability{CapText},
	})
	r.RegisterModel(Model{
		ID: "meta-llama/llama-3-8b", ProviderID: "openrouter", MaxContext: 8192,
		Input:  []Capability{CapText},
		Output: []Capability{CapText},
	})

	providers := r.GetAllProviders()
	require.Len(t, providers, 2)
	assert.Equal(t, "anthropic", providers[0].ID)

	m, ok := r.GetModel("claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, 200000, m.MaxContext)

	byProvider := r.GetModelsByProvider("openrouter")
	require.Len(t, byProvider, 1)
	assert.Equal(t, "meta-llama/llama-3-8b", byProvider[0].ID)
}

func TestCapabilityChecks(t *testing.T) {
	r := NewRegistry()
	r.RegisterModel(Model{
		ID: "vision", ProviderID: "p",
		Input:  []Capability{CapText, CapImage, CapTools},
		Output: []Capability{CapText, CapImage},
	})
	r.RegisterModel(Model{
		ID: "text-only", ProviderID: "p",
		Input:  []Capability{CapText},
		Output: []Capability{CapText},
	})

	assert.True(t, r.ModelSupportsInput("vision", CapImage))
	assert.True(t, r.ModelSupportsOutput("vision", CapImage))
	assert.False(t, r.ModelSupportsInput("text-only", CapImage))
	assert.False(t, r.ModelSupportsInput("text-only", CapTools))

	// Unknown models support nothing.
	assert.False(t, r.ModelSupportsInput("missing", CapText))
	assert.False(t, r.ModelSupportsOutput("missing", CapText))
}

func TestMaxContextDefaults(t *testing.T) {
	r := NewRegistry()
	r.RegisterModel(Model{ID: "big", ProviderID: "p", MaxContext: 200000})
	r.RegisterModel(Model{ID: "unsized", ProviderID: "p"})

	assert.Equal(t, 200000, r.MaxContext("big"))
	assert.Equal(t, 128000, r.MaxContext("unsized"))
	assert.Equal(t, 128000, r.MaxContext("missing"))
}

func TestRegisterModelDefaultsTokenizer(t *testing.T) {
	r := NewRegistry()
	r.RegisterModel(Model{ID: "m", ProviderID: "p"})
	m, ok := r.GetModel("m")
	require.True(t, ok)
	assert.Equal(t, "cl100k_base", m.Tokenizer)

	r.RegisterModel(Model{ID: "m2", ProviderID: "p", Tokenizer: "o200k_base"})
	m2, _ := r.GetModel("m2")
	assert.Equal(t, "o200k_base", m2.Tokenizer)
}

func TestRegisterModelReplaces(t *testing.T) {
	r := NewRegistry()
	r.RegisterModel(Model{ID: "m", ProviderID: "p", MaxContext: 1000})
	r.RegisterModel(Model{ID: "m", ProviderID: "p", MaxContext: 2000})
	require.Len(t, r.GetAllModels(), 1)
	m, _ := r.GetModel("m")
	assert.Equal(t, 2000, m.MaxContext)
}

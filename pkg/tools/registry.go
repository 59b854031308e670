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

package tools

import (
	"sort"
	"sync"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same id.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Info().ID] = tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// Get retrieves a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Filter selects tools from the registry. Zero values match everything.
type Filter struct {
	Category      string
	SecurityLevel SecurityLevel
	ModelID       string
	EnabledOnly   bool
}

func (f Filter) matches(info Info) bool {
	if f.Category != "" && info.Category != f.Category {
		return false
	}
	if f.SecurityLevel != "" && info.SecurityLevel != f.SecurityLevel {
		return false
	}
	if f.ModelID != "" && !info.SupportsModel(f.ModelID) {
		return false
	}
	if f.EnabledOnly && !info.EnabledByDefault {
		return false
	}
	return true
}

// List returns tools matching the filter, sorted by id.
func (r *Registry) List(filter Filter) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, tool := range r.tools {
		if filter.matches(tool.Info()) {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().ID < out[j].Info().ID })
	return out
}

// ListAll returns every registered tool sorted by id.
func (r *Registry) ListAll() []Tool {
	return r.List(Filter{})
}

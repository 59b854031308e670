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

// Package triggers evaluates rule-based system-message insertions before
// each turn. Rules are edge triggered through session flags: a rule does not
// re-fire while its entered flag is set, and fires a clearing notification
// when the condition recedes.
package triggers

import (
	"context"
	"sort"
	"sync"

	"github.com/teradata-labs/skein/pkg/types"
)

// Context carries the per-turn inputs a rule evaluates against.
type Context struct {
	// CurrentTokens and MaxTokens describe context window usage entering
	// this turn.
	CurrentTokens int
	MaxTokens     int
}

// SystemMessage is one advisory a rule wants inserted before the turn.
type SystemMessage struct {
	Content     string
	MessageType string
}

// Result is the outcome of one rule evaluation.
type Result struct {
	SystemMessage *SystemMessage
	// FlagUpdates are merged across rules and applied to the session in one
	// write.
	FlagUpdates map[string]bool
}

// Rule is one registered trigger.
type Rule interface {
	ID() string
	Priority() int
	Enabled() bool
	// Evaluate returns nil when the rule has nothing to say this turn.
	Evaluate(ctx context.Context, session *types.Session, tctx Context) (*Result, error)
}

// Registry holds the rule set.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds a rule, replacing any rule with the same id.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID()] = rule
}

// Get looks up a rule by id.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// List returns all rules sorted by descending priority, ties by id.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Evaluation is the merged outcome of a full rule pass.
type Evaluation struct {
	// SystemMessages are ordered by rule priority.
	SystemMessages []SystemMessage
	// FlagUpdates is the merged flag patch; empty when no rule changed
	// state.
	FlagUpdates map[string]bool
}

// Evaluate runs the enabled rules for a session. When the session carries
// enabled-rule ids, only those rules run; otherwise every enabled rule runs.
func (r *Registry) Evaluate(ctx context.Context, session *types.Session, tctx Context) (*Evaluation, error) {
	rules := r.List()
	if len(session.EnabledRuleIDs) > 0 {
		allowed := make(map[string]bool, len(session.EnabledRuleIDs))
		for _, id := range session.EnabledRuleIDs {
			allowed[id] = true
		}
		filtered := rules[:0]
		for _, rule := range rules {
			if allowed[rule.ID()] {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}

	eval := &Evaluation{FlagUpdates: map[string]bool{}}
	for _, rule := range rules {
		if !rule.Enabled() {
			continue
		}
		result, err := rule.Evaluate(ctx, session, tctx)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}
		if result.SystemMessage != nil {
			eval.SystemMessages = append(eval.SystemMessages, *result.SystemMessage)
		}
		for k, v := range result.FlagUpdates {
			eval.FlagUpdates[k] = v
		}
	}
	return eval, nil
}

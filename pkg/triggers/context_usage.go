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

package triggers

import (
	"context"
	"fmt"

	"github.com/teradata-labs/skein/pkg/types"
)

// ContextUsageRule warns when context window usage crosses a threshold and
// notifies again when usage drops back below it. The session flag records
// which side of the edge the session is on.
type ContextUsageRule struct {
	id        string
	flag      string
	threshold float64
	priority  int
}

// NewContextUsage80 warns at 80% context usage.
func NewContextUsage80() *ContextUsageRule {
	return &ContextUsageRule{id: "context-usage-80", flag: "contextWarning80", threshold: 0.80, priority: 100}
}

// NewContextUsage90 warns at 90% context usage.
func NewContextUsage90() *ContextUsageRule {
	return &ContextUsageRule{id: "context-usage-90", flag: "contextWarning90", threshold: 0.90, priority: 110}
}

func (r *ContextUsageRule) ID() string    { return r.id }
func (r *ContextUsageRule) Priority() int { return r.priority }
func (r *ContextUsageRule) Enabled() bool { return true }

// Evaluate fires on threshold crossings in either direction. Usage exactly
// at the threshold counts as entered.
func (r *ContextUsageRule) Evaluate(_ context.Context, session *types.Session, tctx Context) (*Result, error) {
	if tctx.MaxTokens <= 0 {
		return nil, nil
	}
	usage := float64(tctx.CurrentTokens) / float64(tctx.MaxTokens)
	entered := session.Flags[r.flag]

	if usage >= r.threshold && !entered {
		return &Result{
			SystemMessage: &SystemMessage{
				Content: fmt.Sprintf(
					"Context usage has reached %.1f%% of the %d token window. Consider compacting the session.",
					usage*100, tctx.MaxTokens),
				MessageType: "context-warning",
			},
			FlagUpdates: map[string]bool{r.flag: true},
		}, nil
	}
	if usage < r.threshold && entered {
		return &Result{
			SystemMessage: &SystemMessage{
				Content: fmt.Sprintf(
					"Context usage has dropped back below %.0f%% of the token window.",
					r.threshold*100),
				MessageType: "context-warning-cleared",
			},
			FlagUpdates: map[string]bool{r.flag: false},
		}, nil
	}
	return nil, nil
}

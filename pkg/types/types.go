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

// Package types contains the shared session data model. It sits below every
// other skein package so the store, engine, and server can exchange sessions,
// messages, and parts without import cycles.
package types

import (
	"time"
)

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus is the lifecycle state of a message. A message starts active
// and transitions exactly once into one of the terminal states.
type MessageStatus string

const (
	StatusActive    MessageStatus = "active"
	StatusCompleted MessageStatus = "completed"
	StatusError     MessageStatus = "error"
	StatusAbort     MessageStatus = "abort"
)

// Terminal reports whether the status is a terminal state.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAbort
}

// CanTransitionTo reports whether the transition s -> next is permitted.
// Only active -> {completed, error, abort} is allowed; terminal states and
// self-transitions are frozen.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	return s == StatusActive && next.Terminal()
}

// Usage tracks prompt and completion token counts for a message or step.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is a single item on a session's todo list. IDs are unique within the
// session and assigned from the session's monotonically increasing counter.
type Todo struct {
	ID         int        `json:"id"`
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TodoStatus `json:"status"`
	Ordering   int        `json:"ordering"`
}

// Step groups the parts produced by one LLM turn-within-a-turn (for example
// one tool round-trip). Steps are dense and 0-indexed within a message.
type Step struct {
	Index      int    `json:"index"`
	Parts      []Part `json:"parts"`
	Usage      *Usage `json:"usage,omitempty"`
	DurationMs int64  `json:"duration,omitempty"`
}

// Message is one entry in a session's conversation. Messages are append-only:
// once persisted, the only permitted mutation is the status transition and
// in-place finalization of the trailing text/reasoning part of a step.
type Message struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	Role         MessageRole    `json:"role"`
	Steps        []Step         `json:"steps"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       MessageStatus  `json:"status"`
	Usage        *Usage         `json:"usage,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	TodoSnapshot []Todo         `json:"todoSnapshot,omitempty"`
}

// Parts returns the message's parts flattened across steps, in order.
func (m *Message) Parts() []Part {
	var parts []Part
	for _, step := range m.Steps {
		parts = append(parts, step.Parts...)
	}
	return parts
}

// Text returns the concatenated content of all text parts in the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts() {
		if p.Type == PartText {
			out += p.Content
		}
	}
	return out
}

// Session is one conversation owned by an agent against a fixed
// provider/model pair. A session exclusively owns its messages, todos, and
// file-content references; deleting the session cascades.
type Session struct {
	ID                string          `json:"id"`
	Provider          string          `json:"provider"`
	Model             string          `json:"model"`
	AgentID           string          `json:"agentId,omitempty"`
	EnabledRuleIDs    []string        `json:"enabledRuleIds,omitempty"`
	Title             string          `json:"title,omitempty"`
	Created           time.Time       `json:"created"`
	Updated           time.Time       `json:"updated"`
	Flags             map[string]bool `json:"flags,omitempty"`
	BaseContextTokens int             `json:"baseContextTokens"`
	TotalTokens       int             `json:"totalTokens"`
	NextTodoID        int             `json:"nextTodoId"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	Messages          []*Message      `json:"messages,omitempty"`
}

// SessionMetadata is the message-free projection of a session used by
// listing and search endpoints.
type SessionMetadata struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	AgentID      string    `json:"agentId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	TotalTokens  int       `json:"totalTokens"`
	MessageCount int       `json:"messageCount"`
}

// FileContent is an immutable frozen attachment referenced by file-ref parts.
type FileContent struct {
	ID        string `json:"id"`
	Content   []byte `json:"content"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
}

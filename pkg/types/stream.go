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

package types

// StreamEventType enumerates the session stream protocol. The variant list is
// the stable client contract: every variant carries exactly the fields
// documented on the constant.
type StreamEventType string

const (
	// Session lifecycle.
	EventSessionCreated          StreamEventType = "session-created"           // sessionId, provider, model
	EventSessionDeleted          StreamEventType = "session-deleted"           // sessionId
	EventSessionModelUpdated     StreamEventType = "session-model-updated"     // sessionId, model
	EventSessionProviderUpdated  StreamEventType = "session-provider-updated"  // sessionId, provider
	EventSessionTitleStart       StreamEventType = "session-title-updated-start"
	EventSessionTitleDelta       StreamEventType = "session-title-updated-delta" // text
	EventSessionTitleEnd         StreamEventType = "session-title-updated-end"   // title
	EventSessionTitleUpdated     StreamEventType = "session-title-updated"       // title
	EventSessionTokensUpdated    StreamEventType = "session-tokens-updated"      // baseContextTokens, totalTokens
	EventSessionRulesUpdated     StreamEventType = "session-rules-updated"       // enabledRuleIds
	EventSessionCompacted        StreamEventType = "session-compacted"           // oldSessionId, newSessionId, summary, messageCount

	// Messages.
	EventUserMessageCreated      StreamEventType = "user-message-created"      // messageId, content
	EventAssistantMessageCreated StreamEventType = "assistant-message-created" // messageId
	EventSystemMessageCreated    StreamEventType = "system-message-created"    // messageId, text
	EventMessageStatusUpdated    StreamEventType = "message-status-updated"    // messageId, status, usage?, finishReason?

	// Steps.
	EventStepStart    StreamEventType = "step-start"    // stepId, stepIndex, metadata, todoSnapshot, systemMessages?
	EventStepComplete StreamEventType = "step-complete" // stepId, usage, duration, finishReason

	// Content.
	EventTextStart      StreamEventType = "text-start"
	EventTextDelta      StreamEventType = "text-delta" // text
	EventTextEnd        StreamEventType = "text-end"
	EventReasoningStart StreamEventType = "reasoning-start"
	EventReasoningDelta StreamEventType = "reasoning-delta" // text
	EventReasoningEnd   StreamEventType = "reasoning-end"   // duration
	EventFile           StreamEventType = "file"            // mediaType, base64

	// Tools.
	EventToolInputStart StreamEventType = "tool-input-start" // toolCallId
	EventToolInputDelta StreamEventType = "tool-input-delta" // toolCallId, inputTextDelta
	EventToolInputEnd   StreamEventType = "tool-input-end"   // toolCallId
	EventToolCall       StreamEventType = "tool-call"        // toolCallId, toolName, input
	EventToolResult     StreamEventType = "tool-result"      // toolCallId, toolName, result, duration
	EventToolError      StreamEventType = "tool-error"       // toolCallId, toolName, error, duration

	// Terminal.
	EventComplete StreamEventType = "complete" // usage?, finishReason?
	EventError    StreamEventType = "error"    // error
	EventAbort    StreamEventType = "abort"
)

// StreamEvent is one element of the session stream protocol. Exactly the
// fields belonging to the variant are populated; everything else is omitted
// from the encoding.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`

	// Session lifecycle.
	Provider          string   `json:"provider,omitempty"`
	Model             string   `json:"model,omitempty"`
	Title             string   `json:"title,omitempty"`
	EnabledRuleIDs    []string `json:"enabledRuleIds,omitempty"`
	BaseContextTokens int      `json:"baseContextTokens,omitempty"`
	TotalTokens       int      `json:"totalTokens,omitempty"`

	// Compaction.
	OldSessionID string `json:"oldSessionId,omitempty"`
	NewSessionID string `json:"newSessionId,omitempty"`
	Summary      string `json:"summary,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`

	// Messages.
	MessageID    string        `json:"messageId,omitempty"`
	Content      []Part        `json:"content,omitempty"`
	Status       MessageStatus `json:"status,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	FinishReason string        `json:"finishReason,omitempty"`

	// Steps.
	StepID         string         `json:"stepId,omitempty"`
	StepIndex      int            `json:"stepIndex,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TodoSnapshot   []Todo         `json:"todoSnapshot,omitempty"`
	SystemMessages []string       `json:"systemMessages,omitempty"`

	// Content deltas and titles.
	Text       string `json:"text,omitempty"`
	DurationMs int64  `json:"duration,omitempty"`

	// Files.
	MediaType string `json:"mediaType,omitempty"`
	Base64    string `json:"base64,omitempty"`

	// Tools.
	ToolCallID     string         `json:"toolCallId,omitempty"`
	ToolName       string         `json:"toolName,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	InputTextDelta string         `json:"inputTextDelta,omitempty"`
	Result         any            `json:"result,omitempty"`

	// Errors.
	Error string `json:"error,omitempty"`
}

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

package anthropic

import "encoding/json"

// messagesRequest is a request to the Anthropic Messages API.
type messagesRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []wireTool    `json:"tools,omitempty"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

// wireMessage is a single message in Anthropic wire format.
type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

// wireBlock is one content block. tool_use blocks always serialize an
// "input" key even when empty; Go's omitempty would drop the empty map.
type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Source    *wireSource    `json:"source,omitempty"`
}

func (b wireBlock) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": b.Type}
	if b.Text != "" {
		m["text"] = b.Text
	}
	if b.Thinking != "" {
		m["thinking"] = b.Thinking
	}
	if b.ID != "" {
		m["id"] = b.ID
	}
	if b.Name != "" {
		m["name"] = b.Name
	}
	if b.Type == "tool_use" {
		if len(b.Input) == 0 {
			m["input"] = map[string]any{}
		} else {
			m["input"] = b.Input
		}
	} else if len(b.Input) > 0 {
		m["input"] = b.Input
	}
	if b.ToolUseID != "" {
		m["tool_use_id"] = b.ToolUseID
	}
	if b.Content != "" {
		m["content"] = b.Content
	}
	if b.IsError {
		m["is_error"] = true
	}
	if b.Source != nil {
		m["source"] = b.Source
	}
	return json.Marshal(m)
}

// wireSource is an image or document source.
type wireSource struct {
	Type      string `json:"type"` // base64
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
}

// wireTool is one tool definition.
type wireTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

// wireUsage is the API token accounting.
type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is one SSE payload from the streaming Messages API.
type streamEvent struct {
	Type         string       `json:"type"`
	Message      *streamStart `json:"message,omitempty"`
	Index        int          `json:"index,omitempty"`
	ContentBlock *wireBlock   `json:"content_block,omitempty"`
	Delta        *streamDelta `json:"delta,omitempty"`
	Usage        *wireUsage   `json:"usage,omitempty"`
	Error        *streamError `json:"error,omitempty"`
}

type streamStart struct {
	Usage wireUsage `json:"usage"`
}

type streamDelta struct {
	Type        string `json:"type"` // text_delta, thinking_delta, input_json_delta
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

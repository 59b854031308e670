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

// PartType discriminates the Part variants. The set is closed; the JSON tag
// key is literally "type".
type PartType string

const (
	PartText          PartType = "text"
	PartReasoning     PartType = "reasoning"
	PartTool          PartType = "tool"
	PartFile          PartType = "file"
	PartFileRef       PartType = "file-ref"
	PartError         PartType = "error"
	PartSystemMessage PartType = "system-message"
)

// PartStatus is the lifecycle state of a part within a step.
type PartStatus string

const (
	PartActive    PartStatus = "active"
	PartCompleted PartStatus = "completed"
	PartFailed    PartStatus = "error"
)

// Part is the smallest content unit within a step. It is a tagged variant:
// which fields are meaningful depends on Type. Unused fields stay zero and
// are omitted from the wire encoding.
type Part struct {
	Type   PartType   `json:"type"`
	Status PartStatus `json:"status,omitempty"`

	// text, reasoning, system-message
	Content string `json:"content,omitempty"`

	// reasoning
	StartTime  int64  `json:"startTime,omitempty"` // unix ms
	EndTime    *int64 `json:"endTime,omitempty"`   // unix ms
	DurationMs int64  `json:"duration,omitempty"`

	// tool
	ToolID string         `json:"toolId,omitempty"`
	Name   string         `json:"name,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Result any            `json:"result,omitempty"`

	// tool, error
	Error string `json:"error,omitempty"`

	// file, file-ref
	RelativePath  string `json:"relativePath,omitempty"`
	Size          int64  `json:"size,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
	Base64        string `json:"base64,omitempty"`
	FileContentID string `json:"fileContentId,omitempty"`

	// system-message
	MessageType string `json:"messageType,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"` // unix ms
}

// TextPart builds a completed text part.
func TextPart(content string) Part {
	return Part{Type: PartText, Content: content, Status: PartCompleted}
}

// ErrorPart builds an inline error marker part.
func ErrorPart(err string) Part {
	return Part{Type: PartError, Error: err, Status: PartCompleted}
}

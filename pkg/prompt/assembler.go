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

// Package prompt assembles a session's persisted messages into the
// model-facing request. Assembly is capability aware: attachments degrade to
// XML-wrapped text or placeholders when the target model cannot accept them.
package prompt

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/types"
)

// Assembler builds provider requests from session state.
type Assembler struct {
	store    *store.Store
	registry *models.Registry
	// tempDir receives generated images for models that cannot take image
	// input back. Defaults to os.TempDir().
	tempDir string
}

// NewAssembler creates an assembler over the store and model catalog.
func NewAssembler(s *store.Store, registry *models.Registry) *Assembler {
	return &Assembler{store: s, registry: registry, tempDir: os.TempDir()}
}

// Assemble converts the session's messages into model messages for the
// session's model. Part order within each message is preserved.
func (a *Assembler) Assemble(ctx context.Context, session *types.Session) ([]provider.ModelMessage, error) {
	out := make([]provider.ModelMessage, 0, len(session.Messages))
	for _, msg := range session.Messages {
		mm, err := a.assembleMessage(ctx, session.Model, msg)
		if err != nil {
			return nil, err
		}
		if len(mm.Content) > 0 {
			out = append(out, mm)
		}
	}
	return out, nil
}

func (a *Assembler) assembleMessage(ctx context.Context, modelID string, msg *types.Message) (provider.ModelMessage, error) {
	role := string(msg.Role)
	// System messages take the user role so attention decays the same way
	// for injected context as for real user input.
	if msg.Role == types.RoleSystem {
		role = "user"
	}

	mm := provider.ModelMessage{Role: role}

	if msg.Role == types.RoleUser || msg.Role == types.RoleSystem {
		if status := systemStatusBlock(msg.Metadata); status != "" {
			mm.Content = append(mm.Content, provider.ContentPart{Kind: provider.ContentText, Text: status})
		}
		if todos := todoContextBlock(msg.TodoSnapshot); todos != "" {
			mm.Content = append(mm.Content, provider.ContentPart{Kind: provider.ContentText, Text: todos})
		}
	}

	for _, part := range msg.Parts() {
		converted, err := a.assemblePart(ctx, modelID, msg.Role, part)
		if err != nil {
			return provider.ModelMessage{}, err
		}
		mm.Content = append(mm.Content, converted...)
	}

	switch msg.Status {
	case types.StatusAbort:
		mm.Content = append(mm.Content, provider.ContentPart{
			Kind: provider.ContentText, Text: "[This response was aborted by the user]",
		})
	case types.StatusError:
		mm.Content = append(mm.Content, provider.ContentPart{
			Kind: provider.ContentText, Text: "[This response ended with an error]",
		})
	}
	return mm, nil
}

func (a *Assembler) assemblePart(ctx context.Context, modelID string, role types.MessageRole, part types.Part) ([]provider.ContentPart, error) {
	switch part.Type {
	case types.PartText, types.PartSystemMessage:
		if part.Content == "" {
			return nil, nil
		}
		return []provider.ContentPart{{Kind: provider.ContentText, Text: part.Content}}, nil

	case types.PartReasoning:
		if role != types.RoleAssistant || part.Content == "" {
			return nil, nil
		}
		return []provider.ContentPart{{Kind: provider.ContentReasoning, Text: part.Content}}, nil

	case types.PartError:
		return []provider.ContentPart{{
			Kind: provider.ContentText, Text: fmt.Sprintf("[Error: %s]", part.Error),
		}}, nil

	case types.PartTool:
		if role != types.RoleAssistant {
			return nil, nil
		}
		out := []provider.ContentPart{{
			Kind: provider.ContentToolCall, ToolCallID: part.ToolID, ToolName: part.Name, Input: part.Input,
		}}
		if part.Result != nil || part.Error != "" {
			result := part.Result
			isError := part.Error != ""
			if isError {
				result = part.Error
			}
			out = append(out, provider.ContentPart{
				Kind: provider.ContentToolResult, ToolCallID: part.ToolID, ToolName: part.Name,
				Result: result, IsError: isError,
			})
		}
		return out, nil

	case types.PartFile, types.PartFileRef:
		return a.assembleFile(ctx, modelID, role, part)

	default:
		return nil, nil
	}
}

func (a *Assembler) assembleFile(ctx context.Context, modelID string, role types.MessageRole, part types.Part) ([]provider.ContentPart, error) {
	data, mediaType, err := a.resolveFile(ctx, part)
	if err != nil {
		return nil, err
	}

	isImage := strings.HasPrefix(mediaType, "image/")
	supported := a.registry.ModelSupportsInput(modelID, models.CapFile) ||
		(isImage && a.registry.ModelSupportsInput(modelID, models.CapImage))

	if role == types.RoleAssistant && isImage {
		if supported {
			return []provider.ContentPart{{
				Kind: provider.ContentFile, Data: data, MediaType: mediaType, Filename: part.RelativePath,
			}}, nil
		}
		path, err := a.spillImage(data, mediaType)
		if err != nil {
			return nil, err
		}
		return []provider.ContentPart{{
			Kind: provider.ContentText,
			Text: fmt.Sprintf("[I generated an image and saved it to: %s]", path),
		}}, nil
	}

	if supported {
		return []provider.ContentPart{{
			Kind: provider.ContentFile, Data: data, MediaType: mediaType, Filename: part.RelativePath,
		}}, nil
	}
	if isTextual(mediaType) {
		return []provider.ContentPart{{
			Kind: provider.ContentText,
			Text: fmt.Sprintf("<file path=%q>\n%s\n</file>", part.RelativePath, string(data)),
		}}, nil
	}
	return []provider.ContentPart{{
		Kind: provider.ContentText,
		Text: fmt.Sprintf("<file path=%q type=%q size=\"%d\">[Binary file content not shown]</file>",
			part.RelativePath, mediaType, len(data)),
	}}, nil
}

// resolveFile loads the part's bytes from its inline base64 or the frozen
// FileContent record.
func (a *Assembler) resolveFile(ctx context.Context, part types.Part) ([]byte, string, error) {
	if part.Type == types.PartFileRef || part.FileContentID != "" {
		fc, err := a.store.GetFileContent(ctx, part.FileContentID)
		if err != nil {
			return nil, "", fmt.Errorf("resolve file ref: %w", err)
		}
		mediaType := part.MediaType
		if mediaType == "" {
			mediaType = fc.MediaType
		}
		return fc.Content, mediaType, nil
	}
	data, err := base64.StdEncoding.DecodeString(part.Base64)
	if err != nil {
		return nil, "", fmt.Errorf("decode file part: %w", err)
	}
	return data, part.MediaType, nil
}

func (a *Assembler) spillImage(data []byte, mediaType string) (string, error) {
	ext := ".png"
	if idx := strings.Index(mediaType, "/"); idx >= 0 && idx+1 < len(mediaType) {
		ext = "." + mediaType[idx+1:]
	}
	path := filepath.Join(a.tempDir, "skein-image-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write generated image: %w", err)
	}
	return path, nil
}

func isTextual(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/yaml",
		"application/javascript", "application/x-sh", "application/toml":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// systemStatusBlock renders the metadata status snapshot the engine records
// on user messages.
func systemStatusBlock(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	var b strings.Builder
	if ts, ok := metadata["timestamp"]; ok {
		fmt.Fprintf(&b, "timestamp: %v\n", ts)
	}
	if cpu, ok := metadata["cpuPercent"]; ok {
		fmt.Fprintf(&b, "cpu: %v\n", cpu)
	}
	if mem, ok := metadata["memoryPercent"]; ok {
		fmt.Fprintf(&b, "memory: %v\n", mem)
	}
	if b.Len() == 0 {
		return ""
	}
	return "<system-status>\n" + b.String() + "</system-status>"
}

// todoContextBlock renders a compact view of the message's todo snapshot.
func todoContextBlock(todos []types.Todo) string {
	if len(todos) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<todo-context>\n")
	for _, todo := range todos {
		marker := " "
		switch todo.Status {
		case types.TodoInProgress:
			marker = ">"
		case types.TodoCompleted:
			marker = "x"
		}
		fmt.Fprintf(&b, "[%s] %d: %s\n", marker, todo.ID, todo.Content)
	}
	b.WriteString("</todo-context>")
	return b.String()
}

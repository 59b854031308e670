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
package prompt

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/types"
)

func testAssembler(t *testing.T) (*Assembler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "skein.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	registry := models.NewRegistry()
	registry.RegisterModel(models.Model{
		ID: "multimodal", ProviderID: "p", MaxContext: 200000,
		Input:  []models.Capability{models.CapText, models.CapImage, models.CapFile, models.CapTools},
		Output: []models.Capability{models.CapText, models.CapImage},
	})
	registry.RegisterModel(models.Model{
		ID: "text-only", ProviderID: "p", MaxContext: 8192,
		Input:  []models.Capability{models.CapText},
		Output: []models.Capability{models.CapText},
	})

	a := NewAssembler(s, registry)
	a.tempDir = t.TempDir()
	return a, s
}

func message(role types.MessageRole, status types.MessageStatus, parts ...types.Part) *types.Message {
	return &types.Message{
		ID: "m1", SessionID: "s1", Role: role, Status: status,
		Timestamp: time.Now(),
		Steps:     []types.Step{{Index: 0, Parts: parts}},
	}
}

func TestAssemblePreservesPartOrder(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleAssistant, types.StatusCompleted,
			types.TextPart("first"),
			types.Part{Type: types.PartReasoning, Content: "thinking", Status: types.PartCompleted},
			types.TextPart("second"),
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 3)
	assert.Equal(t, "first", out[0].Content[0].Text)
	assert.Equal(t, provider.ContentReasoning, out[0].Content[1].Kind)
	assert.Equal(t, "second", out[0].Content[2].Text)
}

func TestAssembleSystemRoleBecomesUser(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleSystem, types.StatusCompleted,
			types.Part{Type: types.PartSystemMessage, Content: "warning", MessageType: "context-warning", Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "warning", out[0].Content[0].Text)
}

func TestAssembleReasoningDroppedForNonAssistant(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted,
			types.Part{Type: types.PartReasoning, Content: "should vanish", Status: types.PartCompleted},
			types.TextPart("hello"),
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1)
	assert.Equal(t, "hello", out[0].Content[0].Text)
}

func TestAssembleToolPartWithResult(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "multimodal", Messages: []*types.Message{
		message(types.RoleAssistant, types.StatusCompleted,
			types.Part{Type: types.PartTool, ToolID: "call_1", Name: "todo_write",
				Input: map[string]any{"todos": []any{}}, Result: "ok", Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	call := out[0].Content[0]
	assert.Equal(t, provider.ContentToolCall, call.Kind)
	assert.Equal(t, "call_1", call.ToolCallID)
	assert.Equal(t, "todo_write", call.ToolName)
	result := out[0].Content[1]
	assert.Equal(t, provider.ContentToolResult, result.Kind)
	assert.Equal(t, "ok", result.Result)
	assert.False(t, result.IsError)
}

func TestAssembleToolPartWithError(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "multimodal", Messages: []*types.Message{
		message(types.RoleAssistant, types.StatusCompleted,
			types.Part{Type: types.PartTool, ToolID: "call_1", Name: "todo_write",
				Error: "validation_failed: missing todos", Status: types.PartFailed},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	result := out[0].Content[1]
	assert.Equal(t, provider.ContentToolResult, result.Kind)
	assert.True(t, result.IsError)
	assert.Equal(t, "validation_failed: missing todos", result.Result)
}

func TestAssembleFilePassthroughWhenSupported(t *testing.T) {
	a, _ := testAssembler(t)
	data := []byte{0x89, 0x50, 0x4e, 0x47}
	session := &types.Session{ID: "s1", Model: "multimodal", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted,
			types.Part{Type: types.PartFile, RelativePath: "shot.png", MediaType: "image/png",
				Base64: base64.StdEncoding.EncodeToString(data), Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out[0].Content, 1)
	part := out[0].Content[0]
	assert.Equal(t, provider.ContentFile, part.Kind)
	assert.Equal(t, data, part.Data)
	assert.Equal(t, "image/png", part.MediaType)
	assert.Equal(t, "shot.png", part.Filename)
}

func TestAssembleTextualFileDegradesToXML(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted,
			types.Part{Type: types.PartFile, RelativePath: "main.go", MediaType: "text/x-go",
				Base64: base64.StdEncoding.EncodeToString([]byte("package main")), Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	part := out[0].Content[0]
	assert.Equal(t, provider.ContentText, part.Kind)
	assert.Contains(t, part.Text, `<file path="main.go">`)
	assert.Contains(t, part.Text, "package main")
	assert.Contains(t, part.Text, "</file>")
}

func TestAssembleBinaryFileDegradesToPlaceholder(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted,
			types.Part{Type: types.PartFile, RelativePath: "blob.bin", MediaType: "application/octet-stream",
				Base64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	part := out[0].Content[0]
	assert.Equal(t, provider.ContentText, part.Kind)
	assert.Contains(t, part.Text, "[Binary file content not shown]")
	assert.Contains(t, part.Text, `size="3"`)
}

func TestAssembleGeneratedImageSpillsToDisk(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleAssistant, types.StatusCompleted,
			types.Part{Type: types.PartFile, MediaType: "image/png",
				Base64: base64.StdEncoding.EncodeToString([]byte("fakepng")), Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	part := out[0].Content[0]
	assert.Equal(t, provider.ContentText, part.Kind)
	assert.Contains(t, part.Text, "[I generated an image and saved it to: ")

	// The spilled file really exists under the assembler's temp dir.
	entries, err := os.ReadDir(a.tempDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	spilled, err := os.ReadFile(filepath.Join(a.tempDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, []byte("fakepng"), spilled)
}

func TestAssembleFileRefResolvesFromStore(t *testing.T) {
	a, s := testAssembler(t)
	id, err := s.StoreFileContent(context.Background(), []byte("frozen"), "text/plain")
	require.NoError(t, err)

	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted,
			types.Part{Type: types.PartFileRef, FileContentID: id, RelativePath: "notes.txt", Status: types.PartCompleted},
		),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	assert.Contains(t, out[0].Content[0].Text, "frozen")
}

func TestAssembleTerminalStatusMarkers(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleAssistant, types.StatusAbort, types.TextPart("partial")),
		message(types.RoleAssistant, types.StatusError, types.TextPart("broken")),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "[This response was aborted by the user]", out[0].Content[1].Text)
	assert.Equal(t, "[This response ended with an error]", out[1].Content[1].Text)
}

func TestAssembleUserMessageContextBlocks(t *testing.T) {
	a, _ := testAssembler(t)
	msg := message(types.RoleUser, types.StatusCompleted, types.TextPart("do the thing"))
	msg.Metadata = map[string]any{"timestamp": "2026-08-25T10:00:00Z", "cpuPercent": "12.5", "memoryPercent": "40.0"}
	msg.TodoSnapshot = []types.Todo{
		{ID: 1, Content: "plan", Status: types.TodoCompleted},
		{ID: 2, Content: "build", Status: types.TodoInProgress},
		{ID: 3, Content: "test", Status: types.TodoPending},
	}
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{msg}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out[0].Content, 3)
	assert.Contains(t, out[0].Content[0].Text, "<system-status>")
	assert.Contains(t, out[0].Content[0].Text, "cpu: 12.5")
	assert.Contains(t, out[0].Content[1].Text, "<todo-context>")
	assert.Contains(t, out[0].Content[1].Text, "[x] 1: plan")
	assert.Contains(t, out[0].Content[1].Text, "[>] 2: build")
	assert.Contains(t, out[0].Content[1].Text, "[ ] 3: test")
	assert.Equal(t, "do the thing", out[0].Content[2].Text)
}

func TestAssembleSkipsEmptyMessages(t *testing.T) {
	a, _ := testAssembler(t)
	session := &types.Session{ID: "s1", Model: "text-only", Messages: []*types.Message{
		message(types.RoleUser, types.StatusCompleted),
		message(types.RoleUser, types.StatusCompleted, types.TextPart("real")),
	}}

	out, err := a.Assemble(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "real", out[0].Content[0].Text)
}

func TestTokenCounterFallback(t *testing.T) {
	tc := GetTokenCounter()
	n := tc.CountTokens("hello world, this is a reasonably sized sentence.")
	assert.Greater(t, n, 0)

	assert.Equal(t, 0, tc.CountTokens(""))
}

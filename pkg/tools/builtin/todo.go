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

// Package builtin holds the tools that ship with the server.
package builtin

import (
	"context"
	"fmt"

	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/tools"
	"github.com/teradata-labs/skein/pkg/types"
)

// TodoTool lets the model replace the session's todo list. New items are
// assigned ids from the session's monotone counter.
type TodoTool struct {
	store *store.Store
}

// NewTodoTool creates the todo tool over the store.
func NewTodoTool(s *store.Store) *TodoTool {
	return &TodoTool{store: s}
}

// Info returns the tool description.
func (t *TodoTool) Info() tools.Info {
	return tools.Info{
		ID:               "todo_write",
		Name:             "Write Todos",
		Category:         "planning",
		Description:      "Replace the session todo list with the given items.",
		SecurityLevel:    tools.SecurityPublic,
		SupportsParallel: false,
		EnabledByDefault: true,
		Source:           tools.SourceBuiltin,
	}
}

// InputSchema returns the argument schema.
func (t *TodoTool) InputSchema() *tools.Schema {
	return tools.ObjectSchema("Todo list update", map[string]*tools.Schema{
		"todos": tools.ArraySchema("The full todo list",
			tools.ObjectSchema("One todo item", map[string]*tools.Schema{
				"id":         tools.NumberSchema("Existing item id; omit for new items"),
				"content":    tools.StringSchema("Imperative description of the task"),
				"activeForm": tools.StringSchema("Present-continuous form shown while in progress"),
				"status":     tools.StringSchema("Item status").WithEnum("pending", "in_progress", "completed"),
			}, []string{"content", "status"})),
	}, []string{"todos"})
}

// Execute replaces the session todo list.
func (t *TodoTool) Execute(ctx context.Context, args map[string]any, execCtx tools.ExecContext) (any, error) {
	raw, _ := args["todos"].([]any)

	session, err := t.store.GetSessionByID(ctx, execCtx.SessionID)
	if err != nil {
		return nil, err
	}

	nextID := session.NextTodoID
	todos := make([]types.Todo, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &tools.Error{Code: "validation_failed", Message: fmt.Sprintf("todos[%d] is not an object", i)}
		}
		todo := types.Todo{Ordering: i}
		if id, ok := m["id"].(float64); ok && id > 0 {
			todo.ID = int(id)
		} else {
			todo.ID = nextID
			nextID++
		}
		todo.Content, _ = m["content"].(string)
		todo.ActiveForm, _ = m["activeForm"].(string)
		if todo.ActiveForm == "" {
			todo.ActiveForm = todo.Content
		}
		status, _ := m["status"].(string)
		todo.Status = types.TodoStatus(status)
		todos = append(todos, todo)
	}

	if err := t.store.UpdateTodos(ctx, execCtx.SessionID, todos, nextID); err != nil {
		return nil, err
	}
	return map[string]any{"count": len(todos)}, nil
}

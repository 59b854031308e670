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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teradata-labs/skein/pkg/types"
)

// UpdateTodos atomically replaces the session's todo list. The session's
// nextTodoID counter is monotone: regressing it is an invariant violation.
func (s *Store) UpdateTodos(ctx context.Context, sessionID string, todos []types.Todo, nextTodoID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update todos: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT next_todo_id FROM sessions WHERE id = ?`, sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read todo counter: %w", err)
	}
	if nextTodoID < current {
		return fmt.Errorf("%w: nextTodoId %d regresses %d", types.ErrInvariantViolated, nextTodoID, current)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear todos: %w", err)
	}
	for _, todo := range todos {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO todos (session_id, id, content, active_form, status, ordering)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, todo.ID, todo.Content, todo.ActiveForm, todo.Status, todo.Ordering)
		if err != nil {
			return fmt.Errorf("insert todo: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET next_todo_id = ?, updated = ? WHERE id = ?`,
		nextTodoID, time.Now().UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("update todo counter: %w", err)
	}
	return tx.Commit()
}

// GetTodos returns the session's todo list in ordering order.
func (s *Store) GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, active_form, status, ordering FROM todos
		WHERE session_id = ? ORDER BY ordering ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load todos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var todos []types.Todo
	for rows.Next() {
		var t types.Todo
		var activeForm sql.NullString
		if err := rows.Scan(&t.ID, &t.Content, &activeForm, &t.Status, &t.Ordering); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.ActiveForm = activeForm.String
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

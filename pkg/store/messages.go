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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/skein/pkg/types"
)

// AddMessage appends a message to a session with an optional initial step 0.
// Returns the new message id.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role types.MessageRole,
	initialParts []types.Part, metadata map[string]any, todoSnapshot []types.Todo) (string, error) {

	id := uuid.NewString()
	now := time.Now()

	meta, err := marshalJSON(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal message metadata: %w", err)
	}
	snapshot, err := marshalJSON(todoSnapshot)
	if err != nil {
		return "", fmt.Errorf("marshal todo snapshot: %w", err)
	}

	status := types.StatusCompleted
	if role == types.RoleAssistant {
		status = types.StatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, status, metadata_json, todo_snapshot_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, role, status, meta, snapshot, now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	for i, part := range initialParts {
		payload, err := json.Marshal(part)
		if err != nil {
			return "", fmt.Errorf("marshal part: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_parts (message_id, step_index, part_index, variant_tag, payload)
			VALUES (?, 0, ?, ?, ?)`, id, i, part.Type, string(payload))
		if err != nil {
			return "", fmt.Errorf("insert part: %w", err)
		}
	}
	if err := s.touchSession(ctx, tx, sessionID); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return id, nil
}

// maxStepIndex returns the highest step index recorded for a message, or -1.
func (s *Store) maxStepIndex(ctx context.Context, messageID string) (int, error) {
	var idx sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(step_index) FROM (
			SELECT step_index FROM step_parts WHERE message_id = ?
			UNION ALL
			SELECT step_index FROM message_steps WHERE message_id = ?
		)`, messageID, messageID).Scan(&idx)
	if err != nil {
		return -1, fmt.Errorf("max step index: %w", err)
	}
	if !idx.Valid {
		return -1, nil
	}
	return int(idx.Int64), nil
}

// AppendStep appends a whole step. The step index must extend the message's
// step sequence densely; anything else is an invariant violation.
func (s *Store) AppendStep(ctx context.Context, messageID string, stepIndex int, parts []types.Part) error {
	max, err := s.maxStepIndex(ctx, messageID)
	if err != nil {
		return err
	}
	if stepIndex != max+1 {
		return fmt.Errorf("%w: step index %d does not extend %d", types.ErrInvariantViolated, stepIndex, max)
	}
	for i, part := range parts {
		payload, err := json.Marshal(part)
		if err != nil {
			return fmt.Errorf("marshal part: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO step_parts (message_id, step_index, part_index, variant_tag, payload)
			VALUES (?, ?, ?, ?, ?)`, messageID, stepIndex, i, part.Type, string(payload))
		if err != nil {
			return fmt.Errorf("insert part: %w", err)
		}
	}
	return nil
}

// AppendPart appends one part to a step. The step must be the current (last)
// step or the next dense index. Returns the new part index.
func (s *Store) AppendPart(ctx context.Context, messageID string, stepIndex int, part types.Part) (int, error) {
	max, err := s.maxStepIndex(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if stepIndex > max+1 || stepIndex < 0 {
		return 0, fmt.Errorf("%w: step index %d does not extend %d", types.ErrInvariantViolated, stepIndex, max)
	}

	var next sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(part_index) FROM step_parts WHERE message_id = ? AND step_index = ?`,
		messageID, stepIndex).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next part index: %w", err)
	}
	partIndex := 0
	if next.Valid {
		partIndex = int(next.Int64) + 1
	}

	payload, err := json.Marshal(part)
	if err != nil {
		return 0, fmt.Errorf("marshal part: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_parts (message_id, step_index, part_index, variant_tag, payload)
		VALUES (?, ?, ?, ?, ?)`, messageID, stepIndex, partIndex, part.Type, string(payload))
	if err != nil {
		return 0, fmt.Errorf("insert part: %w", err)
	}
	return partIndex, nil
}

// UpdatePart replaces a part in place. Streaming uses this to finalize the
// trailing text/reasoning part of a step and to attach tool results; rows are
// otherwise append-only.
func (s *Store) UpdatePart(ctx context.Context, messageID string, stepIndex, partIndex int, part types.Part) error {
	payload, err := json.Marshal(part)
	if err != nil {
		return fmt.Errorf("marshal part: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_parts SET variant_tag = ?, payload = ?
		WHERE message_id = ? AND step_index = ? AND part_index = ?`,
		part.Type, string(payload), messageID, stepIndex, partIndex)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// SetStepMeta records per-step usage and duration.
func (s *Store) SetStepMeta(ctx context.Context, messageID string, stepIndex int, usage *types.Usage, durationMs int64) error {
	usageJSON, err := marshalJSON(usage)
	if err != nil {
		return fmt.Errorf("marshal step usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_steps (message_id, step_index, usage_json, duration_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id, step_index) DO UPDATE SET usage_json = excluded.usage_json, duration_ms = excluded.duration_ms`,
		messageID, stepIndex, usageJSON, durationMs)
	if err != nil {
		return fmt.Errorf("set step meta: %w", err)
	}
	return nil
}

// UpdateMessageStatus transitions a message's status. Only active ->
// {completed, error, abort} is permitted; everything else is an invariant
// violation.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID string, status types.MessageStatus,
	usage *types.Usage, finishReason string) error {

	if !types.StatusActive.CanTransitionTo(status) {
		return fmt.Errorf("%w: illegal target status %q", types.ErrInvariantViolated, status)
	}
	usageJSON, err := marshalJSON(usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, usage_json = COALESCE(?, usage_json),
			finish_reason = COALESCE(NULLIF(?, ''), finish_reason)
		WHERE id = ? AND status = ?`,
		status, usageJSON, finishReason, messageID, types.StatusActive)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM messages WHERE id = ?`, messageID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read message status: %w", err)
		}
		return fmt.Errorf("%w: message %s is %s, not active", types.ErrInvariantViolated, messageID, current)
	}
	return nil
}

// GetMessage loads one message with its steps and parts.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, status, usage_json, finish_reason,
		       metadata_json, todo_snapshot_json, timestamp
		FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var usage, finishReason, metadata, snapshot sql.NullString
	var ts int64
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Status,
		&usage, &finishReason, &metadata, &snapshot, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Timestamp = time.UnixMilli(ts)
	msg.FinishReason = finishReason.String
	if usage.Valid && usage.String != "" {
		msg.Usage = &types.Usage{}
		if err := json.Unmarshal([]byte(usage.String), msg.Usage); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	if snapshot.Valid && snapshot.String != "" {
		if err := json.Unmarshal([]byte(snapshot.String), &msg.TodoSnapshot); err != nil {
			return nil, fmt.Errorf("decode todo snapshot: %w", err)
		}
	}
	return &msg, nil
}

func (s *Store) loadSteps(ctx context.Context, msg *types.Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, payload FROM step_parts
		WHERE message_id = ? ORDER BY step_index ASC, part_index ASC`, msg.ID)
	if err != nil {
		return fmt.Errorf("load parts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	steps := map[int]*types.Step{}
	var order []int
	for rows.Next() {
		var idx int
		var payload string
		if err := rows.Scan(&idx, &payload); err != nil {
			return fmt.Errorf("scan part: %w", err)
		}
		var part types.Part
		if err := json.Unmarshal([]byte(payload), &part); err != nil {
			return fmt.Errorf("decode part: %w", err)
		}
		step, ok := steps[idx]
		if !ok {
			step = &types.Step{Index: idx}
			steps[idx] = step
			order = append(order, idx)
		}
		step.Parts = append(step.Parts, part)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	metaRows, err := s.db.QueryContext(ctx, `
		SELECT step_index, usage_json, duration_ms FROM message_steps WHERE message_id = ?`, msg.ID)
	if err != nil {
		return fmt.Errorf("load step meta: %w", err)
	}
	defer func() { _ = metaRows.Close() }()
	for metaRows.Next() {
		var idx int
		var usage sql.NullString
		var duration int64
		if err := metaRows.Scan(&idx, &usage, &duration); err != nil {
			return fmt.Errorf("scan step meta: %w", err)
		}
		step, ok := steps[idx]
		if !ok {
			step = &types.Step{Index: idx}
			steps[idx] = step
			order = append(order, idx)
		}
		step.DurationMs = duration
		if usage.Valid && usage.String != "" {
			step.Usage = &types.Usage{}
			if err := json.Unmarshal([]byte(usage.String), step.Usage); err != nil {
				return fmt.Errorf("decode step usage: %w", err)
			}
		}
	}
	if err := metaRows.Err(); err != nil {
		return err
	}

	for _, idx := range order {
		msg.Steps = append(msg.Steps, *steps[idx])
	}
	// Step order is total and dense; the map preserves insertion order only
	// for the parts query, so sort by index.
	for i := 1; i < len(msg.Steps); i++ {
		for j := i; j > 0 && msg.Steps[j].Index < msg.Steps[j-1].Index; j-- {
			msg.Steps[j], msg.Steps[j-1] = msg.Steps[j-1], msg.Steps[j]
		}
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, status, usage_json, finish_reason,
		       metadata_json, todo_snapshot_json, timestamp
		FROM messages WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if err := s.loadSteps(ctx, msg); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

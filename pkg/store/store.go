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

// Package store persists sessions, messages, step parts, file contents, and
// todos in SQLite, and enforces the data model invariants: monotone message
// status transitions, dense step indices, and a non-decreasing todo counter.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/skein/internal/sqlitedriver"
	"github.com/teradata-labs/skein/pkg/types"
)

// Store provides typed CRUD over the session database. All writes are
// single-row atomic; only session deletion spans rows (cascade).
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the session database at the given SQLite path.
// Pass ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so the event log can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		agent_id TEXT,
		enabled_rule_ids TEXT,
		title TEXT,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL,
		base_context_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		next_todo_id INTEGER NOT NULL DEFAULT 1,
		flags TEXT,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		usage_json TEXT,
		finish_reason TEXT,
		metadata_json TEXT,
		todo_snapshot_json TEXT,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS step_parts (
		message_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		part_index INTEGER NOT NULL,
		variant_tag TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (message_id, step_index, part_index),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS message_steps (
		message_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		usage_json TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (message_id, step_index),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS file_contents (
		id TEXT PRIMARY KEY,
		media_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_blob BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todos (
		session_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		content TEXT NOT NULL,
		active_form TEXT,
		status TEXT NOT NULL,
		ordering INTEGER NOT NULL,
		PRIMARY KEY (session_id, id),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_step_parts_message ON step_parts(message_id, step_index, part_index);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateSession creates a new session with the given provider/model pair.
func (s *Store) CreateSession(ctx context.Context, provider, model, agentID string, enabledRuleIDs []string) (*types.Session, error) {
	now := time.Now()
	session := &types.Session{
		ID:             uuid.NewString(),
		Provider:       provider,
		Model:          model,
		AgentID:        agentID,
		EnabledRuleIDs: enabledRuleIDs,
		Created:        now,
		Updated:        now,
		Flags:          map[string]bool{},
		NextTodoID:     1,
	}
	rules, err := marshalJSON(session.EnabledRuleIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal rule ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, provider, model, agent_id, enabled_rule_ids, created, updated, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, '{}')`,
		session.ID, provider, model, agentID, rules, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Store) scanSession(row *sql.Row) (*types.Session, error) {
	var sess types.Session
	var agentID, rules, title, flags, metadata sql.NullString
	var created, updated int64
	err := row.Scan(&sess.ID, &sess.Provider, &sess.Model, &agentID, &rules, &title,
		&created, &updated, &sess.BaseContextTokens, &sess.TotalTokens, &sess.NextTodoID,
		&flags, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.AgentID = agentID.String
	sess.Title = title.String
	sess.Created = time.UnixMilli(created)
	sess.Updated = time.UnixMilli(updated)
	if rules.Valid && rules.String != "" {
		if err := json.Unmarshal([]byte(rules.String), &sess.EnabledRuleIDs); err != nil {
			return nil, fmt.Errorf("decode rule ids: %w", err)
		}
	}
	sess.Flags = map[string]bool{}
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &sess.Flags); err != nil {
			return nil, fmt.Errorf("decode flags: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &sess, nil
}

const sessionColumns = `id, provider, model, agent_id, enabled_rule_ids, title,
	created, updated, base_context_tokens, total_tokens, next_todo_id, flags, metadata`

// GetSessionByID loads a session with its messages, steps, and parts eagerly.
// Returns types.ErrNotFound for unknown ids.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	sess.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SessionPage is one page of session metadata.
type SessionPage struct {
	Items      []types.SessionMetadata `json:"items"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

func encodePageCursor(updated, created int64, id string) string {
	return fmt.Sprintf("%d:%d:%s", updated, created, id)
}

func decodePageCursor(cursor string) (updated, created int64, id string, err error) {
	parts := strings.SplitN(cursor, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &updated); err != nil {
		return 0, 0, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &created); err != nil {
		return 0, 0, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	return updated, created, parts[2], nil
}

func (s *Store) scanMetadataPage(rows *sql.Rows, limit int) (*SessionPage, error) {
	defer func() { _ = rows.Close() }()
	page := &SessionPage{Items: []types.SessionMetadata{}}
	var lastUpdated, lastCreated int64
	var lastID string
	for rows.Next() {
		var m types.SessionMetadata
		var agentID, title sql.NullString
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Provider, &m.Model, &agentID, &title,
			&created, &updated, &m.TotalTokens, &m.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session metadata: %w", err)
		}
		m.AgentID = agentID.String
		m.Title = title.String
		m.Created = time.UnixMilli(created)
		m.Updated = time.UnixMilli(updated)
		if len(page.Items) == limit {
			// One extra row means another page exists.
			page.NextCursor = encodePageCursor(lastUpdated, lastCreated, lastID)
			return page, rows.Err()
		}
		page.Items = append(page.Items, m)
		lastUpdated, lastCreated, lastID = updated, created, m.ID
	}
	return page, rows.Err()
}

const metadataColumns = `s.id, s.provider, s.model, s.agent_id, s.title,
	s.created, s.updated, s.total_tokens,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)`

// GetRecentSessionsMetadata lists sessions newest-first (by updated, then
// created) without loading messages. The returned cursor resumes the scan.
func (s *Store) GetRecentSessionsMetadata(ctx context.Context, limit int, cursor string) (*SessionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+metadataColumns+` FROM sessions s
			ORDER BY s.updated DESC, s.created DESC, s.id DESC LIMIT ?`, limit+1)
	} else {
		updated, created, id, cerr := decodePageCursor(cursor)
		if cerr != nil {
			return nil, cerr
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+metadataColumns+` FROM sessions s
			WHERE (s.updated < ?) OR (s.updated = ? AND s.created < ?)
			   OR (s.updated = ? AND s.created = ? AND s.id < ?)
			ORDER BY s.updated DESC, s.created DESC, s.id DESC LIMIT ?`,
			updated, updated, created, updated, created, id, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return s.scanMetadataPage(rows, limit)
}

// SearchSessionsMetadata finds sessions whose title contains the query,
// case-insensitively, newest-first.
func (s *Store) SearchSessionsMetadata(ctx context.Context, query string, limit int, cursor string) (*SessionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(query)
	pattern := "%" + escaped + "%"
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+metadataColumns+` FROM sessions s
			WHERE s.title LIKE ? ESCAPE '\' COLLATE NOCASE
			ORDER BY s.updated DESC, s.created DESC, s.id DESC LIMIT ?`, pattern, limit+1)
	} else {
		updated, created, id, cerr := decodePageCursor(cursor)
		if cerr != nil {
			return nil, cerr
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+metadataColumns+` FROM sessions s
			WHERE s.title LIKE ? ESCAPE '\' COLLATE NOCASE
			  AND ((s.updated < ?) OR (s.updated = ? AND s.created < ?)
			   OR (s.updated = ? AND s.created = ? AND s.id < ?))
			ORDER BY s.updated DESC, s.created DESC, s.id DESC LIMIT ?`,
			pattern, updated, updated, created, updated, created, id, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	return s.scanMetadataPage(rows, limit)
}

func (s *Store) touchSession(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, id string) error {
	res, err := execer.ExecContext(ctx,
		`UPDATE sessions SET updated = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *Store) updateSessionColumn(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+column+` = ?, updated = ? WHERE id = ?`,
		value, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", column, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpdateSessionTitle sets the session title.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	return s.updateSessionColumn(ctx, id, "title", title)
}

// UpdateSessionModel sets the session model.
func (s *Store) UpdateSessionModel(ctx context.Context, id, model string) error {
	return s.updateSessionColumn(ctx, id, "model", model)
}

// UpdateSessionProvider sets the session provider.
func (s *Store) UpdateSessionProvider(ctx context.Context, id, provider string) error {
	return s.updateSessionColumn(ctx, id, "provider", provider)
}

// UpdateSessionRules replaces the enabled rule id list.
func (s *Store) UpdateSessionRules(ctx context.Context, id string, ruleIDs []string) error {
	data, err := json.Marshal(ruleIDs)
	if err != nil {
		return fmt.Errorf("marshal rule ids: %w", err)
	}
	return s.updateSessionColumn(ctx, id, "enabled_rule_ids", string(data))
}

// UpdateSessionMetadata merges the patch into the session metadata.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	merged := map[string]any{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &merged); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET metadata = ?, updated = ? WHERE id = ?`,
		string(data), time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return tx.Commit()
}

// UpdateSessionFlags merges the flag patch into the session flags atomically.
func (s *Store) UpdateSessionFlags(ctx context.Context, id string, patch map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update flags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT flags FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	merged := map[string]bool{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &merged); err != nil {
			return fmt.Errorf("decode flags: %w", err)
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET flags = ?, updated = ? WHERE id = ?`,
		string(data), time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("write flags: %w", err)
	}
	return tx.Commit()
}

// UpdateSessionTokens records the session's token accounting. Pass a negative
// baseContextTokens to leave it unchanged.
func (s *Store) UpdateSessionTokens(ctx context.Context, id string, baseContextTokens, totalTokens int) error {
	var res sql.Result
	var err error
	if baseContextTokens >= 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET base_context_tokens = ?, total_tokens = ?, updated = ? WHERE id = ?`,
			baseContextTokens, totalTokens, time.Now().UnixMilli(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET total_tokens = ?, updated = ? WHERE id = ?`,
			totalTokens, time.Now().UnixMilli(), id)
	}
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// DeleteSession removes the session and cascades to messages, parts, steps,
// and todos.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// GetSessionCount returns the number of sessions.
func (s *Store) GetSessionCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// GetLastSession returns the most recently updated session, or
// types.ErrNotFound when the store is empty.
func (s *Store) GetLastSession(ctx context.Context) (*types.Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY updated DESC, created DESC LIMIT 1`))
	if err != nil {
		return nil, err
	}
	sess.Messages, err = s.loadMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

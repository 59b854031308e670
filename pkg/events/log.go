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

package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/skein/internal/sqlitedriver"
	"github.com/teradata-labs/skein/pkg/types"
)

const (
	// busyRetryBase is the initial backoff when SQLite reports busy.
	busyRetryBase = 50 * time.Millisecond
	// busyRetryMax caps the number of attempts per write.
	busyRetryMax = 5
)

// Log is the durable append-only event store. Events are keyed by
// (channel, timestamp, sequence); the event id is derived from the position
// so a retried save of the same event is idempotent.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenLog opens (or creates) the event log at the given SQLite path.
// Pass ":memory:" for an ephemeral log.
func OpenLog(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	l := &Log{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}
	return l, nil
}

// NewLogWithDB wraps an existing database handle; the schema is created if
// missing. Used when the event log shares the session store's database file.
func NewLogWithDB(db *sql.DB, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}
	return l, nil
}

func (l *Log) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL,
		channel TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (channel, timestamp, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel, timestamp, sequence);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// isBusy reports whether the error is a transient SQLite busy/locked
// condition worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "busy")
}

// Save appends one event. Busy conditions are retried with exponential
// backoff (50ms base, 5 attempts); a replay of an already-saved event is a
// no-op thanks to the position primary key.
func (l *Log) Save(ctx context.Context, event Event) error {
	var lastErr error
	for attempt := 0; attempt < busyRetryMax; attempt++ {
		if attempt > 0 {
			delay := busyRetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		_, err := l.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO events (id, channel, type, timestamp, sequence, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.Channel, event.Type, event.Timestamp, event.Sequence,
			string(event.Payload), time.Now().UnixMilli())
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("%w: save event %s: %v", types.ErrStorageFailed, event.ID, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: save event %s exhausted retries: %v", types.ErrStorageFailed, event.ID, lastErr)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var e Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Channel, &e.Type, &e.Timestamp, &e.Sequence, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadFrom returns up to limit events strictly after cursor in ascending
// (timestamp, sequence) order. A nil cursor reads from the beginning.
func (l *Log) ReadFrom(ctx context.Context, channel string, cursor *Cursor, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows *sql.Rows
	var err error
	if cursor == nil {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, channel, type, timestamp, sequence, payload FROM events
			WHERE channel = ?
			ORDER BY timestamp ASC, sequence ASC LIMIT ?`, channel, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, channel, type, timestamp, sequence, payload FROM events
			WHERE channel = ? AND (timestamp > ? OR (timestamp = ? AND sequence > ?))
			ORDER BY timestamp ASC, sequence ASC LIMIT ?`,
			channel, cursor.Timestamp, cursor.Timestamp, cursor.Sequence, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return scanEvents(rows)
}

// ReadLatest returns the last n events on a channel in ascending order.
func (l *Log) ReadLatest(ctx context.Context, channel string, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, channel, type, timestamp, sequence, payload FROM (
			SELECT id, channel, type, timestamp, sequence, payload FROM events
			WHERE channel = ?
			ORDER BY timestamp DESC, sequence DESC LIMIT ?
		) ORDER BY timestamp ASC, sequence ASC`, channel, n)
	if err != nil {
		return nil, fmt.Errorf("read latest events: %w", err)
	}
	return scanEvents(rows)
}

// ReadRange returns events within the closed interval [start, end].
func (l *Log) ReadRange(ctx context.Context, channel string, start, end Cursor, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, channel, type, timestamp, sequence, payload FROM events
		WHERE channel = ?
		  AND (timestamp > ? OR (timestamp = ? AND sequence >= ?))
		  AND (timestamp < ? OR (timestamp = ? AND sequence <= ?))
		ORDER BY timestamp ASC, sequence ASC LIMIT ?`,
		channel,
		start.Timestamp, start.Timestamp, start.Sequence,
		end.Timestamp, end.Timestamp, end.Sequence,
		limit)
	if err != nil {
		return nil, fmt.Errorf("read event range: %w", err)
	}
	return scanEvents(rows)
}

// Cleanup drops all events older than the given unix-ms timestamp and
// returns how many were removed.
func (l *Log) Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, beforeTimestamp)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// CleanupChannel retains only the last keepLast events on a channel.
// keepLast of zero drops the channel entirely.
func (l *Log) CleanupChannel(ctx context.Context, channel string, keepLast int) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM events WHERE channel = ? AND id NOT IN (
			SELECT id FROM events WHERE channel = ?
			ORDER BY timestamp DESC, sequence DESC LIMIT ?
		)`, channel, channel, keepLast)
	if err != nil {
		return 0, fmt.Errorf("cleanup channel %s: %w", channel, err)
	}
	return res.RowsAffected()
}

// Info summarizes the persisted extent of a channel.
func (l *Log) Info(ctx context.Context, channel string) (ChannelInfo, error) {
	var info ChannelInfo
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE channel = ?`, channel).Scan(&info.Length)
	if err != nil {
		return info, fmt.Errorf("channel info: %w", err)
	}
	if info.Length == 0 {
		return info, nil
	}
	err = l.db.QueryRowContext(ctx, `
		SELECT id, timestamp FROM events WHERE channel = ?
		ORDER BY timestamp ASC, sequence ASC LIMIT 1`, channel).
		Scan(&info.FirstID, &info.FirstTimestamp)
	if err != nil {
		return info, fmt.Errorf("channel info: %w", err)
	}
	err = l.db.QueryRowContext(ctx, `
		SELECT id, timestamp FROM events WHERE channel = ?
		ORDER BY timestamp DESC, sequence DESC LIMIT 1`, channel).
		Scan(&info.LastID, &info.LastTimestamp)
	if err != nil {
		return info, fmt.Errorf("channel info: %w", err)
	}
	return info, nil
}

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

// Package events implements the durable pub/sub layer: an append-only SQLite
// event log plus an in-memory per-channel bus with a bounded replay buffer.
// Within a channel, (timestamp, sequence) pairs are strictly increasing in
// publish order; across channels only timestamps are comparable.
package events

import (
	"encoding/json"
	"fmt"
)

// Event is one persisted record on a channel.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Sequence  int             `json:"sequence"`  // ordinal within the same millisecond
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Cursor returns the event's position within its channel.
func (e Event) Cursor() Cursor {
	return Cursor{Timestamp: e.Timestamp, Sequence: e.Sequence}
}

// EventID formats the canonical event id for a position.
func EventID(timestamp int64, sequence int) string {
	return fmt.Sprintf("evt_%d_%d", timestamp, sequence)
}

// Cursor is a resumption point within a channel.
type Cursor struct {
	Timestamp int64 `json:"timestamp"`
	Sequence  int   `json:"sequence"`
}

// Before reports whether c is strictly earlier than other.
func (c Cursor) Before(other Cursor) bool {
	if c.Timestamp != other.Timestamp {
		return c.Timestamp < other.Timestamp
	}
	return c.Sequence < other.Sequence
}

// ChannelInfo summarizes the persisted extent of a channel.
type ChannelInfo struct {
	Length         int    `json:"length"`
	FirstID        string `json:"firstId,omitempty"`
	LastID         string `json:"lastId,omitempty"`
	FirstTimestamp int64  `json:"firstTimestamp,omitempty"`
	LastTimestamp  int64  `json:"lastTimestamp,omitempty"`
}

// SessionChannel returns the per-session channel name.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// LifecycleChannel carries global session lifecycle events.
const LifecycleChannel = "session-events"

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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishAssignsMonotonePositions(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()

	var prev Cursor
	for i := 0; i < 20; i++ {
		e, err := bus.Publish("session-s1", "text-delta", map[string]string{"text": "x"})
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, prev.Before(e.Cursor()),
				"position %d/%d not after %d/%d", e.Timestamp, e.Sequence, prev.Timestamp, prev.Sequence)
		}
		assert.Equal(t, EventID(e.Timestamp, e.Sequence), e.ID)
		prev = e.Cursor()
	}
}

func TestSubscribeDeliversLiveEvents(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := bus.Subscribe(ctx, "session-s1", nil)

	published, err := bus.Publish("session-s1", "text-delta", map[string]string{"text": "hello"})
	require.NoError(t, err)

	got := recvEvent(t, stream)
	assert.Equal(t, published.ID, got.ID)
	assert.Equal(t, "text-delta", got.Type)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Payload))
}

func TestSubscribeReplaysBufferedTail(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := bus.Publish("session-s1", "text-delta", nil)
		require.NoError(t, err)
	}

	// A late subscriber without a cursor gets the buffered tail.
	stream := bus.Subscribe(ctx, "session-s1", nil)
	var got []Event
	for i := 0; i < 3; i++ {
		got = append(got, recvEvent(t, stream))
	}
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Cursor().Before(got[i].Cursor()))
	}
}

func TestReplayBufferIsBounded(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last Event
	for i := 0; i < replayBufferSize+10; i++ {
		var err error
		last, err = bus.Publish("session-s1", "text-delta", nil)
		require.NoError(t, err)
	}

	stream := bus.Subscribe(ctx, "session-s1", nil)
	count := 0
	for {
		e := recvEvent(t, stream)
		count++
		if e.ID == last.ID {
			break
		}
	}
	assert.Equal(t, replayBufferSize, count)
}

func TestSubscribeCursorFiltersBufferedReplay(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var all []Event
	for i := 0; i < 5; i++ {
		e, err := bus.Publish("session-s1", "text-delta", nil)
		require.NoError(t, err)
		all = append(all, e)
	}

	// Resume strictly after the third event.
	cursor := all[2].Cursor()
	stream := bus.Subscribe(ctx, "session-s1", &cursor)
	assert.Equal(t, all[3].ID, recvEvent(t, stream).ID)
	assert.Equal(t, all[4].ID, recvEvent(t, stream).ID)
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())

	stream := bus.Subscribe(ctx, "session-s1", nil)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok, "stream should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamA := bus.Subscribe(ctx, "session-a", nil)
	streamB := bus.Subscribe(ctx, "session-b", nil)

	_, err := bus.Publish("session-a", "complete", nil)
	require.NoError(t, err)

	got := recvEvent(t, streamA)
	assert.Equal(t, "session-a", got.Channel)

	select {
	case e := <-streamB:
		t.Fatalf("channel b received foreign event %s", e.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

// waitPersisted polls the log until the channel holds want events. The bus
// persists asynchronously, so tests that replay from the log need this.
func waitPersisted(t *testing.T, bus *Bus, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := bus.Info(context.Background(), channel)
		require.NoError(t, err)
		if info.Length >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("events not persisted: want %d on %s", want, channel)
}

func TestSubscribeCursorReplaysFromDurableLog(t *testing.T) {
	log, err := OpenLog(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()
	bus := NewBus(log, nil)
	defer bus.Destroy()

	var all []Event
	for i := 0; i < 5; i++ {
		e, err := bus.Publish("session-s1", "text-delta", map[string]int{"n": i})
		require.NoError(t, err)
		all = append(all, e)
	}
	waitPersisted(t, bus, "session-s1", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cursor := all[1].Cursor()
	stream := bus.Subscribe(ctx, "session-s1", &cursor)

	for _, want := range all[2:] {
		assert.Equal(t, want.ID, recvEvent(t, stream).ID)
	}

	// Replay hands off to live delivery.
	live, err := bus.Publish("session-s1", "complete", nil)
	require.NoError(t, err)
	assert.Equal(t, live.ID, recvEvent(t, stream).ID)
}

func TestSubscribeWithHistoryReplaysTail(t *testing.T) {
	log, err := OpenLog(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()
	bus := NewBus(log, nil)
	defer bus.Destroy()

	var all []Event
	for i := 0; i < 8; i++ {
		e, err := bus.Publish("session-s1", "text-delta", nil)
		require.NoError(t, err)
		all = append(all, e)
	}
	waitPersisted(t, bus, "session-s1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := bus.SubscribeWithHistory(ctx, "session-s1", 3)

	assert.Equal(t, all[5].ID, recvEvent(t, stream).ID)
	assert.Equal(t, all[6].ID, recvEvent(t, stream).ID)
	assert.Equal(t, all[7].ID, recvEvent(t, stream).ID)
}

func TestBusCleanupChannelDropsBuffer(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Destroy()

	for i := 0; i < 5; i++ {
		_, err := bus.Publish("session-s1", "text-delta", nil)
		require.NoError(t, err)
	}

	_, err := bus.CleanupChannel(context.Background(), "session-s1", 0)
	require.NoError(t, err)

	info, err := bus.Info(context.Background(), "session-s1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Length)
}

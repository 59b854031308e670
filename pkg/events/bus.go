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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// replayBufferSize bounds the in-memory per-channel replay buffer.
	replayBufferSize = 50
	// replayRetention is how long buffered events remain replayable.
	replayRetention = 5 * time.Minute
	// subscriberBuffer is the per-subscriber delivery queue. A subscriber
	// that falls further behind than this loses live events and must catch
	// up from the log via its cursor.
	subscriberBuffer = 256
	// replayPageSize is the page size for cursor-based log replay.
	replayPageSize = 100
)

// Bus is the in-memory per-channel fan-out. Publishing never blocks on
// subscribers or persistence; the durable log (if configured) is written on a
// separate goroutine and replayed for late subscribers.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*busChannel
	log      *Log
	logger   *zap.Logger
	wg       sync.WaitGroup
	closed   bool
}

type busChannel struct {
	mu      sync.Mutex
	name    string
	subs    map[int]chan Event
	nextSub int
	ring    []Event
	lastTS  int64
	lastSeq int
}

// NewBus creates a bus. The log may be nil, in which case events are only
// retained in the bounded in-memory buffer.
func NewBus(log *Log, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		channels: make(map[string]*busChannel),
		log:      log,
		logger:   logger,
	}
}

func (b *Bus) channel(name string) *busChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		ch = &busChannel{name: name, subs: make(map[int]chan Event)}
		b.channels[name] = ch
	}
	return ch
}

// Publish assigns the event's position, fans it out to in-memory subscribers,
// and asynchronously appends it to the durable log. Persistence errors are
// logged, never propagated: a slow or failing log must not stall streaming.
func (b *Bus) Publish(channel, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	ch := b.channel(channel)
	ch.mu.Lock()
	ts := time.Now().UnixMilli()
	seq := 0
	if ts < ch.lastTS {
		// Wall clock went backwards; keep the channel monotone.
		ts = ch.lastTS
	}
	if ts == ch.lastTS {
		seq = ch.lastSeq + 1
	}
	ch.lastTS = ts
	ch.lastSeq = seq

	event := Event{
		ID:        EventID(ts, seq),
		Channel:   channel,
		Type:      eventType,
		Timestamp: ts,
		Sequence:  seq,
		Payload:   data,
	}

	ch.ring = append(ch.ring, event)
	if len(ch.ring) > replayBufferSize {
		ch.ring = ch.ring[len(ch.ring)-replayBufferSize:]
	}
	for id, sub := range ch.subs {
		select {
		case sub <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("channel", channel), zap.Int("subscriber", id),
				zap.String("event", event.ID))
		}
	}
	ch.mu.Unlock()

	if b.log != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := b.log.Save(ctx, event); err != nil {
				b.logger.Error("event persistence failed",
					zap.String("channel", channel), zap.String("event", event.ID),
					zap.Error(err))
			}
		}()
	}
	return event, nil
}

// attach registers a live subscriber and returns the buffered replay snapshot
// taken atomically with registration, so no live event falls in the gap.
func (ch *busChannel) attach() (int, chan Event, []Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.nextSub
	ch.nextSub++
	sub := make(chan Event, subscriberBuffer)
	ch.subs[id] = sub

	horizon := time.Now().Add(-replayRetention).UnixMilli()
	var snapshot []Event
	for _, e := range ch.ring {
		if e.Timestamp >= horizon {
			snapshot = append(snapshot, e)
		}
	}
	return id, sub, snapshot
}

func (ch *busChannel) detach(id int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subs, id)
}

// Subscribe yields events on a channel. With a cursor, events after the
// cursor are first replayed from the durable log, then delivery switches to
// live. Without a cursor the buffered tail plus live events are delivered.
// The returned channel closes when ctx is done. Replay and live delivery may
// overlap on the boundary; consumers deduplicate by event id.
func (b *Bus) Subscribe(ctx context.Context, channel string, from *Cursor) <-chan Event {
	ch := b.channel(channel)
	id, live, snapshot := ch.attach()

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ch.detach(id)

		emit := func(e Event) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if from != nil && b.log != nil {
			cursor := *from
			for {
				page, err := b.log.ReadFrom(ctx, channel, &cursor, replayPageSize)
				if err != nil {
					b.logger.Error("event replay failed",
						zap.String("channel", channel), zap.Error(err))
					break
				}
				for _, e := range page {
					if !emit(e) {
						return
					}
					cursor = e.Cursor()
				}
				if len(page) < replayPageSize {
					break
				}
			}
		} else {
			for _, e := range snapshot {
				if from != nil && !from.Before(e.Cursor()) {
					continue
				}
				if !emit(e) {
					return
				}
			}
		}

		for {
			select {
			case e := <-live:
				if !emit(e) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SubscribeWithHistory replays the last n persisted events in chronological
// order, then switches to live delivery. Where the persisted tail overlaps
// the in-memory replay buffer, clients may observe duplicates; deduplicate by
// event id.
func (b *Bus) SubscribeWithHistory(ctx context.Context, channel string, lastN int) <-chan Event {
	ch := b.channel(channel)
	id, live, snapshot := ch.attach()

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ch.detach(id)

		emit := func(e Event) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if b.log != nil && lastN > 0 {
			history, err := b.log.ReadLatest(ctx, channel, lastN)
			if err != nil {
				b.logger.Error("event history replay failed",
					zap.String("channel", channel), zap.Error(err))
			}
			for _, e := range history {
				if !emit(e) {
					return
				}
			}
		} else {
			start := len(snapshot) - lastN
			if start < 0 {
				start = 0
			}
			for _, e := range snapshot[start:] {
				if !emit(e) {
					return
				}
			}
		}

		for {
			select {
			case e := <-live:
				if !emit(e) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Info reports the persisted extent of a channel. Without a log the in-memory
// buffer is summarized instead.
func (b *Bus) Info(ctx context.Context, channel string) (ChannelInfo, error) {
	if b.log != nil {
		return b.log.Info(ctx, channel)
	}
	ch := b.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	info := ChannelInfo{Length: len(ch.ring)}
	if len(ch.ring) > 0 {
		info.FirstID = ch.ring[0].ID
		info.FirstTimestamp = ch.ring[0].Timestamp
		last := ch.ring[len(ch.ring)-1]
		info.LastID = last.ID
		info.LastTimestamp = last.Timestamp
	}
	return info, nil
}

// CleanupChannel drops the channel's in-memory buffer and retains only the
// last keepLast persisted events.
func (b *Bus) CleanupChannel(ctx context.Context, channel string, keepLast int) (int64, error) {
	ch := b.channel(channel)
	ch.mu.Lock()
	ch.ring = nil
	ch.mu.Unlock()
	if b.log == nil {
		return 0, nil
	}
	return b.log.CleanupChannel(ctx, channel, keepLast)
}

// Cleanup drops persisted events older than the given unix-ms timestamp.
func (b *Bus) Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error) {
	if b.log == nil {
		return 0, nil
	}
	return b.log.Cleanup(ctx, beforeTimestamp)
}

// Destroy waits for in-flight persistence and releases all channels.
// Subscribers observe closed channels once their contexts are cancelled.
func (b *Bus) Destroy() {
	b.mu.Lock()
	b.closed = true
	b.channels = make(map[string]*busChannel)
	b.mu.Unlock()
	b.wg.Wait()
}

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

// Package scripted is a deterministic provider that plays back prearranged
// event sequences. It backs offline operation and the engine tests.
package scripted

import (
	"context"
	"io"
	"sync"

	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/provider"
)

// Turn is one scripted completion: either a sequence of events to play or an
// error to fail the open with.
type Turn struct {
	Events []provider.Event
	Err    error
}

// Client implements provider.Provider by replaying scripted turns in order.
// When the script runs out, completions finish immediately with an empty
// text response.
type Client struct {
	mu       sync.Mutex
	turns    []Turn
	requests []provider.Request
}

// New creates a scripted provider with the given turns.
func New(turns ...Turn) *Client {
	return &Client{turns: turns}
}

// TextTurn builds a turn that streams the text and finishes.
func TextTurn(text string) Turn {
	return Turn{Events: []provider.Event{
		{Kind: provider.TextStart},
		{Kind: provider.TextDelta, Text: text},
		{Kind: provider.TextEnd},
		{Kind: provider.Finish, FinishReason: "stop", Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
}

// ToolTurn builds a turn that requests one tool call and finishes.
func ToolTurn(callID, name string, input map[string]any) Turn {
	return Turn{Events: []provider.Event{
		{Kind: provider.ToolInputStart, ToolCallID: callID, ToolName: name},
		{Kind: provider.ToolInputEnd, ToolCallID: callID, ToolName: name},
		{Kind: provider.ToolCall, ToolCallID: callID, ToolName: name, Input: input},
		{Kind: provider.Finish, FinishReason: "tool_use", Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
}

// Push appends turns to the script.
func (c *Client) Push(turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// Requests returns every completion request seen, in order.
func (c *Client) Requests() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]provider.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// ID returns the provider id.
func (c *Client) ID() string { return "scripted" }

// Name returns the provider name.
func (c *Client) Name() string { return "Scripted" }

// Description returns the provider description.
func (c *Client) Description() string { return "Deterministic playback of prearranged responses" }

// ConfigSchema describes the provider configuration.
func (c *Client) ConfigSchema() []provider.ConfigField { return nil }

// IsConfigured always reports true.
func (c *Client) IsConfigured(provider.Config) bool { return true }

// FetchModels returns the single scripted model.
func (c *Client) FetchModels(context.Context, provider.Config) ([]models.Model, error) {
	return []models.Model{{
		ID: "scripted-1", ProviderID: "scripted", Name: "Scripted",
		MaxContext: 128000,
		Input:      []models.Capability{models.CapText, models.CapTools},
		Output:     []models.Capability{models.CapText},
		Reasoning:  models.ReasoningNo,
		Status:     models.ModelActive,
	}}, nil
}

// ModelDetails returns fixed limits.
func (c *Client) ModelDetails(context.Context, string, provider.Config) (*provider.ModelDetails, error) {
	return &provider.ModelDetails{ContextLength: 128000, MaxOutput: 8192}, nil
}

// OpenCompletion pops the next scripted turn.
func (c *Client) OpenCompletion(ctx context.Context, _ provider.Config, req provider.Request) (provider.Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var turn Turn
	if len(c.turns) > 0 {
		turn = c.turns[0]
		c.turns = c.turns[1:]
	} else {
		turn = Turn{Events: []provider.Event{{Kind: provider.Finish, FinishReason: "stop"}}}
	}
	c.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}
	return &stream{ctx: ctx, events: turn.Events}, nil
}

type stream struct {
	ctx    context.Context
	events []provider.Event
	pos    int
}

// Recv returns the next scripted event.
func (s *stream) Recv() (provider.Event, error) {
	select {
	case <-s.ctx.Done():
		return provider.Event{}, s.ctx.Err()
	default:
	}
	if s.pos >= len(s.events) {
		return provider.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Close is a no-op.
func (s *stream) Close() error { return nil }

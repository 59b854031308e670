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

// Package anthropic adapts the Anthropic Messages API to the uniform
// provider capability. The adapter speaks the HTTP streaming API directly;
// tool input JSON is accumulated per content block and surfaced as a single
// tool-call event when the block closes.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/types"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 8192
)

// Client implements provider.Provider for Anthropic.
type Client struct {
	endpoint   string
	httpClient *http.Client
	modelCache *models.TTLCache[[]models.Model]
}

// New creates an Anthropic provider adapter.
func New() *Client {
	return &Client{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{},
		modelCache: models.NewTTLCache[[]models.Model](0),
	}
}

// ID returns the provider id.
func (c *Client) ID() string { return "anthropic" }

// Name returns the provider name.
func (c *Client) Name() string { return "Anthropic" }

// Description returns the provider description.
func (c *Client) Description() string { return "Claude models via the Anthropic Messages API" }

// ConfigSchema describes the provider configuration.
func (c *Client) ConfigSchema() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "apiKey", Label: "API Key", Secret: true, Required: true, Placeholder: "sk-ant-..."},
		{Key: "endpoint", Label: "API Endpoint", Placeholder: defaultEndpoint},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured(config provider.Config) bool {
	return config.APIKey() != ""
}

// catalog is the static Anthropic model catalog. The Messages API has no
// public enumeration endpoint usable with every key tier, so enumeration
// returns the catalog filtered by configuration.
var catalog = []models.Model{
	{
		ID: "claude-sonnet-4-5", ProviderID: "anthropic", Name: "Claude Sonnet 4.5",
		MaxContext: 200000,
		Input:      []models.Capability{models.CapText, models.CapImage, models.CapFile, models.CapTools},
		Output:     []models.Capability{models.CapText},
		Reasoning:  models.ReasoningAuto, Status: models.ModelActive,
		Pricing: &models.Pricing{InputPerMTok: 3, OutputPerMTok: 15},
	},
	{
		ID: "claude-haiku-4-5", ProviderID: "anthropic", Name: "Claude Haiku 4.5",
		MaxContext: 200000,
		Input:      []models.Capability{models.CapText, models.CapImage, models.CapTools},
		Output:     []models.Capability{models.CapText},
		Reasoning:  models.ReasoningNo, Status: models.ModelActive,
		Pricing: &models.Pricing{InputPerMTok: 1, OutputPerMTok: 5},
	},
}

// FetchModels enumerates available models.
func (c *Client) FetchModels(ctx context.Context, config provider.Config) ([]models.Model, error) {
	key := models.CacheKey(c.ID(), config.APIKey())
	if cached, ok := c.modelCache.Get(key); ok {
		return cached, nil
	}
	out := make([]models.Model, len(catalog))
	copy(out, catalog)
	c.modelCache.Put(key, out)
	return out, nil
}

// ModelDetails returns limits for a catalog model.
func (c *Client) ModelDetails(_ context.Context, modelID string, _ provider.Config) (*provider.ModelDetails, error) {
	for _, m := range catalog {
		if m.ID == modelID {
			d := &provider.ModelDetails{ContextLength: m.MaxContext, MaxOutput: defaultMaxTokens}
			if m.Pricing != nil {
				d.InputPrice = m.Pricing.InputPerMTok
				d.OutputPrice = m.Pricing.OutputPerMTok
			}
			return d, nil
		}
	}
	return nil, nil
}

// convertRequest lowers the uniform request to the Messages API wire format.
// System-role messages are combined into the separate system field the API
// requires.
func convertRequest(req provider.Request) *messagesRequest {
	var systemPrompts []string
	var wire []wireMessage

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			for _, part := range msg.Content {
				if part.Kind == provider.ContentText && part.Text != "" {
					systemPrompts = append(systemPrompts, part.Text)
				}
			}
			continue
		}
		var blocks []wireBlock
		for _, part := range msg.Content {
			switch part.Kind {
			case provider.ContentText:
				if part.Text != "" {
					blocks = append(blocks, wireBlock{Type: "text", Text: part.Text})
				}
			case provider.ContentReasoning:
				if part.Text != "" {
					blocks = append(blocks, wireBlock{Type: "thinking", Thinking: part.Text})
				}
			case provider.ContentFile:
				blockType := "document"
				if strings.HasPrefix(part.MediaType, "image/") {
					blockType = "image"
				}
				blocks = append(blocks, wireBlock{
					Type: blockType,
					Source: &wireSource{
						Type:      "base64",
						MediaType: part.MediaType,
						Data:      base64.StdEncoding.EncodeToString(part.Data),
					},
				})
			case provider.ContentToolCall:
				blocks = append(blocks, wireBlock{
					Type: "tool_use", ID: part.ToolCallID, Name: part.ToolName, Input: part.Input,
				})
			case provider.ContentToolResult:
				result, _ := json.Marshal(part.Result)
				wire = append(wire, wireMessage{
					Role: "user",
					Content: []wireBlock{{
						Type: "tool_result", ToolUseID: part.ToolCallID,
						Content: string(result), IsError: part.IsError,
					}},
				})
			}
		}
		if len(blocks) > 0 {
			wire = append(wire, wireMessage{Role: msg.Role, Content: blocks})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	out := &messagesRequest{
		Model:     req.Model,
		Messages:  wire,
		MaxTokens: maxTokens,
		System:    strings.Join(systemPrompts, "\n\n"),
		Stream:    true,
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return out
}

// OpenCompletion opens a streaming completion against the Messages API.
func (c *Client) OpenCompletion(ctx context.Context, config provider.Config, req provider.Request) (provider.Stream, error) {
	body, err := json.Marshal(convertRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.endpoint
	if ep := config["endpoint"]; ep != "" {
		endpoint = ep
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", config.APIKey())
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open completion: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", types.ErrProviderAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return &stream{
		ctx:     ctx,
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		inputs:  make(map[int]*toolInput),
	}, nil
}

type toolInput struct {
	id   string
	name string
	json strings.Builder
}

// stream converts the Messages API SSE frames to provider events. One SSE
// frame may yield several events (a closing tool block yields tool-input-end
// then tool-call), so decoded events queue until pulled.
type stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	queue   []provider.Event

	inputs     map[int]*toolInput
	blockKinds map[int]string
	usage      provider.Usage
	stopReason string
	done       bool
}

// Recv returns the next provider event, or io.EOF after finish.
func (s *stream) Recv() (provider.Event, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.done {
			return provider.Event{}, io.EOF
		}
		select {
		case <-s.ctx.Done():
			return provider.Event{}, s.ctx.Err()
		default:
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return provider.Event{}, fmt.Errorf("read stream: %w", err)
			}
			// Stream ended without message_stop; treat as finished.
			s.done = true
			s.queue = append(s.queue, provider.Event{
				Kind: provider.Finish, Usage: s.usage, FinishReason: s.stopReason,
			})
			continue
		}
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			return provider.Event{}, fmt.Errorf("%w: %v", types.ErrProviderProtocol, err)
		}
		s.handle(event)
	}
}

func (s *stream) handle(event streamEvent) {
	if s.blockKinds == nil {
		s.blockKinds = make(map[int]string)
	}
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.usage.InputTokens = event.Message.Usage.InputTokens
		}

	case "content_block_start":
		if event.ContentBlock == nil {
			return
		}
		s.blockKinds[event.Index] = event.ContentBlock.Type
		switch event.ContentBlock.Type {
		case "text":
			s.queue = append(s.queue, provider.Event{Kind: provider.TextStart})
		case "thinking":
			s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningStart})
		case "tool_use":
			s.inputs[event.Index] = &toolInput{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
			s.queue = append(s.queue, provider.Event{
				Kind: provider.ToolInputStart,
				ToolCallID: event.ContentBlock.ID, ToolName: event.ContentBlock.Name,
			})
		}

	case "content_block_delta":
		if event.Delta == nil {
			return
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				s.queue = append(s.queue, provider.Event{Kind: provider.TextDelta, Text: event.Delta.Text})
			}
		case "thinking_delta":
			if event.Delta.Thinking != "" {
				s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningDelta, Text: event.Delta.Thinking})
			}
		case "input_json_delta":
			if in, ok := s.inputs[event.Index]; ok {
				in.json.WriteString(event.Delta.PartialJSON)
				s.queue = append(s.queue, provider.Event{
					Kind: provider.ToolInputDelta,
					ToolCallID: in.id, ToolName: in.name, InputDelta: event.Delta.PartialJSON,
				})
			}
		}

	case "content_block_stop":
		switch s.blockKinds[event.Index] {
		case "text":
			s.queue = append(s.queue, provider.Event{Kind: provider.TextEnd})
		case "thinking":
			s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningEnd})
		case "tool_use":
			in := s.inputs[event.Index]
			delete(s.inputs, event.Index)
			if in == nil {
				return
			}
			input := map[string]any{}
			if in.json.Len() > 0 {
				_ = json.Unmarshal([]byte(in.json.String()), &input)
			}
			s.queue = append(s.queue,
				provider.Event{Kind: provider.ToolInputEnd, ToolCallID: in.id, ToolName: in.name},
				provider.Event{Kind: provider.ToolCall, ToolCallID: in.id, ToolName: in.name, Input: input},
			)
		}
		delete(s.blockKinds, event.Index)

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			s.stopReason = event.Delta.StopReason
		}
		if event.Usage != nil {
			s.usage.OutputTokens = event.Usage.OutputTokens
		}

	case "message_stop":
		s.done = true
		s.queue = append(s.queue, provider.Event{
			Kind: provider.Finish, Usage: s.usage, FinishReason: s.stopReason,
		})

	case "error":
		s.done = true
		msg := "provider error"
		if event.Error != nil {
			msg = event.Error.Message
		}
		s.queue = append(s.queue, provider.Event{
			Kind: provider.Finish, Usage: s.usage, FinishReason: "error: " + msg,
		})
	}
}

// Close releases the HTTP response body.
func (s *stream) Close() error {
	return s.body.Close()
}

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

// Package openrouter adapts the OpenRouter chat-completions API, which is
// OpenAI wire compatible. Model capabilities are discovered dynamically from
// the models endpoint and cached.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/internal/log"
	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/types"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultMaxTokens = 8192
	enumTimeout      = 10 * time.Second
	enumRetries      = 2
)

// Client implements provider.Provider for OpenRouter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	modelCache *models.TTLCache[[]models.Model]
	paramCache *models.TTLCache[map[string][]string]
}

// New creates an OpenRouter provider adapter.
func New() *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		modelCache: models.NewTTLCache[[]models.Model](0),
		paramCache: models.NewTTLCache[map[string][]string](0),
	}
}

// ID returns the provider id.
func (c *Client) ID() string { return "openrouter" }

// Name returns the provider name.
func (c *Client) Name() string { return "OpenRouter" }

// Description returns the provider description.
func (c *Client) Description() string { return "Many models via the OpenRouter aggregation API" }

// ConfigSchema describes the provider configuration.
func (c *Client) ConfigSchema() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "apiKey", Label: "API Key", Secret: true, Required: true, Placeholder: "sk-or-..."},
		{Key: "baseUrl", Label: "Base URL", Placeholder: defaultBaseURL},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured(config provider.Config) bool {
	return config.APIKey() != ""
}

func (c *Client) resolveBase(config provider.Config) string {
	if b := config["baseUrl"]; b != "" {
		return strings.TrimRight(b, "/")
	}
	return c.baseURL
}

// listedModel is one entry of the OpenRouter models listing.
type listedModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	Architecture  struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	SupportedParameters []string `json:"supported_parameters"`
}

// FetchModels enumerates OpenRouter models with retry and an hour-long cache.
func (c *Client) FetchModels(ctx context.Context, config provider.Config) ([]models.Model, error) {
	cacheKey := models.CacheKey(c.ID(), config.APIKey())
	if cached, ok := c.modelCache.Get(cacheKey); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt <= enumRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		out, params, err := c.fetchModelsOnce(ctx, config)
		if err != nil {
			lastErr = err
			log.Debug("openrouter model enumeration failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		c.modelCache.Put(cacheKey, out)
		c.paramCache.Put(cacheKey, params)
		return out, nil
	}
	return nil, fmt.Errorf("fetch models: %w", lastErr)
}

func (c *Client) fetchModelsOnce(ctx context.Context, config provider.Config) ([]models.Model, map[string][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, enumTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveBase(config)+"/models", nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+config.APIKey())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, fmt.Errorf("%w: status %d", types.ErrProviderAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("models listing failed (status %d): %s", resp.StatusCode, string(body))
	}

	var listing struct {
		Data []listedModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrProviderProtocol, err)
	}

	out := make([]models.Model, 0, len(listing.Data))
	params := make(map[string][]string, len(listing.Data))
	for _, lm := range listing.Data {
		params[lm.ID] = lm.SupportedParameters
		out = append(out, convertListing(lm))
	}
	return out, params, nil
}

func convertListing(lm listedModel) models.Model {
	m := models.Model{
		ID:         lm.ID,
		ProviderID: "openrouter",
		Name:       lm.Name,
		MaxContext: lm.ContextLength,
		Reasoning:  models.ReasoningNo,
		Status:     models.ModelActive,
	}
	for _, mod := range lm.Architecture.InputModalities {
		switch mod {
		case "text":
			m.Input = append(m.Input, models.CapText)
		case "image":
			m.Input = append(m.Input, models.CapImage)
		case "file":
			m.Input = append(m.Input, models.CapFile)
		case "audio":
			m.Input = append(m.Input, models.CapAudio)
		}
	}
	for _, mod := range lm.Architecture.OutputModalities {
		if mod == "text" {
			m.Output = append(m.Output, models.CapText)
		}
	}
	for _, p := range lm.SupportedParameters {
		switch p {
		case "tools":
			m.Input = append(m.Input, models.CapTools)
		case "reasoning", "include_reasoning":
			m.Reasoning = models.ReasoningAuto
		}
	}
	if in, err := strconv.ParseFloat(lm.Pricing.Prompt, 64); err == nil {
		out, err := strconv.ParseFloat(lm.Pricing.Completion, 64)
		if err == nil {
			// OpenRouter prices are per token; catalog pricing is per MTok.
			m.Pricing = &models.Pricing{InputPerMTok: in * 1e6, OutputPerMTok: out * 1e6}
		}
	}
	return m
}

// ModelDetails returns limits for one model from the cached listing.
func (c *Client) ModelDetails(ctx context.Context, modelID string, config provider.Config) (*provider.ModelDetails, error) {
	listing, err := c.FetchModels(ctx, config)
	if err != nil {
		return nil, err
	}
	for _, m := range listing {
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

// supportsTools consults the cached supported_parameters listing; when the
// listing is unavailable tools are assumed supported and the API decides.
func (c *Client) supportsTools(config provider.Config, modelID string) bool {
	params, ok := c.paramCache.Get(models.CacheKey(c.ID(), config.APIKey()))
	if !ok {
		return true
	}
	supported, ok := params[modelID]
	if !ok {
		return true
	}
	for _, p := range supported {
		if p == "tools" {
			return true
		}
	}
	return false
}

// chat-completions wire types.

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
	Tools     []chatTool    `json:"tools,omitempty"`
	Usage     *usageOpt     `json:"usage,omitempty"`
}

type usageOpt struct {
	Include bool `json:"include"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"` // string or []contentPart
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type toolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Parameters  any    `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string     `json:"content,omitempty"`
			Reasoning string     `json:"reasoning,omitempty"`
			ToolCalls []toolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) convertRequest(config provider.Config, req provider.Request) *chatRequest {
	out := &chatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		Usage:     &usageOpt{Include: true},
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			cm := chatMessage{Role: "assistant"}
			var text strings.Builder
			for _, part := range msg.Content {
				switch part.Kind {
				case provider.ContentText:
					text.WriteString(part.Text)
				case provider.ContentToolCall:
					args, _ := json.Marshal(part.Input)
					tc := toolCall{ID: part.ToolCallID, Type: "function"}
					tc.Function.Name = part.ToolName
					tc.Function.Arguments = string(args)
					cm.ToolCalls = append(cm.ToolCalls, tc)
				}
			}
			if text.Len() > 0 {
				cm.Content = text.String()
			}
			if cm.Content != nil || len(cm.ToolCalls) > 0 {
				out.Messages = append(out.Messages, cm)
			}
		default:
			var parts []contentPart
			for _, part := range msg.Content {
				switch part.Kind {
				case provider.ContentText:
					parts = append(parts, contentPart{Type: "text", Text: part.Text})
				case provider.ContentFile:
					uri := fmt.Sprintf("data:%s;base64,%s",
						part.MediaType, base64.StdEncoding.EncodeToString(part.Data))
					parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
				case provider.ContentToolResult:
					result, _ := json.Marshal(part.Result)
					out.Messages = append(out.Messages, chatMessage{
						Role: "tool", ToolCallID: part.ToolCallID, Content: string(result),
					})
				}
			}
			if len(parts) == 1 && parts[0].Type == "text" {
				out.Messages = append(out.Messages, chatMessage{Role: msg.Role, Content: parts[0].Text})
			} else if len(parts) > 0 {
				out.Messages = append(out.Messages, chatMessage{Role: msg.Role, Content: parts})
			}
		}
	}

	if c.supportsTools(config, req.Model) {
		for _, tool := range req.Tools {
			ct := chatTool{Type: "function"}
			ct.Function.Name = tool.Name
			ct.Function.Description = tool.Description
			ct.Function.Parameters = tool.InputSchema
			out.Tools = append(out.Tools, ct)
		}
	}
	return out
}

// OpenCompletion opens a streaming chat completion.
func (c *Client) OpenCompletion(ctx context.Context, config provider.Config, req provider.Request) (provider.Stream, error) {
	body, err := json.Marshal(c.convertRequest(config, req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.resolveBase(config)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+config.APIKey())

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
		calls:   make(map[int]*pendingCall),
	}, nil
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// stream converts chat-completions SSE chunks to provider events. Tool calls
// arrive as argument fragments indexed by position and are emitted as
// complete tool-call events when the stream finishes or the finish reason
// arrives.
type stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	queue   []provider.Event

	calls        map[int]*pendingCall
	callOrder    []int
	inText       bool
	inReasoning  bool
	usage        provider.Usage
	finishReason string
	done         bool
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
			s.finish()
			continue
		}
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.finish()
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return provider.Event{}, fmt.Errorf("%w: %v", types.ErrProviderProtocol, err)
		}
		s.handle(chunk)
	}
}

func (s *stream) handle(chunk chatChunk) {
	if chunk.Error != nil {
		s.finishReason = "error: " + chunk.Error.Message
		s.finish()
		return
	}
	if chunk.Usage != nil {
		s.usage.InputTokens = chunk.Usage.PromptTokens
		s.usage.OutputTokens = chunk.Usage.CompletionTokens
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Reasoning != "" {
			if !s.inReasoning {
				s.inReasoning = true
				s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningStart})
			}
			s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningDelta, Text: choice.Delta.Reasoning})
		}
		if choice.Delta.Content != "" {
			s.closeReasoning()
			if !s.inText {
				s.inText = true
				s.queue = append(s.queue, provider.Event{Kind: provider.TextStart})
			}
			s.queue = append(s.queue, provider.Event{Kind: provider.TextDelta, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := s.calls[idx]
			if !ok {
				call = &pendingCall{id: tc.ID, name: tc.Function.Name}
				s.calls[idx] = call
				s.callOrder = append(s.callOrder, idx)
				s.queue = append(s.queue, provider.Event{
					Kind: provider.ToolInputStart, ToolCallID: call.id, ToolName: call.name,
				})
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
				s.queue = append(s.queue, provider.Event{
					Kind: provider.ToolInputDelta, ToolCallID: call.id,
					ToolName: call.name, InputDelta: tc.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != "" && s.finishReason == "" {
			s.finishReason = choice.FinishReason
		}
	}
}

func (s *stream) closeReasoning() {
	if s.inReasoning {
		s.inReasoning = false
		s.queue = append(s.queue, provider.Event{Kind: provider.ReasoningEnd})
	}
}

func (s *stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.closeReasoning()
	if s.inText {
		s.inText = false
		s.queue = append(s.queue, provider.Event{Kind: provider.TextEnd})
	}
	for _, idx := range s.callOrder {
		call := s.calls[idx]
		input := map[string]any{}
		if call.args.Len() > 0 {
			_ = json.Unmarshal([]byte(call.args.String()), &input)
		}
		s.queue = append(s.queue,
			provider.Event{Kind: provider.ToolInputEnd, ToolCallID: call.id, ToolName: call.name},
			provider.Event{Kind: provider.ToolCall, ToolCallID: call.id, ToolName: call.name, Input: input},
		)
	}
	s.calls = map[int]*pendingCall{}
	s.callOrder = nil
	s.queue = append(s.queue, provider.Event{
		Kind: provider.Finish, Usage: s.usage, FinishReason: s.finishReason,
	})
}

// Close releases the HTTP response body.
func (s *stream) Close() error {
	return s.body.Close()
}

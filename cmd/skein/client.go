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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/skein/internal/log"
	"github.com/teradata-labs/skein/pkg/engine"
	"github.com/teradata-labs/skein/pkg/events"
	"github.com/teradata-labs/skein/pkg/types"
)

// replayLast covers the events published between trigger and attach.
const replayLast = 50

// runLocalPrompt runs one assistant turn against an in-process stack and
// prints the streamed response.
func runLocalPrompt(ctx context.Context, promptText string) error {
	logger := zap.NewNop()
	if os.Getenv("SKEIN_DEBUG") != "" {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	log.SetLogger(logger)

	c, err := buildCore(flagDB, logger)
	if err != nil {
		return err
	}
	defer c.close()

	providerID, modelID := resolveTarget(c)
	sessionID, err := c.engine.TriggerStream(ctx, engine.TriggerInput{
		Provider: providerID,
		Model:    modelID,
		Content:  []types.Part{types.TextPart(promptText)},
	})
	if err != nil {
		return err
	}

	// The turn goroutine is already publishing; replay covers the gap
	// between trigger and attach.
	stream := c.bus.SubscribeWithHistory(ctx, events.SessionChannel(sessionID), replayLast)
	for event := range stream {
		var ev types.StreamEvent
		if err := json.Unmarshal(event.Payload, &ev); err != nil {
			continue
		}
		if done, err := printStreamEvent(ev); done {
			return err
		}
	}
	return ctx.Err()
}

// resolveTarget picks the provider/model for a new session from flags, then
// config, then the first catalog entry.
func resolveTarget(c *core) (string, string) {
	cfg := c.config.Current()
	providerID := flagProvider
	if providerID == "" {
		providerID = cfg.DefaultProvider
	}
	modelID := flagModel
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	if providerID != "" && modelID != "" {
		return providerID, modelID
	}
	for _, m := range c.rpc.Models.GetAllModels() {
		if providerID == "" || m.ProviderID == providerID {
			return m.ProviderID, m.ID
		}
	}
	return providerID, modelID
}

// printStreamEvent renders one stream event to stdout. It returns done=true
// on a terminal event, with the error for the error variant.
func printStreamEvent(ev types.StreamEvent) (bool, error) {
	switch ev.Type {
	case types.EventTextDelta:
		fmt.Print(ev.Text)
	case types.EventTextEnd:
		fmt.Println()
	case types.EventToolCall:
		fmt.Fprintf(os.Stderr, "[tool %s]\n", ev.ToolName)
	case types.EventComplete:
		return true, nil
	case types.EventAbort:
		fmt.Fprintln(os.Stderr, "[aborted]")
		return true, nil
	case types.EventError:
		return true, fmt.Errorf("assistant error: %s", ev.Error)
	}
	return false, nil
}

// remoteClient talks to a running skein server over its RPC surface.
type remoteClient struct {
	baseURL string
	http    *http.Client
}

func newRemoteClient(baseURL string) *remoteClient {
	return &remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call invokes a query or mutation and decodes the result envelope.
func (c *remoteClient) call(ctx context.Context, procedure string, input, output any) error {
	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+procedure, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%s: bad response (%d): %w", procedure, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %s: %s", procedure, envelope.Error.Code, envelope.Error.Message)
	}
	if output != nil {
		return json.Unmarshal(envelope.Result, output)
	}
	return nil
}

// runRemotePrompt triggers one turn on a remote server and streams the
// response over SSE until a terminal event.
func runRemotePrompt(ctx context.Context, serverURL, promptText string) error {
	client := newRemoteClient(serverURL)

	var triggered struct {
		SessionID string `json:"sessionId"`
	}
	err := client.call(ctx, "message.triggerStream", engine.TriggerInput{
		Provider: flagProvider,
		Model:    flagModel,
		Content:  []types.Part{types.TextPart(promptText)},
	}, &triggered)
	if err != nil {
		return err
	}

	subscribeURL := fmt.Sprintf("%s/rpc/message.subscribe?sessionId=%s&replayLast=%d",
		client.baseURL, url.QueryEscape(triggered.SessionID), replayLast)
	sseClient := sse.NewClient(subscribeURL)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var turnErr error
	err = sseClient.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
		var ev types.StreamEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		if done, err := printStreamEvent(ev); done {
			turnErr = err
			cancel()
		}
	})
	if turnErr != nil {
		return turnErr
	}
	if err != nil && ctx.Err() == nil && streamCtx.Err() != nil {
		// Cancelled by the terminal event handler; not a failure.
		return nil
	}
	return err
}

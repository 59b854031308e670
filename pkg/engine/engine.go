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

// Package engine drives assistant turns: it owns the per-session streaming
// task, feeds the trigger layer and context assembler, consumes the provider
// stream, interleaves tool execution, persists parts, and publishes the
// session event stream.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/pkg/events"
	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/prompt"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/tools"
	"github.com/teradata-labs/skein/pkg/triggers"
	"github.com/teradata-labs/skein/pkg/types"
)

// ConfigResolver supplies credentials for a provider id.
type ConfigResolver func(providerID string) provider.Config

// Options configures an Engine.
type Options struct {
	Store     *store.Store
	Bus       *events.Bus
	Providers *provider.Registry
	Models    *models.Registry
	Rules     *triggers.Registry
	Tools     *tools.Registry
	Executor  *tools.Executor
	Assembler *prompt.Assembler
	Resolver  ConfigResolver
	// SystemPrompt is prepended to every completion and charged to the
	// session's base context tokens.
	SystemPrompt string
	Logger       *zap.Logger
}

// Engine is the streaming core. One Engine serves many sessions; each
// session runs at most one streaming task at a time.
type Engine struct {
	store     *store.Store
	bus       *events.Bus
	providers *provider.Registry
	models    *models.Registry
	rules     *triggers.Registry
	tools     *tools.Registry
	executor  *tools.Executor
	assembler *prompt.Assembler
	resolver  ConfigResolver
	system    string
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = func(string) provider.Config { return provider.Config{} }
	}
	return &Engine{
		store:     opts.Store,
		bus:       opts.Bus,
		providers: opts.Providers,
		models:    opts.Models,
		rules:     opts.Rules,
		tools:     opts.Tools,
		executor:  opts.Executor,
		assembler: opts.Assembler,
		resolver:  resolver,
		system:    opts.SystemPrompt,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// TriggerInput is the input to TriggerStream.
type TriggerInput struct {
	SessionID string       `json:"sessionId,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model,omitempty"`
	AgentID   string       `json:"agentId,omitempty"`
	Content   []types.Part `json:"content,omitempty"`
}

// publish sends a stream event on the session channel. Publish failures are
// logged, never fatal to the turn.
func (e *Engine) publish(sessionID string, ev types.StreamEvent) {
	ev.SessionID = sessionID
	if _, err := e.bus.Publish(events.SessionChannel(sessionID), string(ev.Type), ev); err != nil {
		e.logger.Warn("publish stream event failed",
			zap.String("session", sessionID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// publishLifecycle mirrors a session lifecycle event onto the shared
// lifecycle channel so listing UIs can follow along without per-session
// subscriptions.
func (e *Engine) publishLifecycle(ev types.StreamEvent) {
	if _, err := e.bus.Publish(events.LifecycleChannel, string(ev.Type), ev); err != nil {
		e.logger.Warn("publish lifecycle event failed", zap.Error(err))
	}
}

// TriggerStream starts an asynchronous assistant turn and returns the
// session id immediately. When SessionID is empty a session is created with
// the given provider/model. When Content is present it is appended as a user
// message before the turn starts. A second concurrent stream on the same
// session is rejected with ErrSessionBusy.
func (e *Engine) TriggerStream(ctx context.Context, input TriggerInput) (string, error) {
	sessionID := input.SessionID
	if sessionID == "" {
		session, err := e.store.CreateSession(ctx, input.Provider, input.Model, input.AgentID, nil)
		if err != nil {
			return "", err
		}
		sessionID = session.ID
		created := types.StreamEvent{
			Type: types.EventSessionCreated, SessionID: sessionID,
			Provider: session.Provider, Model: session.Model,
		}
		e.publish(sessionID, created)
		e.publishLifecycle(created)
	} else if _, err := e.store.GetSessionByID(ctx, sessionID); err != nil {
		return "", err
	}

	// The busy slot is claimed before any mutation: a rejected trigger must
	// leave the session untouched.
	e.mu.Lock()
	if _, busy := e.active[sessionID]; busy {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: session %s", types.ErrSessionBusy, sessionID)
	}
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.active[sessionID] = cancel
	e.mu.Unlock()

	release := func() {
		cancel()
		e.mu.Lock()
		delete(e.active, sessionID)
		e.mu.Unlock()
	}

	if len(input.Content) > 0 {
		metadata := userMessageMetadata(ctx)
		snapshot, err := e.store.GetTodos(ctx, sessionID)
		if err != nil {
			release()
			return "", err
		}
		messageID, err := e.store.AddMessage(ctx, sessionID, types.RoleUser, input.Content, metadata, snapshot)
		if err != nil {
			release()
			return "", err
		}
		e.publish(sessionID, types.StreamEvent{
			Type: types.EventUserMessageCreated, MessageID: messageID, Content: input.Content,
		})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		e.runTurn(turnCtx, sessionID)
	}()

	return sessionID, nil
}

// Abort cancels the session's active stream, if any. Aborting an idle
// session is a no-op.
func (e *Engine) Abort(sessionID string) {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Busy reports whether the session has an active streaming task.
func (e *Engine) Busy(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[sessionID]
	return ok
}

// Wait blocks until all active streaming tasks finish. Shutdown calls this
// after cancelling.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown aborts every active stream and waits for the tasks to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// userMessageMetadata snapshots wall clock and host utilization onto a user
// message so prompt assembly can render the system status block.
func userMessageMetadata(ctx context.Context) map[string]any {
	metadata := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if sample, err := triggers.SampleResources(ctx); err == nil {
		metadata["cpuPercent"] = fmt.Sprintf("%.1f", sample.CPU*100)
		metadata["memoryPercent"] = fmt.Sprintf("%.1f", sample.Memory*100)
	}
	return metadata
}

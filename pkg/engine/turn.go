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

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/pkg/prompt"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/tools"
	"github.com/teradata-labs/skein/pkg/triggers"
	"github.com/teradata-labs/skein/pkg/types"
)

const (
	// coalesceWindow batches part writes during streaming; boundaries always
	// flush.
	coalesceWindow = 50 * time.Millisecond
	// maxTurnSteps bounds tool round-trips within one assistant turn.
	maxTurnSteps = 32
)

// runTurn drives one complete assistant turn for the session.
func (e *Engine) runTurn(ctx context.Context, sessionID string) {
	session, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		e.logger.Error("turn aborted, session unreadable",
			zap.String("session", sessionID), zap.Error(err))
		return
	}

	if err := e.applyTriggers(ctx, session); err != nil {
		e.logger.Warn("trigger evaluation failed",
			zap.String("session", sessionID), zap.Error(err))
	}

	snapshot, err := e.store.GetTodos(ctx, sessionID)
	if err != nil {
		e.logger.Error("turn aborted, todos unreadable", zap.Error(err))
		return
	}
	messageID, err := e.store.AddMessage(ctx, sessionID, types.RoleAssistant, nil, nil, snapshot)
	if err != nil {
		e.logger.Error("turn aborted, assistant message not created", zap.Error(err))
		return
	}
	e.publish(sessionID, types.StreamEvent{Type: types.EventAssistantMessageCreated, MessageID: messageID})

	turn := &turnState{e: e, sessionID: sessionID, messageID: messageID}
	err = turn.run(ctx, session.Provider, session.Model)

	switch {
	case err == nil:
		e.finishTurn(sessionID, messageID, types.StatusCompleted, &turn.usage, turn.finishReason, nil)
	case errors.Is(err, context.Canceled):
		turn.flushAborted()
		e.finishTurn(sessionID, messageID, types.StatusAbort, &turn.usage, "abort", nil)
	default:
		turn.appendErrorPart(err)
		e.finishTurn(sessionID, messageID, types.StatusError, &turn.usage, "error", err)
	}
}

// applyTriggers runs the rule pass, applies the merged flag patch, and
// inserts each advisory as a session system message.
func (e *Engine) applyTriggers(ctx context.Context, session *types.Session) error {
	eval, err := e.rules.Evaluate(ctx, session, triggers.Context{
		CurrentTokens: session.TotalTokens,
		MaxTokens:     e.models.MaxContext(session.Model),
	})
	if err != nil {
		return err
	}
	if len(eval.FlagUpdates) > 0 {
		if err := e.store.UpdateSessionFlags(ctx, session.ID, eval.FlagUpdates); err != nil {
			return err
		}
		if session.Flags == nil {
			session.Flags = make(map[string]bool)
		}
		for k, v := range eval.FlagUpdates {
			session.Flags[k] = v
		}
	}
	for _, sm := range eval.SystemMessages {
		part := types.Part{
			Type:        types.PartSystemMessage,
			Status:      types.PartCompleted,
			Content:     sm.Content,
			MessageType: sm.MessageType,
			Timestamp:   time.Now().UnixMilli(),
		}
		messageID, err := e.store.AddMessage(ctx, session.ID, types.RoleSystem,
			[]types.Part{part}, nil, nil)
		if err != nil {
			return err
		}
		e.publish(session.ID, types.StreamEvent{
			Type: types.EventSystemMessageCreated, MessageID: messageID, Content: []types.Part{part},
		})
	}
	return nil
}

// finishTurn transitions the assistant message, publishes the adjacent
// status-update/terminal pair, recomputes token accounting, and kicks off
// title generation.
func (e *Engine) finishTurn(sessionID, messageID string, status types.MessageStatus,
	usage *types.Usage, finishReason string, cause error) {

	// The turn context may already be cancelled; terminal bookkeeping gets
	// its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.UpdateMessageStatus(ctx, messageID, status, usage, finishReason); err != nil {
		// Advertising a transition that never persisted would desync every
		// replaying client; the storage failure becomes the terminal.
		e.logger.Error("message status transition failed",
			zap.String("message", messageID), zap.Error(err))
		e.publish(sessionID, types.StreamEvent{
			Type:  types.EventError,
			Error: fmt.Sprintf("terminal status not persisted: %v", err),
		})
		return
	}
	e.publish(sessionID, types.StreamEvent{
		Type: types.EventMessageStatusUpdated, MessageID: messageID,
		Status: status, Usage: usage, FinishReason: finishReason,
	})
	switch status {
	case types.StatusCompleted:
		e.publish(sessionID, types.StreamEvent{
			Type: types.EventComplete, Usage: usage, FinishReason: finishReason,
		})
	case types.StatusAbort:
		e.publish(sessionID, types.StreamEvent{Type: types.EventAbort})
	case types.StatusError:
		message := "turn failed"
		if cause != nil {
			message = cause.Error()
		}
		e.publish(sessionID, types.StreamEvent{Type: types.EventError, Error: message})
	}

	if err := e.recomputeTokens(ctx, sessionID); err != nil {
		e.logger.Warn("token accounting failed", zap.String("session", sessionID), zap.Error(err))
	}
	if status == types.StatusCompleted {
		go e.generateTitle(sessionID)
	}
}

// toolSchemas builds the provider-facing tool list for a model.
func (e *Engine) toolSchemas(modelID string) []provider.ToolSchema {
	if e.tools == nil {
		return nil
	}
	list := e.tools.List(tools.Filter{ModelID: modelID, EnabledOnly: true})
	out := make([]provider.ToolSchema, 0, len(list))
	for _, tool := range list {
		info := tool.Info()
		out = append(out, provider.ToolSchema{
			Name:        info.ID,
			Description: info.Description,
			InputSchema: tools.Normalize(tool.InputSchema()),
		})
	}
	return out
}

// turnState tracks the streaming position within one assistant turn.
type turnState struct {
	e            *Engine
	sessionID    string
	messageID    string
	stepIndex    int
	stepOpen     bool
	stepBegan    time.Time
	stepUsage    types.Usage
	usage        types.Usage
	finishReason string

	// active text/reasoning part
	part      *types.Part
	partIndex int
	lastFlush time.Time

	// tool calls collected in the open step
	calls     []pendingTool
	toolParts map[string]int // toolCallId -> part index in current step
}

type pendingTool struct {
	call  tools.Call
	index int // part index
}

// run opens provider completions until the model stops asking for tools.
func (t *turnState) run(ctx context.Context, providerID, modelID string) error {
	prov, err := t.e.providers.Get(providerID)
	if err != nil {
		return err
	}
	config := t.e.resolver(providerID)

	for t.stepIndex < maxTurnSteps {
		session, err := t.e.store.GetSessionByID(ctx, t.sessionID)
		if err != nil {
			return err
		}
		messages, err := t.e.assembler.Assemble(ctx, session)
		if err != nil {
			return err
		}
		if t.e.system != "" {
			messages = append([]provider.ModelMessage{provider.TextMessage("system", t.e.system)}, messages...)
		}

		stream, err := prov.OpenCompletion(ctx, config, provider.Request{
			Model:    modelID,
			Messages: messages,
			Tools:    t.e.toolSchemas(modelID),
		})
		if err != nil {
			return err
		}

		again, err := t.consume(ctx, stream)
		_ = stream.Close()
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
	return fmt.Errorf("turn exceeded %d steps", maxTurnSteps)
}

// consume drains one provider stream into the open step. It returns true
// when tool results were produced and another completion is needed.
func (t *turnState) consume(ctx context.Context, stream provider.Stream) (bool, error) {
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return false, fmt.Errorf("%w: stream ended without finish", types.ErrProviderProtocol)
		}
		if err != nil {
			return false, err
		}

		switch ev.Kind {
		case provider.TextStart:
			if err := t.beginPart(ctx, types.Part{Type: types.PartText, Status: types.PartActive}); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventTextStart})

		case provider.TextDelta:
			if err := t.appendDelta(ctx, ev.Text); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventTextDelta, Text: ev.Text})

		case provider.TextEnd:
			if err := t.endPart(ctx); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventTextEnd})

		case provider.ReasoningStart:
			if err := t.beginPart(ctx, types.Part{
				Type: types.PartReasoning, Status: types.PartActive, StartTime: time.Now().UnixMilli(),
			}); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventReasoningStart})

		case provider.ReasoningDelta:
			if err := t.appendDelta(ctx, ev.Text); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventReasoningDelta, Text: ev.Text})

		case provider.ReasoningEnd:
			var duration int64
			if t.part != nil {
				end := time.Now().UnixMilli()
				t.part.EndTime = &end
				duration = end - t.part.StartTime
				t.part.DurationMs = duration
			}
			if err := t.endPart(ctx); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventReasoningEnd, DurationMs: duration})

		case provider.ToolInputStart:
			if err := t.beginToolPart(ctx, ev.ToolCallID, ev.ToolName); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventToolInputStart, ToolCallID: ev.ToolCallID})

		case provider.ToolInputDelta:
			t.emit(types.StreamEvent{
				Type: types.EventToolInputDelta, ToolCallID: ev.ToolCallID, InputTextDelta: ev.InputDelta,
			})

		case provider.ToolInputEnd:
			t.emit(types.StreamEvent{Type: types.EventToolInputEnd, ToolCallID: ev.ToolCallID})

		case provider.ToolCall:
			if err := t.recordToolCall(ctx, ev); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{
				Type: types.EventToolCall, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName, Input: ev.Input,
			})

		case provider.File:
			if err := t.ensureStep(ctx); err != nil {
				return false, err
			}
			part := types.Part{
				Type: types.PartFile, Status: types.PartCompleted,
				MediaType: ev.MediaType, Base64: ev.Base64,
			}
			if _, err := t.e.store.AppendPart(ctx, t.messageID, t.stepIndex, part); err != nil {
				return false, err
			}
			t.emit(types.StreamEvent{Type: types.EventFile, MediaType: ev.MediaType, Base64: ev.Base64})

		case provider.Finish:
			t.stepUsage = types.Usage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens}
			t.finishReason = ev.FinishReason
			if strings.HasPrefix(ev.FinishReason, "error") {
				return false, fmt.Errorf("%w: %s", types.ErrProviderProtocol, ev.FinishReason)
			}
			return t.closeStep(ctx)
		}
	}
}

// ensureStep opens the step lazily on the first content event.
func (t *turnState) ensureStep(ctx context.Context) error {
	if t.stepOpen {
		return nil
	}
	t.stepOpen = true
	t.stepBegan = time.Now()
	t.stepUsage = types.Usage{}
	t.calls = nil
	t.toolParts = make(map[string]int)

	snapshot, err := t.e.store.GetTodos(ctx, t.sessionID)
	if err != nil {
		return err
	}
	t.emit(types.StreamEvent{
		Type:         types.EventStepStart,
		StepID:       fmt.Sprintf("%s:%d", t.messageID, t.stepIndex),
		StepIndex:    t.stepIndex,
		Metadata:     map[string]any{"timestamp": t.stepBegan.Format(time.RFC3339)},
		TodoSnapshot: snapshot,
	})
	return nil
}

func (t *turnState) beginPart(ctx context.Context, part types.Part) error {
	if err := t.ensureStep(ctx); err != nil {
		return err
	}
	if err := t.endPart(ctx); err != nil {
		return err
	}
	index, err := t.e.store.AppendPart(ctx, t.messageID, t.stepIndex, part)
	if err != nil {
		return err
	}
	t.part = &part
	t.partIndex = index
	t.lastFlush = time.Now()
	return nil
}

// appendDelta accumulates streaming content, flushing to the store when the
// coalescing window elapses.
func (t *turnState) appendDelta(ctx context.Context, text string) error {
	if t.part == nil {
		return nil
	}
	t.part.Content += text
	if time.Since(t.lastFlush) >= coalesceWindow {
		t.lastFlush = time.Now()
		return t.e.store.UpdatePart(ctx, t.messageID, t.stepIndex, t.partIndex, *t.part)
	}
	return nil
}

// endPart finalizes the active text/reasoning part in place.
func (t *turnState) endPart(ctx context.Context) error {
	if t.part == nil {
		return nil
	}
	t.part.Status = types.PartCompleted
	err := t.e.store.UpdatePart(ctx, t.messageID, t.stepIndex, t.partIndex, *t.part)
	t.part = nil
	return err
}

func (t *turnState) beginToolPart(ctx context.Context, callID, name string) error {
	if err := t.ensureStep(ctx); err != nil {
		return err
	}
	if err := t.endPart(ctx); err != nil {
		return err
	}
	part := types.Part{Type: types.PartTool, Status: types.PartActive, ToolID: callID, Name: name}
	index, err := t.e.store.AppendPart(ctx, t.messageID, t.stepIndex, part)
	if err != nil {
		return err
	}
	t.toolParts[callID] = index
	return nil
}

func (t *turnState) recordToolCall(ctx context.Context, ev provider.Event) error {
	index, ok := t.toolParts[ev.ToolCallID]
	if !ok {
		// Some providers skip the input events for empty-argument calls.
		if err := t.beginToolPart(ctx, ev.ToolCallID, ev.ToolName); err != nil {
			return err
		}
		index = t.toolParts[ev.ToolCallID]
	}
	part := types.Part{
		Type: types.PartTool, Status: types.PartActive,
		ToolID: ev.ToolCallID, Name: ev.ToolName, Input: ev.Input,
	}
	if err := t.e.store.UpdatePart(ctx, t.messageID, t.stepIndex, index, part); err != nil {
		return err
	}
	t.calls = append(t.calls, pendingTool{
		call:  tools.Call{ToolID: ev.ToolName, CallID: ev.ToolCallID, Args: ev.Input},
		index: index,
	})
	return nil
}

// closeStep runs any collected tool calls, records step metadata, and emits
// step-complete. It returns true when another completion round is needed.
func (t *turnState) closeStep(ctx context.Context) (bool, error) {
	if !t.stepOpen {
		// An empty completion still counts as a step for accounting.
		if err := t.ensureStep(ctx); err != nil {
			return false, err
		}
	}
	if err := t.endPart(ctx); err != nil {
		return false, err
	}

	ranTools := len(t.calls) > 0
	if ranTools {
		if err := t.executeTools(ctx); err != nil {
			return false, err
		}
	}

	duration := time.Since(t.stepBegan).Milliseconds()
	usage := t.stepUsage
	if err := t.e.store.SetStepMeta(ctx, t.messageID, t.stepIndex, &usage, duration); err != nil {
		return false, err
	}
	t.usage.Add(usage)
	t.emit(types.StreamEvent{
		Type:         types.EventStepComplete,
		StepID:       fmt.Sprintf("%s:%d", t.messageID, t.stepIndex),
		Usage:        &usage,
		DurationMs:   duration,
		FinishReason: t.finishReason,
	})

	t.stepIndex++
	t.stepOpen = false
	return ranTools, nil
}

// executeTools runs the step's collected calls through the executor,
// attaches results to their tool parts, and emits tool-result/tool-error.
func (t *turnState) executeTools(ctx context.Context) error {
	calls := make([]tools.Call, len(t.calls))
	for i, pt := range t.calls {
		calls[i] = pt.call
	}
	results, err := t.e.executor.ExecuteAll(ctx, calls, tools.ExecContext{
		SessionID: t.sessionID, MessageID: t.messageID,
	})
	if err != nil {
		return err
	}

	for i, pt := range t.calls {
		res := results[i]
		part := types.Part{
			Type: types.PartTool, ToolID: pt.call.CallID, Name: pt.call.ToolID, Input: pt.call.Args,
		}
		if res.Success {
			part.Status = types.PartCompleted
			part.Result = res.Output
		} else {
			part.Status = types.PartFailed
			if res.Error != nil {
				part.Error = res.Error.Message
			} else {
				part.Error = "tool failed"
			}
		}
		if err := t.e.store.UpdatePart(ctx, t.messageID, t.stepIndex, pt.index, part); err != nil {
			return err
		}
		if res.Success {
			t.emit(types.StreamEvent{
				Type: types.EventToolResult, ToolCallID: pt.call.CallID, ToolName: pt.call.ToolID,
				Result: res.Output, DurationMs: res.DurationMs,
			})
		} else {
			t.emit(types.StreamEvent{
				Type: types.EventToolError, ToolCallID: pt.call.CallID, ToolName: pt.call.ToolID,
				Error: part.Error, DurationMs: res.DurationMs,
			})
		}
	}
	return nil
}

// flushAborted finalizes the in-flight part so deltas received before the
// cancellation survive the coalescing window. The turn context is already
// cancelled; persistence gets its own deadline.
func (t *turnState) flushAborted() {
	if t.part == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.endPart(ctx); err != nil {
		t.e.logger.Warn("aborted part not persisted", zap.Error(err))
	}
}

// appendErrorPart records the turn failure inline so the transcript shows
// where the response broke off.
func (t *turnState) appendErrorPart(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !t.stepOpen {
		if err := t.ensureStep(ctx); err != nil {
			return
		}
	}
	_ = t.endPart(ctx)
	if _, err := t.e.store.AppendPart(ctx, t.messageID, t.stepIndex, types.ErrorPart(cause.Error())); err != nil {
		t.e.logger.Warn("error part not persisted", zap.Error(err))
	}
}

func (t *turnState) emit(ev types.StreamEvent) {
	if ev.MessageID == "" {
		ev.MessageID = t.messageID
	}
	t.e.publish(t.sessionID, ev)
}

// recomputeTokens refreshes the session's token accounting. Base context
// tokens are computed once; the total adds every message's content.
func (e *Engine) recomputeTokens(ctx context.Context, sessionID string) error {
	session, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	tc := prompt.GetTokenCounter()

	base := session.BaseContextTokens
	if base == 0 {
		base = tc.CountTokens(e.system)
		if schemas := e.toolSchemas(session.Model); len(schemas) > 0 {
			if encoded, err := json.Marshal(schemas); err == nil {
				base += tc.CountTokens(string(encoded))
			}
		}
	}

	total := base
	for _, msg := range session.Messages {
		total += messageTokens(tc, msg)
	}

	if err := e.store.UpdateSessionTokens(ctx, sessionID, base, total); err != nil {
		return err
	}
	e.publish(sessionID, types.StreamEvent{
		Type: types.EventSessionTokensUpdated, BaseContextTokens: base, TotalTokens: total,
	})
	return nil
}

// messageTokens counts a message's textual content. Binary attachments count
// zero by convention.
func messageTokens(tc *prompt.TokenCounter, msg *types.Message) int {
	total := 10
	for _, part := range msg.Parts() {
		switch part.Type {
		case types.PartText, types.PartReasoning, types.PartSystemMessage:
			total += tc.CountTokens(part.Content)
		case types.PartTool:
			if encoded, err := json.Marshal(part.Input); err == nil {
				total += tc.CountTokens(string(encoded))
			}
			if part.Result != nil {
				total += tc.CountTokens(fmt.Sprintf("%v", part.Result))
			}
		case types.PartError:
			total += tc.CountTokens(part.Error)
		}
	}
	return total
}

// generateTitle streams a short title for untitled sessions after the first
// completion. Failures are swallowed; the next completion retries.
func (e *Engine) generateTitle(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil || session.Title != "" || len(session.Messages) == 0 {
		return
	}

	var firstUserText string
	for _, msg := range session.Messages {
		if msg.Role == types.RoleUser {
			firstUserText = msg.Text()
			break
		}
	}
	if firstUserText == "" {
		return
	}

	prov, err := e.providers.Get(session.Provider)
	if err != nil {
		return
	}
	stream, err := prov.OpenCompletion(ctx, e.resolver(session.Provider), provider.Request{
		Model: session.Model,
		Messages: []provider.ModelMessage{
			provider.TextMessage("system",
				"Generate a concise title (at most 50 characters) for this conversation. Reply with the title only."),
			provider.TextMessage("user", firstUserText),
		},
		MaxTokens: 64,
	})
	if err != nil {
		e.logger.Debug("title generation failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	defer func() { _ = stream.Close() }()

	e.publish(sessionID, types.StreamEvent{Type: types.EventSessionTitleStart})
	var title strings.Builder
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.logger.Debug("title generation failed", zap.String("session", sessionID), zap.Error(err))
			return
		}
		if ev.Kind == provider.TextDelta {
			title.WriteString(ev.Text)
			e.publish(sessionID, types.StreamEvent{Type: types.EventSessionTitleDelta, Text: ev.Text})
		}
		if ev.Kind == provider.Finish {
			break
		}
	}

	final := strings.TrimSpace(strings.Trim(strings.TrimSpace(title.String()), `"`))
	if final == "" {
		return
	}
	if err := e.store.UpdateSessionTitle(ctx, sessionID, final); err != nil {
		e.logger.Debug("title not persisted", zap.String("session", sessionID), zap.Error(err))
		return
	}
	e.publish(sessionID, types.StreamEvent{Type: types.EventSessionTitleEnd, Title: final})
}

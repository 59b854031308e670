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
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/types"
)

const summaryPreamble = "This session continues an earlier conversation that was compacted. " +
	"The summary below carries over the relevant context:\n\n"

const compactionPrompt = "Summarize the conversation below for a hand-off to a fresh session. " +
	"Preserve decisions, constraints, and open threads. If work is clearly in progress, " +
	"include a `## Current Work` section describing exactly where it stands. " +
	"Reply with the summary only."

// CompactResult reports a successful compaction.
type CompactResult struct {
	NewSessionID    string `json:"newSessionId"`
	Summary         string `json:"summary"`
	OldSessionID    string `json:"oldSessionId"`
	OldSessionTitle string `json:"oldSessionTitle"`
	MessageCount    int    `json:"messageCount"`
}

// compactLocks serializes compaction per source session, independent of the
// streaming lock. Entries are reference counted and removed once idle.
var compactLocks = keyedMutexSet{entries: make(map[string]*keyedMutex)}

type keyedMutexSet struct {
	mu      sync.Mutex
	entries map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func (s *keyedMutexSet) lock(key string) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &keyedMutex{}
		s.entries[key] = entry
	}
	entry.refs++
	s.mu.Unlock()
	entry.mu.Lock()
}

func (s *keyedMutexSet) unlock(key string) {
	s.mu.Lock()
	entry := s.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	entry.mu.Unlock()
}

// Compact summarizes a session into a new successor session. The source
// session is only touched after the successor is fully built; failures roll
// the successor back and leave the source as it was.
func (e *Engine) Compact(ctx context.Context, sessionID string) (*CompactResult, error) {
	compactLocks.lock(sessionID)
	defer compactLocks.unlock(sessionID)

	session, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Messages) == 0 {
		return nil, fmt.Errorf("%w: session %s has no messages to compact", types.ErrInvariantViolated, sessionID)
	}

	transcript := renderTranscript(session)
	summary, err := e.summarize(ctx, session, transcript)
	if err != nil {
		return nil, fmt.Errorf("compaction summary: %w", err)
	}

	title := session.Title
	if title == "" {
		title = "Untitled"
	}
	newSession, err := e.store.CreateSession(ctx, session.Provider, session.Model,
		session.AgentID, session.EnabledRuleIDs)
	if err != nil {
		return nil, err
	}

	rollback := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := e.store.DeleteSession(cleanupCtx, newSession.ID); derr != nil {
			e.logger.Error("compaction rollback failed",
				zap.String("session", newSession.ID), zap.Error(derr))
		}
	}

	if err := e.store.UpdateSessionTitle(ctx, newSession.ID, title+" (continued)"); err != nil {
		rollback()
		return nil, err
	}
	if _, err := e.store.AddMessage(ctx, newSession.ID, types.RoleUser,
		[]types.Part{types.TextPart(summaryPreamble + summary)}, nil, nil); err != nil {
		rollback()
		return nil, err
	}
	if err := e.store.UpdateSessionMetadata(ctx, newSession.ID, map[string]any{
		"compactedFrom":        session.ID,
		"originalTitle":        session.Title,
		"originalMessageCount": len(session.Messages),
	}); err != nil {
		rollback()
		return nil, err
	}

	// The successor is complete; only now mark the source.
	if err := e.store.UpdateSessionMetadata(ctx, session.ID, map[string]any{
		"compacted":   true,
		"compactedTo": newSession.ID,
		"compactedAt": time.Now().Format(time.RFC3339),
	}); err != nil {
		rollback()
		return nil, err
	}

	result := &CompactResult{
		NewSessionID:    newSession.ID,
		Summary:         summary,
		OldSessionID:    session.ID,
		OldSessionTitle: session.Title,
		MessageCount:    len(session.Messages),
	}
	compacted := types.StreamEvent{
		Type:         types.EventSessionCompacted,
		OldSessionID: session.ID,
		NewSessionID: newSession.ID,
		Summary:      summary,
		MessageCount: len(session.Messages),
	}
	e.publish(session.ID, compacted)
	e.publishLifecycle(compacted)
	created := types.StreamEvent{
		Type: types.EventSessionCreated, SessionID: newSession.ID,
		Provider: newSession.Provider, Model: newSession.Model,
	}
	e.publish(newSession.ID, created)
	e.publishLifecycle(created)
	return result, nil
}

// summarize runs the one-shot summary completion over the transcript.
func (e *Engine) summarize(ctx context.Context, session *types.Session, transcript string) (string, error) {
	prov, err := e.providers.Get(session.Provider)
	if err != nil {
		return "", err
	}
	stream, err := prov.OpenCompletion(ctx, e.resolver(session.Provider), provider.Request{
		Model: session.Model,
		Messages: []provider.ModelMessage{
			provider.TextMessage("system", compactionPrompt),
			provider.TextMessage("user", transcript),
		},
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var summary strings.Builder
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if ev.Kind == provider.TextDelta {
			summary.WriteString(ev.Text)
		}
		if ev.Kind == provider.Finish {
			break
		}
	}
	out := strings.TrimSpace(summary.String())
	if out == "" {
		return "", fmt.Errorf("%w: empty summary", types.ErrProviderProtocol)
	}
	return out, nil
}

// renderTranscript serializes the conversation deterministically for the
// summarizer, with attachment markers in place of binary content.
func renderTranscript(session *types.Session) string {
	var b strings.Builder
	for _, msg := range session.Messages {
		label := "User"
		switch msg.Role {
		case types.RoleAssistant:
			label = "Assistant"
		case types.RoleSystem:
			label = "System"
		}
		b.WriteString(label)
		b.WriteString(": ")
		for _, part := range msg.Parts() {
			switch part.Type {
			case types.PartText, types.PartReasoning, types.PartSystemMessage:
				b.WriteString(part.Content)
			case types.PartTool:
				fmt.Fprintf(&b, "[tool %s]", part.Name)
			case types.PartFile, types.PartFileRef:
				fmt.Fprintf(&b, "[attachment %s (%s)]", part.RelativePath, part.MediaType)
			case types.PartError:
				fmt.Fprintf(&b, "[error: %s]", part.Error)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

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
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/skein/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "skein.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "anthropic", "claude-sonnet-4-5", "coder", []string{"contextWarning80"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetSessionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.Provider)
	assert.Equal(t, "claude-sonnet-4-5", got.Model)
	assert.Equal(t, "coder", got.AgentID)
	assert.Equal(t, []string{"contextWarning80"}, got.EnabledRuleIDs)
	assert.Equal(t, 1, got.NextTodoID)
	assert.Empty(t, got.Messages)
	assert.NotNil(t, got.Flags)
}

func TestGetSessionByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSessionByID(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMessageStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)

	// User messages are born completed.
	userID, err := s.AddMessage(ctx, sess.ID, types.RoleUser, []types.Part{types.TextPart("hi")}, nil, nil)
	require.NoError(t, err)
	user, err := s.GetMessage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, user.Status)

	// Assistant messages are born active and may transition to any terminal.
	asstID, err := s.AddMessage(ctx, sess.ID, types.RoleAssistant, nil, nil, nil)
	require.NoError(t, err)
	asst, err := s.GetMessage(ctx, asstID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, asst.Status)

	usage := &types.Usage{PromptTokens: 10, CompletionTokens: 5}
	require.NoError(t, s.UpdateMessageStatus(ctx, asstID, types.StatusCompleted, usage, "stop"))

	asst, err = s.GetMessage(ctx, asstID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, asst.Status)
	assert.Equal(t, "stop", asst.FinishReason)
	require.NotNil(t, asst.Usage)
	assert.Equal(t, 15, asst.Usage.Total())

	// Terminal states are frozen.
	err = s.UpdateMessageStatus(ctx, asstID, types.StatusAbort, nil, "")
	assert.ErrorIs(t, err, types.ErrInvariantViolated)

	// Transitions to active are never legal.
	err = s.UpdateMessageStatus(ctx, asstID, types.StatusActive, nil, "")
	assert.ErrorIs(t, err, types.ErrInvariantViolated)
}

func TestStepIndicesMustBeDense(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	msgID, err := s.AddMessage(ctx, sess.ID, types.RoleAssistant, nil, nil, nil)
	require.NoError(t, err)

	// Step 0 is fine on an empty message, step 2 would leave a hole.
	_, err = s.AppendPart(ctx, msgID, 0, types.TextPart("a"))
	require.NoError(t, err)
	_, err = s.AppendPart(ctx, msgID, 2, types.TextPart("b"))
	assert.ErrorIs(t, err, types.ErrInvariantViolated)

	// The next dense index extends the sequence.
	_, err = s.AppendPart(ctx, msgID, 1, types.TextPart("b"))
	require.NoError(t, err)

	err = s.AppendStep(ctx, msgID, 5, []types.Part{types.TextPart("c")})
	assert.ErrorIs(t, err, types.ErrInvariantViolated)
	require.NoError(t, s.AppendStep(ctx, msgID, 2, []types.Part{types.TextPart("c")}))

	msg, err := s.GetMessage(ctx, msgID)
	require.NoError(t, err)
	require.Len(t, msg.Steps, 3)
	for i, step := range msg.Steps {
		assert.Equal(t, i, step.Index)
	}
}

func TestAppendAndUpdatePart(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	msgID, err := s.AddMessage(ctx, sess.ID, types.RoleAssistant, nil, nil, nil)
	require.NoError(t, err)

	idx, err := s.AppendPart(ctx, msgID, 0, types.Part{Type: types.PartText, Content: "par", Status: types.PartActive})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = s.AppendPart(ctx, msgID, 0, types.Part{Type: types.PartTool, Name: "todo_write", Status: types.PartActive})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	// Finalize the streamed text part in place.
	require.NoError(t, s.UpdatePart(ctx, msgID, 0, 0,
		types.Part{Type: types.PartText, Content: "partial becomes final", Status: types.PartCompleted}))

	msg, err := s.GetMessage(ctx, msgID)
	require.NoError(t, err)
	require.Len(t, msg.Steps, 1)
	require.Len(t, msg.Steps[0].Parts, 2)
	assert.Equal(t, "partial becomes final", msg.Steps[0].Parts[0].Content)
	assert.Equal(t, types.PartCompleted, msg.Steps[0].Parts[0].Status)
	assert.Equal(t, types.PartTool, msg.Steps[0].Parts[1].Type)

	err = s.UpdatePart(ctx, msgID, 0, 9, types.TextPart("x"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStepMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	msgID, err := s.AddMessage(ctx, sess.ID, types.RoleAssistant, nil, nil, nil)
	require.NoError(t, err)

	_, err = s.AppendPart(ctx, msgID, 0, types.TextPart("a"))
	require.NoError(t, err)
	require.NoError(t, s.SetStepMeta(ctx, msgID, 0, &types.Usage{PromptTokens: 100, CompletionTokens: 40}, 1234))

	msg, err := s.GetMessage(ctx, msgID)
	require.NoError(t, err)
	require.Len(t, msg.Steps, 1)
	require.NotNil(t, msg.Steps[0].Usage)
	assert.Equal(t, 140, msg.Steps[0].Usage.Total())
	assert.Equal(t, int64(1234), msg.Steps[0].DurationMs)
}

func TestSessionPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
		require.NoError(t, err)
		require.NoError(t, s.UpdateSessionTitle(ctx, sess.ID, fmt.Sprintf("session %d", i)))
		ids = append(ids, sess.ID)
		// Distinct updated timestamps give a deterministic newest-first order.
		time.Sleep(2 * time.Millisecond)
	}

	page, err := s.GetRecentSessionsMetadata(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, ids[4], page.Items[0].ID)
	assert.Equal(t, ids[3], page.Items[1].ID)

	page, err = s.GetRecentSessionsMetadata(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)

	page, err = s.GetRecentSessionsMetadata(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)
	assert.Empty(t, page.NextCursor)
}

func TestSearchSessionsByTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSessionTitle(ctx, a.ID, "Refactor the parser"))
	b, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateSessionTitle(ctx, b.ID, "Fix login bug"))

	page, err := s.SearchSessionsMetadata(ctx, "PARSER", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)

	// LIKE metacharacters in the query are literals.
	page, err = s.SearchSessionsMetadata(ctx, "100%", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSearchEscapesUnderscore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"run_tests", "runXtests"} {
		sess, err := s.CreateSession(ctx, "p", "m", "", nil)
		require.NoError(t, err)
		require.NoError(t, s.UpdateSessionTitle(ctx, sess.ID, title))
	}

	// "_" must not act as a single-character wildcard.
	page, err := s.SearchSessionsMetadata(ctx, "run_tests", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "run_tests", page.Items[0].Title)
}

func TestMessagesOrderedByInsertion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "p", "m", "", nil)
	require.NoError(t, err)

	// Same-millisecond appends must replay in insertion order; random ids
	// make any id tie-break nondeterministic.
	for i := 0; i < 10; i++ {
		_, err := s.AddMessage(ctx, sess.ID, types.RoleUser,
			[]types.Part{types.TextPart(fmt.Sprintf("m%d", i))}, nil, nil)
		require.NoError(t, err)
	}

	loaded, err := s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 10)
	for i, msg := range loaded.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Text())
	}
}

func TestTodosRoundTripAndCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)

	todos := []types.Todo{
		{ID: 1, Content: "write tests", ActiveForm: "Writing tests", Status: types.TodoPending, Ordering: 0},
		{ID: 2, Content: "run nothing", ActiveForm: "Running nothing", Status: types.TodoInProgress, Ordering: 1},
	}
	require.NoError(t, s.UpdateTodos(ctx, sess.ID, todos, 3))

	got, err := s.GetTodos(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "write tests", got[0].Content)
	assert.Equal(t, types.TodoInProgress, got[1].Status)

	reloaded, err := s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.NextTodoID)

	// The id counter never goes backwards.
	err = s.UpdateTodos(ctx, sess.ID, todos, 2)
	assert.ErrorIs(t, err, types.ErrInvariantViolated)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)
	msgID, err := s.AddMessage(ctx, sess.ID, types.RoleUser, []types.Part{types.TextPart("hi")}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTodos(ctx, sess.ID, []types.Todo{{ID: 1, Content: "x", Status: types.TodoPending}}, 2))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err = s.GetSessionByID(ctx, sess.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.GetMessage(ctx, msgID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	todos, err := s.GetTodos(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)

	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), types.ErrNotFound)
}

func TestSessionFlagsMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateSessionFlags(ctx, sess.ID, map[string]bool{"contextWarning80": true}))
	require.NoError(t, s.UpdateSessionFlags(ctx, sess.ID, map[string]bool{"resourcePressure": true}))

	got, err := s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Flags["contextWarning80"])
	assert.True(t, got.Flags["resourcePressure"])

	// Clearing one flag leaves the other.
	require.NoError(t, s.UpdateSessionFlags(ctx, sess.ID, map[string]bool{"contextWarning80": false}))
	got, err = s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Flags["contextWarning80"])
	assert.True(t, got.Flags["resourcePressure"])
}

func TestFileContentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.StoreFileContent(ctx, []byte("package main"), "text/x-go")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetFileContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "text/x-go", got.MediaType)
	assert.Equal(t, []byte("package main"), got.Content)
	assert.Equal(t, int64(len("package main")), got.Size)

	_, err = s.GetFileContent(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateSessionTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "anthropic", "m", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateSessionTokens(ctx, sess.ID, 500, 1200))
	got, err := s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.BaseContextTokens)
	assert.Equal(t, 1200, got.TotalTokens)

	// Negative base leaves the recorded base untouched.
	require.NoError(t, s.UpdateSessionTokens(ctx, sess.ID, -1, 1500))
	got, err = s.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.BaseContextTokens)
	assert.Equal(t, 1500, got.TotalTokens)
}

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
package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a configurable test double.
type fakeTool struct {
	info    Info
	schema  *Schema
	execute func(ctx context.Context, args map[string]any) (any, error)
}

func (f *fakeTool) Info() Info           { return f.info }
func (f *fakeTool) InputSchema() *Schema { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any, _ ExecContext) (any, error) {
	return f.execute(ctx, args)
}

func echoTool(id string, parallel bool) *fakeTool {
	return &fakeTool{
		info: Info{ID: id, Name: id, SecurityLevel: SecurityPublic, Source: SourceBuiltin,
			SupportsParallel: parallel, EnabledByDefault: true},
		schema: ObjectSchema("echo", map[string]*Schema{
			"text": StringSchema("text to echo"),
		}, []string{"text"}),
		execute: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo", false))
	e := NewExecutor(reg, nil)

	res, err := e.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, ExecContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.Nil(t, res.Error)
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(), nil)
	res, err := e.Execute(context.Background(), "nope", nil, ExecContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "tool_not_found", res.Error.Code)
}

func TestExecuteValidationFailure(t *testing.T) {
	reg := NewRegistry()
	called := false
	tool := echoTool("echo", false)
	tool.execute = func(_ context.Context, _ map[string]any) (any, error) {
		called = true
		return nil, nil
	}
	reg.Register(tool)
	e := NewExecutor(reg, nil)

	// Missing required property: tool must not run, duration must be zero.
	res, err := e.Execute(context.Background(), "echo", map[string]any{}, ExecContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "validation_failed", res.Error.Code)
	assert.Zero(t, res.DurationMs)
	assert.False(t, called, "tool ran despite invalid arguments")

	// Wrong type fails too.
	res, err = e.Execute(context.Background(), "echo", map[string]any{"text": 42}, ExecContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "validation_failed", res.Error.Code)
}

func TestExecuteRuntimeFailure(t *testing.T) {
	reg := NewRegistry()
	tool := echoTool("boom", false)
	tool.execute = func(_ context.Context, _ map[string]any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, errors.New("disk full")
	}
	reg.Register(tool)
	e := NewExecutor(reg, nil)

	res, err := e.Execute(context.Background(), "boom", map[string]any{"text": "x"}, ExecContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "execution_failed", res.Error.Code)
	assert.Contains(t, res.Error.Message, "disk full")
	assert.Greater(t, res.DurationMs, int64(0), "runtime failures carry the measured duration")
}

func TestExecutePreservesStructuredError(t *testing.T) {
	reg := NewRegistry()
	tool := echoTool("boom", false)
	tool.execute = func(_ context.Context, _ map[string]any) (any, error) {
		return nil, &Error{Code: "rate_limited", Message: "slow down", Retryable: true}
	}
	reg.Register(tool)
	e := NewExecutor(reg, nil)

	res, err := e.Execute(context.Background(), "boom", map[string]any{"text": "x"}, ExecContext{})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, "rate_limited", res.Error.Code)
	assert.True(t, res.Error.Retryable)
}

func TestExecuteCancellation(t *testing.T) {
	reg := NewRegistry()
	tool := echoTool("slow", false)
	tool.execute = func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	reg.Register(tool)
	e := NewExecutor(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Execute(ctx, "slow", map[string]any{"text": "x"}, ExecContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteAllSequentialWhenAnyToolForbidsParallel(t *testing.T) {
	reg := NewRegistry()
	var concurrent, peak int32
	track := func(_ context.Context, args map[string]any) (any, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return args["text"], nil
	}

	par := echoTool("par", true)
	par.execute = track
	seq := echoTool("seq", false)
	seq.execute = track
	reg.Register(par)
	reg.Register(seq)
	e := NewExecutor(reg, nil)

	results, err := e.ExecuteAll(context.Background(), []Call{
		{ToolID: "par", CallID: "c1", Args: map[string]any{"text": "a"}},
		{ToolID: "seq", CallID: "c2", Args: map[string]any{"text": "b"}},
	}, ExecContext{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "batch with a non-parallel tool must run in order")
	assert.Equal(t, "a", results[0].Output)
	assert.Equal(t, "b", results[1].Output)
}

func TestExecuteAllParallel(t *testing.T) {
	reg := NewRegistry()
	var concurrent, peak int32
	for _, id := range []string{"a", "b", "c"} {
		tool := echoTool(id, true)
		tool.execute = func(_ context.Context, args map[string]any) (any, error) {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return args["text"], nil
		}
		reg.Register(tool)
	}
	e := NewExecutor(reg, nil)

	results, err := e.ExecuteAll(context.Background(), []Call{
		{ToolID: "a", Args: map[string]any{"text": "1"}},
		{ToolID: "b", Args: map[string]any{"text": "2"}},
		{ToolID: "c", Args: map[string]any{"text": "3"}},
	}, ExecContext{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1), "all-parallel batch should overlap")
	// Results land in call order regardless of completion order.
	assert.Equal(t, "1", results[0].Output)
	assert.Equal(t, "2", results[1].Output)
	assert.Equal(t, "3", results[2].Output)
}

func TestRegistryFilter(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{info: Info{ID: "read", Category: "fs", SecurityLevel: SecurityPublic, EnabledByDefault: true}})
	reg.Register(&fakeTool{info: Info{ID: "write", Category: "fs", SecurityLevel: SecurityStrict, EnabledByDefault: true}})
	reg.Register(&fakeTool{info: Info{ID: "fetch", Category: "net", SecurityLevel: SecurityModerate, EnabledByDefault: false}})
	reg.Register(&fakeTool{info: Info{ID: "legacy", SecurityLevel: SecurityPublic, EnabledByDefault: true,
		UnsupportedByModels: []string{"claude-haiku-4-5"}}})

	byCategory := reg.List(Filter{Category: "fs"})
	require.Len(t, byCategory, 2)
	assert.Equal(t, "read", byCategory[0].Info().ID)
	assert.Equal(t, "write", byCategory[1].Info().ID)

	enabled := reg.List(Filter{EnabledOnly: true})
	assert.Len(t, enabled, 3)

	forModel := reg.List(Filter{ModelID: "claude-haiku-4-5"})
	for _, tool := range forModel {
		assert.NotEqual(t, "legacy", tool.Info().ID)
	}
}

func TestInfoSupportsModel(t *testing.T) {
	open := Info{}
	assert.True(t, open.SupportsModel("anything"))

	allowList := Info{SupportedByModels: []string{"m1"}}
	assert.True(t, allowList.SupportsModel("m1"))
	assert.False(t, allowList.SupportsModel("m2"))

	// Exclusion wins over inclusion.
	both := Info{SupportedByModels: []string{"m1"}, UnsupportedByModels: []string{"m1"}}
	assert.False(t, both.SupportsModel("m1"))
}

func TestNormalizeSchema(t *testing.T) {
	s := &Schema{Properties: map[string]*Schema{
		"name": {Description: "untyped", Enum: []any{"a", "b"}},
		"tags": {Items: &Schema{Type: "string"}},
	}}
	Normalize(s)
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, "string", s.Properties["name"].Type)
	assert.Equal(t, "array", s.Properties["tags"].Type)
}

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
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultToolTimeout = 2 * time.Minute

// Executor validates arguments and runs tools with measured durations.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
	timeout  time.Duration
}

// NewExecutor creates an executor over the registry. A nil logger disables
// logging.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, logger: logger, timeout: defaultToolTimeout}
}

// SetTimeout overrides the per-tool execution timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	e.timeout = d
}

// validate checks args against the tool's input schema.
func validate(schema *Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(Normalize(schema)),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			msgs[i] = verr.String()
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// Execute runs one tool. Validation failures return success=false with zero
// duration and never invoke the tool. Runtime failures return success=false
// with the measured duration. The error return is reserved for cancellation.
func (e *Executor) Execute(ctx context.Context, toolID string, args map[string]any, execCtx ExecContext) (Result, error) {
	tool, ok := e.registry.Get(toolID)
	if !ok {
		return Result{
			Success: false,
			Error:   &Error{Code: "tool_not_found", Message: fmt.Sprintf("unknown tool: %s", toolID)},
		}, nil
	}

	if err := validate(tool.InputSchema(), args); err != nil {
		e.logger.Debug("tool argument validation failed",
			zap.String("tool", toolID), zap.Error(err))
		return Result{
			Success: false,
			Error:   &Error{Code: "validation_failed", Message: err.Error()},
		}, nil
	}

	execCtx2 := ctx
	cancel := func() {}
	if e.timeout > 0 {
		execCtx2, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	start := time.Now()
	output, err := tool.Execute(execCtx2, args, execCtx)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var toolErr *Error
		if !errors.As(err, &toolErr) {
			toolErr = &Error{Code: "execution_failed", Message: err.Error()}
		}
		e.logger.Debug("tool execution failed",
			zap.String("tool", toolID),
			zap.Int64("durationMs", duration),
			zap.Error(err))
		return Result{Success: false, Error: toolErr, DurationMs: duration}, nil
	}

	e.logger.Debug("tool executed",
		zap.String("tool", toolID), zap.Int64("durationMs", duration))
	return Result{Success: true, Output: output, DurationMs: duration}, nil
}

// Call names one tool invocation for batch execution.
type Call struct {
	ToolID string
	CallID string
	Args   map[string]any
}

// ExecuteAll runs a batch of calls. Calls whose tools all report
// SupportsParallel run concurrently; otherwise the batch runs in order.
// Results are returned in call order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, execCtx ExecContext) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	parallel := len(calls) > 1
	for _, call := range calls {
		tool, ok := e.registry.Get(call.ToolID)
		if !ok || !tool.Info().SupportsParallel {
			parallel = false
			break
		}
	}

	results := make([]Result, len(calls))
	if !parallel {
		for i, call := range calls {
			res, err := e.Execute(ctx, call.ToolID, call.Args, execCtx)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			res, err := e.Execute(gctx, call.ToolID, call.Args, execCtx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

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

// Package server exposes the typed RPC surface over two equivalent
// bindings: in-process invocation and HTTP (JSON for queries and mutations,
// SSE for subscriptions).
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/pkg/events"
)

// Kind classifies a procedure.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Security declares the procedure's rate-limiting tier. The concrete
// limiter is supplied by the host.
type Security string

const (
	SecurityPublic   Security = "public"
	SecurityModerate Security = "moderate"
	SecurityStrict   Security = "strict"
)

// RateLimiter gates moderate and strict procedures. A nil limiter admits
// everything.
type RateLimiter interface {
	Allow(ctx context.Context, procedure string, security Security) error
}

// Handler serves a query or mutation.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// StreamHandler serves a subscription. The returned channel closes when the
// context is cancelled.
type StreamHandler func(ctx context.Context, input json.RawMessage) (<-chan events.Event, error)

// Procedure is one registered RPC endpoint, named "<router>.<procedure>".
type Procedure struct {
	Name     string
	Kind     Kind
	Security Security
	Handler  Handler
	Stream   StreamHandler
}

// Router dispatches procedures by name.
type Router struct {
	procedures map[string]Procedure
	limiter    RateLimiter
	logger     *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(limiter RateLimiter, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{procedures: make(map[string]Procedure), limiter: limiter, logger: logger}
}

// Register adds a procedure. Registration happens at startup only.
func (r *Router) Register(p Procedure) {
	r.procedures[p.Name] = p
}

// Lookup returns the named procedure.
func (r *Router) Lookup(name string) (Procedure, bool) {
	p, ok := r.procedures[name]
	return p, ok
}

func (r *Router) admit(ctx context.Context, p Procedure) error {
	if r.limiter == nil || p.Security == SecurityPublic {
		return nil
	}
	return r.limiter.Allow(ctx, p.Name, p.Security)
}

// Call invokes a query or mutation in process.
func (r *Router) Call(ctx context.Context, name string, input json.RawMessage) (any, error) {
	p, ok := r.procedures[name]
	if !ok || p.Kind == KindSubscription {
		return nil, fmt.Errorf("unknown procedure: %s", name)
	}
	if err := r.admit(ctx, p); err != nil {
		return nil, err
	}
	return p.Handler(ctx, input)
}

// Subscribe opens a subscription in process.
func (r *Router) Subscribe(ctx context.Context, name string, input json.RawMessage) (<-chan events.Event, error) {
	p, ok := r.procedures[name]
	if !ok || p.Kind != KindSubscription {
		return nil, fmt.Errorf("unknown subscription: %s", name)
	}
	if err := r.admit(ctx, p); err != nil {
		return nil, err
	}
	return p.Stream(ctx, input)
}

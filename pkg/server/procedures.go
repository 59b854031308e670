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

package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teradata-labs/skein/pkg/config"
	"github.com/teradata-labs/skein/pkg/engine"
	"github.com/teradata-labs/skein/pkg/events"
	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/prompt"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/types"
)

// Core bundles the services the RPC surface exposes.
type Core struct {
	Store     *store.Store
	Engine    *engine.Engine
	Bus       *events.Bus
	Models    *models.Registry
	Providers *provider.Registry
	Config    *config.Manager
}

// decode unmarshals the procedure input, tolerating an empty body.
func decode[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("invalid input: %w", err)
	}
	return v, nil
}

// publish mirrors a lifecycle mutation onto the session and lifecycle
// channels.
func (c *Core) publish(sessionID string, ev types.StreamEvent) {
	ev.SessionID = sessionID
	_, _ = c.Bus.Publish(events.SessionChannel(sessionID), string(ev.Type), ev)
	_, _ = c.Bus.Publish(events.LifecycleChannel, string(ev.Type), ev)
}

// Register wires every procedure group into the router.
func (c *Core) Register(r *Router) {
	c.registerSession(r)
	c.registerMessage(r)
	c.registerEvents(r)
	c.registerTodo(r)
	c.registerConfig(r)
}

func (c *Core) registerSession(r *Router) {
	r.Register(Procedure{
		Name: "session.getRecent", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				Limit  int    `json:"limit"`
				Cursor string `json:"cursor"`
			}](input)
			if err != nil {
				return nil, err
			}
			return c.Store.GetRecentSessionsMetadata(ctx, in.Limit, in.Cursor)
		},
	})
	r.Register(Procedure{
		Name: "session.search", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				Query  string `json:"query"`
				Limit  int    `json:"limit"`
				Cursor string `json:"cursor"`
			}](input)
			if err != nil {
				return nil, err
			}
			return c.Store.SearchSessionsMetadata(ctx, in.Query, in.Limit, in.Cursor)
		},
	})
	r.Register(Procedure{
		Name: "session.getById", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
			}](input)
			if err != nil {
				return nil, err
			}
			return c.Store.GetSessionByID(ctx, in.SessionID)
		},
	})
	r.Register(Procedure{
		Name: "session.create", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				Provider       string   `json:"provider"`
				Model          string   `json:"model"`
				AgentID        string   `json:"agentId"`
				EnabledRuleIDs []string `json:"enabledRuleIds"`
			}](input)
			if err != nil {
				return nil, err
			}
			session, err := c.Store.CreateSession(ctx, in.Provider, in.Model, in.AgentID, in.EnabledRuleIDs)
			if err != nil {
				return nil, err
			}
			c.publish(session.ID, types.StreamEvent{
				Type: types.EventSessionCreated, Provider: session.Provider, Model: session.Model,
			})
			return session, nil
		},
	})
	r.Register(Procedure{
		Name: "session.updateTitle", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
				Title     string `json:"title"`
			}](input)
			if err != nil {
				return nil, err
			}
			if err := c.Store.UpdateSessionTitle(ctx, in.SessionID, in.Title); err != nil {
				return nil, err
			}
			c.publish(in.SessionID, types.StreamEvent{Type: types.EventSessionTitleUpdated, Title: in.Title})
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "session.updateModel", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
				Model     string `json:"model"`
			}](input)
			if err != nil {
				return nil, err
			}
			if err := c.Store.UpdateSessionModel(ctx, in.SessionID, in.Model); err != nil {
				return nil, err
			}
			c.publish(in.SessionID, types.StreamEvent{Type: types.EventSessionModelUpdated, Model: in.Model})
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "session.updateProvider", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
				Provider  string `json:"provider"`
			}](input)
			if err != nil {
				return nil, err
			}
			if err := c.Store.UpdateSessionProvider(ctx, in.SessionID, in.Provider); err != nil {
				return nil, err
			}
			c.publish(in.SessionID, types.StreamEvent{Type: types.EventSessionProviderUpdated, Provider: in.Provider})
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "session.updateRules", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID      string   `json:"sessionId"`
				EnabledRuleIDs []string `json:"enabledRuleIds"`
			}](input)
			if err != nil {
				return nil, err
			}
			if err := c.Store.UpdateSessionRules(ctx, in.SessionID, in.EnabledRuleIDs); err != nil {
				return nil, err
			}
			c.publish(in.SessionID, types.StreamEvent{
				Type: types.EventSessionRulesUpdated, EnabledRuleIDs: in.EnabledRuleIDs,
			})
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "session.delete", Kind: KindMutation, Security: SecurityStrict,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
			}](input)
			if err != nil {
				return nil, err
			}
			c.Engine.Abort(in.SessionID)
			if err := c.Store.DeleteSession(ctx, in.SessionID); err != nil {
				return nil, err
			}
			c.publish(in.SessionID, types.StreamEvent{Type: types.EventSessionDeleted})
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "session.compact", Kind: KindMutation, Security: SecurityStrict,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
			}](input)
			if err != nil {
				return nil, err
			}
			return c.Engine.Compact(ctx, in.SessionID)
		},
	})
	r.Register(Procedure{
		Name: "session.abort", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
			}](input)
			if err != nil {
				return nil, err
			}
			c.Engine.Abort(in.SessionID)
			return map[string]bool{"ok": true}, nil
		},
	})
}

func (c *Core) registerMessage(r *Router) {
	r.Register(Procedure{
		Name: "message.triggerStream", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[engine.TriggerInput](input)
			if err != nil {
				return nil, err
			}
			sessionID, err := c.Engine.TriggerStream(ctx, in)
			if err != nil {
				return nil, err
			}
			return map[string]string{"sessionId": sessionID}, nil
		},
	})
	r.Register(Procedure{
		Name: "message.subscribe", Kind: KindSubscription, Security: SecurityPublic,
		Stream: c.subscribeToSession,
	})
}

func (c *Core) subscribeToSession(ctx context.Context, input json.RawMessage) (<-chan events.Event, error) {
	in, err := decode[struct {
		SessionID  string `json:"sessionId"`
		ReplayLast int    `json:"replayLast"`
	}](input)
	if err != nil {
		return nil, err
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("sessionId is required")
	}
	return c.Bus.SubscribeWithHistory(ctx, events.SessionChannel(in.SessionID), in.ReplayLast), nil
}

func (c *Core) registerEvents(r *Router) {
	r.Register(Procedure{
		Name: "events.subscribe", Kind: KindSubscription, Security: SecurityPublic,
		Stream: func(ctx context.Context, input json.RawMessage) (<-chan events.Event, error) {
			in, err := decode[struct {
				Channel    string         `json:"channel"`
				FromCursor *events.Cursor `json:"fromCursor"`
			}](input)
			if err != nil {
				return nil, err
			}
			if in.Channel == "" {
				in.Channel = events.LifecycleChannel
			}
			return c.Bus.Subscribe(ctx, in.Channel, in.FromCursor), nil
		},
	})
	r.Register(Procedure{
		Name: "events.subscribeToSession", Kind: KindSubscription, Security: SecurityPublic,
		Stream: c.subscribeToSession,
	})
}

func (c *Core) registerTodo(r *Router) {
	r.Register(Procedure{
		Name: "todo.update", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID  string       `json:"sessionId"`
				Todos      []types.Todo `json:"todos"`
				NextTodoID int          `json:"nextTodoId"`
			}](input)
			if err != nil {
				return nil, err
			}
			if err := c.Store.UpdateTodos(ctx, in.SessionID, in.Todos, in.NextTodoID); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "todo.get", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				SessionID string `json:"sessionId"`
			}](input)
			if err != nil {
				return nil, err
			}
			return c.Store.GetTodos(ctx, in.SessionID)
		},
	})
}

// providerListing is the config.getProviders response element.
type providerListing struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Configured  bool                   `json:"configured"`
	Schema      []provider.ConfigField `json:"schema"`
}

func (c *Core) registerConfig(r *Router) {
	r.Register(Procedure{
		Name: "config.load", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			return c.Config.Load()
		},
	})
	r.Register(Procedure{
		Name: "config.save", Kind: KindMutation, Security: SecurityStrict,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[config.AIConfig](input)
			if err != nil {
				return nil, err
			}
			if err := c.Config.Save(in); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "config.getProviders", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			var out []providerListing
			for _, p := range c.Providers.List() {
				out = append(out, providerListing{
					ID:          p.ID(),
					Name:        p.Name(),
					Description: p.Description(),
					Configured:  p.IsConfigured(c.Config.ProviderConfig(p.ID())),
					Schema:      p.ConfigSchema(),
				})
			}
			return out, nil
		},
	})
	r.Register(Procedure{
		Name: "config.getProviderSchema", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				Provider string `json:"provider"`
			}](input)
			if err != nil {
				return nil, err
			}
			p, err := c.Providers.Get(in.Provider)
			if err != nil {
				return nil, err
			}
			return p.ConfigSchema(), nil
		},
	})
	r.Register(Procedure{
		Name: "config.updateRules", Kind: KindMutation, Security: SecurityModerate,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				DefaultEnabledRuleIDs []string `json:"defaultEnabledRuleIds"`
			}](input)
			if err != nil {
				return nil, err
			}
			cfg := c.Config.Current()
			cfg.DefaultEnabledRuleIDs = in.DefaultEnabledRuleIDs
			if err := c.Config.Save(cfg); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		},
	})
	r.Register(Procedure{
		Name: "config.countFileTokens", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			in, err := decode[struct {
				Content string `json:"content"`
			}](input)
			if err != nil {
				return nil, err
			}
			count := prompt.GetTokenCounter().CountTokens(in.Content)
			return map[string]int{"tokens": count}, nil
		},
	})
	r.Register(Procedure{
		Name: "config.getModels", Kind: KindQuery, Security: SecurityPublic,
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			return c.Models.GetAllModels(), nil
		},
	})
}

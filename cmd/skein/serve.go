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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/skein/internal/log"
	"github.com/teradata-labs/skein/pkg/config"
	"github.com/teradata-labs/skein/pkg/engine"
	"github.com/teradata-labs/skein/pkg/events"
	"github.com/teradata-labs/skein/pkg/models"
	"github.com/teradata-labs/skein/pkg/prompt"
	"github.com/teradata-labs/skein/pkg/provider"
	"github.com/teradata-labs/skein/pkg/provider/anthropic"
	"github.com/teradata-labs/skein/pkg/provider/openrouter"
	"github.com/teradata-labs/skein/pkg/provider/scripted"
	"github.com/teradata-labs/skein/pkg/server"
	"github.com/teradata-labs/skein/pkg/store"
	"github.com/teradata-labs/skein/pkg/tools"
	"github.com/teradata-labs/skein/pkg/tools/builtin"
	"github.com/teradata-labs/skein/pkg/triggers"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the skein HTTP server",
	Long: `Start the assistant backend.

The server persists sessions and the event log in SQLite, exposes the
RPC surface on POST /rpc/<router>.<procedure>, and streams session
events over SSE on GET /rpc/message.subscribe.

Press Ctrl+C to gracefully shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:5530", "HTTP listen address")
}

// core holds the assembled services.
type core struct {
	store   *store.Store
	bus     *events.Bus
	janitor *events.Janitor
	engine  *engine.Engine
	rpc     *server.Core
	config  *config.Manager
}

func (c *core) close() {
	c.engine.Shutdown()
	c.janitor.Stop()
	c.bus.Destroy()
	_ = c.config.Close()
	_ = c.store.Close()
}

// buildCore wires the full service graph over the given database path.
func buildCore(dbPath string, logger *zap.Logger) (*core, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(dbPath, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	eventLog, err := events.OpenLog(dbPath+".events", logger.Named("eventlog"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	bus := events.NewBus(eventLog, logger.Named("bus"))
	janitor := events.NewJanitor(bus, events.DefaultRetention, "", logger.Named("janitor"))
	if err := janitor.Start(); err != nil {
		logger.Warn("event janitor not started", zap.Error(err))
	}

	cfgManager := config.NewManager(flagConfig, logger.Named("config"))
	if _, err := cfgManager.Load(); err != nil {
		logger.Warn("config load failed, continuing with defaults", zap.Error(err))
	}
	if err := cfgManager.Watch(nil); err != nil {
		logger.Debug("config watch unavailable", zap.Error(err))
	}

	providers := provider.NewRegistry()
	providers.Register(anthropic.New())
	providers.Register(openrouter.New())
	providers.Register(scripted.New())

	modelReg := models.NewRegistry()
	seedModelCatalog(modelReg, providers, cfgManager)

	toolReg := tools.NewRegistry()
	toolReg.Register(builtin.NewTodoTool(st))
	executor := tools.NewExecutor(toolReg, logger.Named("tools"))

	rules := triggers.NewRegistry()
	rules.Register(triggers.NewContextUsage80())
	rules.Register(triggers.NewContextUsage90())
	rules.Register(triggers.NewResourcePressure())

	eng := engine.New(engine.Options{
		Store:     st,
		Bus:       bus,
		Providers: providers,
		Models:    modelReg,
		Rules:     rules,
		Tools:     toolReg,
		Executor:  executor,
		Assembler: prompt.NewAssembler(st, modelReg),
		Resolver:  cfgManager.ProviderConfig,
		Logger:    logger.Named("engine"),
	})

	return &core{
		store:   st,
		bus:     bus,
		janitor: janitor,
		engine:  eng,
		config:  cfgManager,
		rpc: &server.Core{
			Store:     st,
			Engine:    eng,
			Bus:       bus,
			Models:    modelReg,
			Providers: providers,
			Config:    cfgManager,
		},
	}, nil
}

// seedModelCatalog enumerates each configured provider into the catalog.
// Enumeration failures leave the provider out; sessions against it fall back
// to conservative defaults.
func seedModelCatalog(reg *models.Registry, providers *provider.Registry, cfg *config.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, p := range providers.List() {
		reg.RegisterProvider(models.ProviderInfo{ID: p.ID(), Name: p.Name(), Description: p.Description()})
		conf := cfg.ProviderConfig(p.ID())
		if !p.IsConfigured(conf) && p.ID() != "scripted" {
			continue
		}
		list, err := p.FetchModels(ctx, conf)
		if err != nil {
			log.Warn("model enumeration failed", zap.String("provider", p.ID()), zap.Error(err))
			continue
		}
		for _, m := range list {
			reg.RegisterModel(m)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	log.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	c, err := buildCore(flagDB, logger)
	if err != nil {
		return err
	}
	defer c.close()

	router := server.NewRouter(nil, logger.Named("router"))
	c.rpc.Register(router)
	httpServer := server.NewHTTPServer(router, flagAddr, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Stop(shutdownCtx)
}

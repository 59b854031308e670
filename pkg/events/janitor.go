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

package events

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRetention is how long persisted events are kept before the janitor
// removes them. At-least-once delivery only spans this window.
const DefaultRetention = 7 * 24 * time.Hour

// Janitor periodically trims the durable event log to the retention window.
type Janitor struct {
	bus       *Bus
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewJanitor creates a janitor with the given retention. An empty schedule
// defaults to hourly sweeps.
func NewJanitor(bus *Bus, retention time.Duration, schedule string, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Janitor{bus: bus, retention: retention, schedule: schedule, logger: logger}
}

// Start begins scheduled sweeps. Returns an error if the schedule spec is
// invalid.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		ctx := j.cron.Stop()
		<-ctx.Done()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	horizon := time.Now().Add(-j.retention).UnixMilli()
	removed, err := j.bus.Cleanup(ctx, horizon)
	if err != nil {
		j.logger.Error("event log sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("event log sweep", zap.Int64("removed", removed))
	}
}

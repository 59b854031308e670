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

package triggers

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/teradata-labs/skein/pkg/types"
)

const resourcePressureThreshold = 0.8

// ResourceSample is one host utilization reading, fractions in [0, 1].
type ResourceSample struct {
	CPU    float64
	Memory float64
}

// SampleResources reads host CPU and memory utilization.
func SampleResources(ctx context.Context) (ResourceSample, error) {
	var sample ResourceSample
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample.CPU = percents[0] / 100
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("read memory stats: %w", err)
	}
	sample.Memory = vm.UsedPercent / 100
	return sample, nil
}

// ResourcePressureRule warns when host CPU or memory utilization reaches 80%
// and clears on recovery. The sampler is replaceable for tests.
type ResourcePressureRule struct {
	Sampler func(ctx context.Context) (ResourceSample, error)
}

// NewResourcePressure creates the rule with the live host sampler.
func NewResourcePressure() *ResourcePressureRule {
	return &ResourcePressureRule{Sampler: SampleResources}
}

func (r *ResourcePressureRule) ID() string    { return "resource-pressure" }
func (r *ResourcePressureRule) Priority() int { return 50 }
func (r *ResourcePressureRule) Enabled() bool { return true }

// Evaluate fires on the pressure edge in either direction.
func (r *ResourcePressureRule) Evaluate(ctx context.Context, session *types.Session, _ Context) (*Result, error) {
	sample, err := r.Sampler(ctx)
	if err != nil {
		// Host stats being unreadable is not worth failing the turn over.
		return nil, nil
	}

	pressured := sample.CPU >= resourcePressureThreshold || sample.Memory >= resourcePressureThreshold
	entered := session.Flags["resourcePressure"]

	if pressured && !entered {
		return &Result{
			SystemMessage: &SystemMessage{
				Content: fmt.Sprintf(
					"Host resources are under pressure (cpu %.0f%%, memory %.0f%%). Heavy tool use may be slow.",
					sample.CPU*100, sample.Memory*100),
				MessageType: "resource-warning",
			},
			FlagUpdates: map[string]bool{"resourcePressure": true},
		}, nil
	}
	if !pressured && entered {
		return &Result{
			SystemMessage: &SystemMessage{
				Content:     "Host resource pressure has recovered.",
				MessageType: "resource-warning-cleared",
			},
			FlagUpdates: map[string]bool{"resourcePressure": false},
		}, nil
	}
	return nil, nil
}

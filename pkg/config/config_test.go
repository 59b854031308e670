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
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "config.yaml"), nil)
}

func TestLoadMissingFileReturnsZeroConfig(t *testing.T) {
	m := newTestManager(t)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.DefaultProvider)
	assert.Empty(t, cfg.Providers)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	want := AIConfig{
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-sonnet-4-5",
		Providers: map[string]ProviderSettings{
			"anthropic": {APIKey: "sk-test", DefaultModel: "claude-sonnet-4-5"},
		},
		DefaultEnabledRuleIDs: []string{"context-usage-80"},
	}
	require.NoError(t, m.Save(want))

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, m.Current())
}

func TestSaveIsAtomic(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(AIConfig{DefaultProvider: "first"}))
	require.NoError(t, m.Save(AIConfig{DefaultProvider: "second"}))

	// No temp files may survive a completed save.
	entries, err := os.ReadDir(filepath.Dir(m.path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.yaml", entries[0].Name())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.DefaultProvider)
}

func TestProviderConfigPassesPlainValues(t *testing.T) {
	// Isolate from the host environment; an empty value reads as unset.
	t.Setenv("ANTHROPIC_API_KEY", "")
	m := newTestManager(t)
	require.NoError(t, m.Save(AIConfig{
		Providers: map[string]ProviderSettings{
			"anthropic": {APIKey: "sk-plain", Extra: map[string]string{"baseUrl": "https://example.test"}},
		},
	}))

	cfg := m.ProviderConfig("anthropic")
	assert.Equal(t, "sk-plain", cfg["apiKey"])
	assert.Equal(t, "https://example.test", cfg["baseUrl"])

	// Unknown providers yield an empty config, not a nil map panic.
	assert.Empty(t, m.ProviderConfig("missing"))
}

func TestProviderConfigEnvOverridesFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(AIConfig{
		Providers: map[string]ProviderSettings{"openrouter": {APIKey: "from-file"}},
	}))
	t.Setenv("OPENROUTER_API_KEY", "from-env")

	cfg := m.ProviderConfig("openrouter")
	assert.Equal(t, "from-env", cfg["apiKey"])
}

func TestWatchReloadsOnRewrite(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(AIConfig{DefaultProvider: "before"}))
	_, err := m.Load()
	require.NoError(t, err)

	changed := make(chan AIConfig, 4)
	require.NoError(t, m.Watch(func(cfg AIConfig) { changed <- cfg }))
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Save(AIConfig{DefaultProvider: "after"}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.DefaultProvider == "after" {
				assert.Equal(t, "after", m.Current().DefaultProvider)
				return
			}
		case <-deadline:
			t.Fatal("config change never observed")
		}
	}
}

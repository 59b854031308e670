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

// Package config loads and persists the AI configuration file. Values merge
// from file and environment; API keys may be indirected through the system
// keyring with "keyring:<name>" values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/skein/pkg/provider"
)

const keyringService = "skein"

// ProviderSettings is the per-provider configuration block.
type ProviderSettings struct {
	APIKey       string            `yaml:"apiKey,omitempty" json:"apiKey,omitempty" mapstructure:"apiKey"`
	DefaultModel string            `yaml:"defaultModel,omitempty" json:"defaultModel,omitempty" mapstructure:"defaultModel"`
	Extra        map[string]string `yaml:"extra,omitempty" json:"extra,omitempty" mapstructure:"extra"`
}

// AIConfig is the persisted configuration document.
type AIConfig struct {
	Providers             map[string]ProviderSettings `yaml:"providers,omitempty" json:"providers,omitempty" mapstructure:"providers"`
	DefaultProvider       string                      `yaml:"defaultProvider,omitempty" json:"defaultProvider,omitempty" mapstructure:"defaultProvider"`
	DefaultModel          string                      `yaml:"defaultModel,omitempty" json:"defaultModel,omitempty" mapstructure:"defaultModel"`
	DefaultAgentID        string                      `yaml:"defaultAgentId,omitempty" json:"defaultAgentId,omitempty" mapstructure:"defaultAgentId"`
	DefaultEnabledRuleIDs []string                    `yaml:"defaultEnabledRuleIds,omitempty" json:"defaultEnabledRuleIds,omitempty" mapstructure:"defaultEnabledRuleIds"`
}

// Manager owns the configuration file.
type Manager struct {
	mu      sync.RWMutex
	path    string
	current AIConfig
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// DefaultPath returns the conventional config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "skein.yaml"
	}
	return filepath.Join(home, ".config", "skein", "config.yaml")
}

// NewManager creates a manager for the given path. A missing file is not an
// error; Load returns the zero config.
func NewManager(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath()
	}
	return &Manager{path: path, logger: logger}
}

// Load reads the configuration, merging SKEIN_* environment overrides.
func (m *Manager) Load() (AIConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SKEIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return AIConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AIConfig{}, fmt.Errorf("decode config: %w", err)
	}
	m.current = cfg
	return cfg, nil
}

// Current returns the last loaded configuration.
func (m *Manager) Current() AIConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save writes the configuration atomically (temp file then rename).
func (m *Manager) Save(cfg AIConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	m.current = cfg
	return nil
}

// Watch reloads the config when the file changes, invoking onChange with the
// new value. Stop with Close.
func (m *Manager) Watch(onChange func(AIConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	// Watch the directory; editors often replace the file.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := m.Load()
				if err != nil {
					m.logger.Warn("config reload failed", zap.Error(err))
					continue
				}
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		err := m.watcher.Close()
		m.watcher = nil
		return err
	}
	return nil
}

// resolveSecret dereferences "keyring:<name>" values through the system
// keyring. Plain values pass through.
func resolveSecret(value string) string {
	name, ok := strings.CutPrefix(value, "keyring:")
	if !ok {
		return value
	}
	secret, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return secret
}

// SetKeyringSecret stores a secret under the skein keyring service.
func SetKeyringSecret(name, secret string) error {
	return keyring.Set(keyringService, name, secret)
}

// ProviderConfig materializes the provider.Config for a provider id,
// resolving keyring references.
func (m *Manager) ProviderConfig(providerID string) provider.Config {
	m.mu.RLock()
	settings := m.current.Providers[providerID]
	m.mu.RUnlock()

	cfg := provider.Config{}
	for k, v := range settings.Extra {
		cfg[k] = resolveSecret(v)
	}
	if settings.APIKey != "" {
		cfg["apiKey"] = resolveSecret(settings.APIKey)
	}
	// Environment takes precedence over the file, matching common provider
	// conventions.
	envKey := strings.ToUpper(providerID) + "_API_KEY"
	if env := os.Getenv(envKey); env != "" {
		cfg["apiKey"] = env
	}
	return cfg
}

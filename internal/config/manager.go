package config

import (
	"fmt"
	"sync"
)

// Manager holds the process-wide validated configuration behind a mutex so
// concurrent readers see a consistent snapshot across reloads.
type Manager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewManager creates a manager seeded with defaults.
func NewManager() *Manager {
	cfg := Default()
	_ = cfg.Validate()
	return &Manager{cfg: cfg}
}

// Load reads, merges, decodes, and validates the config file at path, then
// installs it as the current config.
func (m *Manager) Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	m.mu.Lock()
	m.cfg = cfg
	m.path = path
	m.mu.Unlock()
	return cfg, nil
}

// Current returns the active configuration. Never nil.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Path returns the file the current config was loaded from, if any.
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// Replace installs cfg after validating it. Used by tests and embedders that
// construct configuration programmatically.
func (m *Manager) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

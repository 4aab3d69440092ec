// Package skills manages which tools are enabled for the chat loop. Enabled
// flags persist in settings so a toggle survives restarts.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/tools"
)

const settingKey = "skills.disabled"

// Skill describes one tool and its enabled state.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Manager gates a tool registry behind per-skill enable flags. All skills are
// enabled unless explicitly disabled. Manager satisfies agent.ToolSource.
type Manager struct {
	registry *tools.Registry
	store    *store.Store
	log      *slog.Logger

	mu       sync.RWMutex
	disabled map[string]bool
}

// NewManager wraps a registry. Call Reload to pick up persisted flags.
func NewManager(registry *tools.Registry, st *store.Store) *Manager {
	return &Manager{
		registry: registry,
		store:    st,
		log:      slog.With("component", "skills"),
		disabled: make(map[string]bool),
	}
}

// Reload re-reads the disabled set from settings.
func (m *Manager) Reload(ctx context.Context) error {
	value, err := m.store.GetSetting(ctx, settingKey)
	if err != nil {
		return fmt.Errorf("read skill flags: %w", err)
	}
	disabled := make(map[string]bool)
	if value != "" {
		var names []string
		if err := json.Unmarshal([]byte(value), &names); err != nil {
			return fmt.Errorf("parse skill flags: %w", err)
		}
		for _, name := range names {
			disabled[name] = true
		}
	}
	m.mu.Lock()
	m.disabled = disabled
	m.mu.Unlock()
	m.log.Info("skills reloaded", "disabled", len(disabled))
	return nil
}

// Toggle enables or disables a skill and persists the change.
func (m *Manager) Toggle(ctx context.Context, name string, enabled bool) error {
	if _, ok := m.registry.Get(name); !ok {
		return fmt.Errorf("unknown skill: %s", name)
	}
	m.mu.Lock()
	if enabled {
		delete(m.disabled, name)
	} else {
		m.disabled[name] = true
	}
	names := make([]string, 0, len(m.disabled))
	for n := range m.disabled {
		names = append(names, n)
	}
	m.mu.Unlock()

	value, _ := json.Marshal(names)
	if err := m.store.SetSetting(ctx, settingKey, string(value)); err != nil {
		return fmt.Errorf("persist skill flags: %w", err)
	}
	m.log.Info("skill toggled", "skill", name, "enabled", enabled)
	return nil
}

// Skills lists every registered skill with its enabled state.
func (m *Manager) Skills() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Skill
	for _, t := range m.registry.List() {
		out = append(out, Skill{
			Name:        t.Name(),
			Description: t.Description(),
			Enabled:     !m.disabled[t.Name()],
		})
	}
	return out
}

// EnabledNames returns the names of enabled skills, in registration order.
func (m *Manager) EnabledNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.registry.Names() {
		if !m.disabled[name] {
			out = append(out, name)
		}
	}
	return out
}

// List returns only the enabled tools.
func (m *Manager) List() []tools.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tools.Tool
	for _, t := range m.registry.List() {
		if !m.disabled[t.Name()] {
			out = append(out, t)
		}
	}
	return out
}

// Run executes an enabled tool; disabled and unknown skills come back as
// {"error": ...} payloads, matching the registry contract.
func (m *Manager) Run(ctx context.Context, name string, params map[string]any) string {
	m.mu.RLock()
	off := m.disabled[name]
	m.mu.RUnlock()
	if off {
		out, _ := json.Marshal(map[string]string{"error": "skill disabled: " + name})
		return string(out)
	}
	return m.registry.Run(ctx, name, params)
}

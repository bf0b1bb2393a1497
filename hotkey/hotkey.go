// Package hotkey registers global keyboard shortcuts for the overlay.
package hotkey

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Default shortcuts.
const (
	DefaultToggleMute    = "ctrl+shift+m"
	DefaultToggleOverlay = "ctrl+shift+o"
)

var modifiers = []string{"ctrl", "shift", "alt", "cmd"}

// Binding maps a key combination like "ctrl+shift+m" to an action.
type Binding struct {
	Combo  string
	Action func()
}

// Manager owns the global keyboard hook. Only one Manager may run at a time
// since the underlying hook is process-wide.
type Manager struct {
	mu       sync.Mutex
	bindings []Binding
	running  bool
	done     chan struct{}
}

// NewManager creates a Manager for the given bindings.
func NewManager(bindings ...Binding) *Manager {
	return &Manager{bindings: bindings}
}

// Start registers the bindings and starts listening in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey manager already running")
	}

	for _, b := range m.bindings {
		keys, err := ParseCombo(b.Combo)
		if err != nil {
			return err
		}
		action := b.Action
		combo := b.Combo
		hook.Register(hook.KeyDown, keys, func(hook.Event) {
			slog.Debug("hotkey pressed", "combo", combo)
			// Keep the hook loop responsive.
			go action()
		})
	}

	evChan := hook.Start()
	m.done = make(chan struct{})
	m.running = true

	done := m.done
	go func() {
		defer close(done)
		<-hook.Process(evChan)
	}()

	slog.Info("hotkeys registered", "count", len(m.bindings))
	return nil
}

// Stop unregisters the hook and waits for the listener to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	hook.End()
	<-m.done
	m.running = false
}

// ParseCombo turns "ctrl+shift+m" into the gohook key list, main key first.
func ParseCombo(combo string) ([]string, error) {
	var mods []string
	var key string
	for part := range strings.SplitSeq(strings.ToLower(combo), "+") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			return nil, fmt.Errorf("invalid hotkey %q: empty key", combo)
		case part == "control":
			part = "ctrl"
			fallthrough
		case slices.Contains(modifiers, part):
			if !slices.Contains(mods, part) {
				mods = append(mods, part)
			}
		default:
			if key != "" {
				return nil, fmt.Errorf("invalid hotkey %q: more than one key", combo)
			}
			key = part
		}
	}
	if key == "" {
		return nil, fmt.Errorf("invalid hotkey %q: no key", combo)
	}
	return append([]string{key}, mods...), nil
}

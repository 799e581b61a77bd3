// Package plugins lets external code hook into event handling and
// broadcasting. A plugin implements any subset of the hook interfaces.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// ErrNoHooks is returned when a registered value implements no hook interface
var ErrNoHooks = errors.New("plugin implements no hook interface")

// BeforeEventHandler runs before an event is handled. A non-nil result
// vetoes handling and becomes the final result.
type BeforeEventHandler interface {
	BeforeEventHandle(ctx context.Context, event *nostr.Event) (*types.EventHandleResult, error)
}

// AfterEventHandler may rewrite the result of handling an event
type AfterEventHandler interface {
	AfterEventHandle(ctx context.Context, event *nostr.Event, result types.EventHandleResult) types.EventHandleResult
}

// BeforeEventBroadcaster decides whether an event is broadcast at all.
// Returning false stops the broadcast.
type BeforeEventBroadcaster interface {
	BeforeEventBroadcast(ctx context.Context, event *nostr.Event) (bool, error)
}

// AfterEventBroadcaster observes an event after its broadcast pass
type AfterEventBroadcaster interface {
	AfterEventBroadcast(ctx context.Context, event *nostr.Event)
}

// Manager keeps one ordered list per hook kind
type Manager struct {
	mu               sync.RWMutex
	beforeHandlers   []BeforeEventHandler
	afterHandlers    []AfterEventHandler
	beforeBroadcasts []BeforeEventBroadcaster
	afterBroadcasts  []AfterEventBroadcaster
}

func NewManager() *Manager {
	return &Manager{}
}

// Register files each plugin into the lists of the hooks it implements.
// Nothing is registered if any plugin implements no hook.
func (m *Manager) Register(plugins ...any) error {
	for i, plugin := range plugins {
		if !implementsAny(plugin) {
			return fmt.Errorf("plugin %d (%T): %w", i, plugin, ErrNoHooks)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, plugin := range plugins {
		if hook, ok := plugin.(BeforeEventHandler); ok {
			m.beforeHandlers = append(m.beforeHandlers, hook)
		}
		if hook, ok := plugin.(AfterEventHandler); ok {
			m.afterHandlers = append(m.afterHandlers, hook)
		}
		if hook, ok := plugin.(BeforeEventBroadcaster); ok {
			m.beforeBroadcasts = append(m.beforeBroadcasts, hook)
		}
		if hook, ok := plugin.(AfterEventBroadcaster); ok {
			m.afterBroadcasts = append(m.afterBroadcasts, hook)
		}
	}
	return nil
}

func implementsAny(plugin any) bool {
	switch plugin.(type) {
	case BeforeEventHandler, AfterEventHandler, BeforeEventBroadcaster, AfterEventBroadcaster:
		return true
	}
	return false
}

// BeforeEventHandle runs the before-handle chain in registration order and
// stops at the first veto or error
func (m *Manager) BeforeEventHandle(ctx context.Context, event *nostr.Event) (*types.EventHandleResult, error) {
	m.mu.RLock()
	hooks := m.beforeHandlers
	m.mu.RUnlock()

	for _, hook := range hooks {
		result, err := hook.BeforeEventHandle(ctx, event)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// AfterEventHandle threads the result through the after-handle chain, last
// registered first
func (m *Manager) AfterEventHandle(ctx context.Context, event *nostr.Event, result types.EventHandleResult) types.EventHandleResult {
	m.mu.RLock()
	hooks := m.afterHandlers
	m.mu.RUnlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		result = hooks[i].AfterEventHandle(ctx, event, result)
	}
	return result
}

// BeforeEventBroadcast reports whether every before-broadcast hook allows
// the broadcast. The chain stops at the first refusal or error.
func (m *Manager) BeforeEventBroadcast(ctx context.Context, event *nostr.Event) (bool, error) {
	m.mu.RLock()
	hooks := m.beforeBroadcasts
	m.mu.RUnlock()

	for _, hook := range hooks {
		allow, err := hook.BeforeEventBroadcast(ctx, event)
		if err != nil {
			return false, err
		}
		if !allow {
			return false, nil
		}
	}
	return true, nil
}

// AfterEventBroadcast notifies after-broadcast hooks, last registered first
func (m *Manager) AfterEventBroadcast(ctx context.Context, event *nostr.Event) {
	m.mu.RLock()
	hooks := m.afterBroadcasts
	m.mu.RUnlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].AfterEventBroadcast(ctx, event)
	}
}

package store

import "sync"

// Listener is notified when entity tables change and any cached entity data
// should be reloaded. Entities are identified by DAO name.
type Listener interface {
	OnInvalidated(entities []string)
}

// broadcaster keeps an ordered, duplicate-free listener set and fans out
// invalidation synchronously. Membership and notification are serialized
// internally; callbacks run on the notifying goroutine, so listeners that
// need a particular goroutine hop themselves.
type broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

func newBroadcaster() *broadcaster {
	return &broadcaster{}
}

func (b *broadcaster) subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

func (b *broadcaster) unsubscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *broadcaster) notify(entities []string) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.OnInvalidated(entities)
	}
}

// Subscribe registers a listener for invalidation events. Subscribing the
// same listener twice is a no-op.
func (m *Manager) Subscribe(l Listener) {
	m.listeners.subscribe(l)
}

// Unsubscribe removes a listener; unknown listeners are ignored.
func (m *Manager) Unsubscribe(l Listener) {
	m.listeners.unsubscribe(l)
}

// NotifyInvalidated tells every listener, in subscription order, that the
// named entities changed and should be reloaded. Each listener receives the
// full set in one call. Callers that mutate entity tables invoke this after
// their unit of work.
func (m *Manager) NotifyInvalidated(entities ...string) {
	m.listeners.notify(entities)
}

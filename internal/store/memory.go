package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the channel buffer of each subscription.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Timelines are keyed by name, with new snapshots replacing previous values.
// Subscribers receive updates via buffered channels. Updates are sent
// non-blocking; if a subscriber's buffer is full, the update is dropped for
// that subscriber to prevent blocking the render path.
type MemoryStore struct {
	mu          sync.RWMutex
	timelines   map[string]Timeline
	subscribers map[chan Timeline]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timelines:   make(map[string]Timeline),
		subscribers: make(map[chan Timeline]struct{}),
	}
}

// Update stores t under its name and notifies all subscribers.
func (m *MemoryStore) Update(t Timeline) {
	m.mu.Lock()
	m.timelines[t.Name] = t
	m.mu.Unlock()

	m.notifySubscribers(t)
}

// Get returns the timeline stored under name.
func (m *MemoryStore) Get(name string) (Timeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timelines[name]
	return t, ok
}

// GetAll returns a copy of all stored timelines ordered by name.
func (m *MemoryStore) GetAll() []Timeline {
	m.mu.RLock()
	results := make([]Timeline, 0, len(m.timelines))
	for _, t := range m.timelines {
		results = append(results, t)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates. Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan Timeline {
	ch := make(chan Timeline, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Timeline) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends t to every subscriber without blocking.
func (m *MemoryStore) notifySubscribers(t Timeline) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- t:
		default:
			// subscriber is slow, drop the update
		}
	}
}

package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Snapshots are keyed by correlation ID, with new snapshots replacing
// previous values. Subscribers receive updates via buffered channels.
// Updates are sent non-blocking; if a subscriber's buffer is full, the
// update is dropped for that subscriber so the poller never blocks.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]JobSnapshot
	subscribers map[chan JobSnapshot]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]JobSnapshot),
		subscribers: make(map[chan JobSnapshot]struct{}),
	}
}

// Update stores a [JobSnapshot] and notifies all subscribers.
func (m *MemoryStore) Update(snapshot JobSnapshot) {
	m.mu.Lock()
	m.jobs[snapshot.CorrelationID] = snapshot
	m.mu.Unlock()

	m.notifySubscribers(snapshot)
}

// Get returns the snapshot stored for correlationID.
func (m *MemoryStore) Get(correlationID string) (JobSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.jobs[correlationID]
	return snap, ok
}

// GetAll returns a snapshot of all stored jobs, oldest attempt first.
// Ties are broken by correlation ID so the order is stable.
func (m *MemoryStore) GetAll() []JobSnapshot {
	m.mu.RLock()
	results := make([]JobSnapshot, 0, len(m.jobs))
	for _, snap := range m.jobs {
		results = append(results, snap)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].StartedAt.Before(results[j].StartedAt)
		}
		return results[i].CorrelationID < results[j].CorrelationID
	})
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan JobSnapshot {
	ch := make(chan JobSnapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan JobSnapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// map keys are bidirectional; compare against the receive-only view
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the snapshot to all active subscribers without
// blocking.
func (m *MemoryStore) notifySubscribers(snapshot JobSnapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- snapshot:
		default:
			// subscriber is slow, drop the update
		}
	}
}

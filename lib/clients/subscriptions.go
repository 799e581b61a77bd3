package clients

import (
	"container/list"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultMaxSubscriptions is the per-client subscription cap
const DefaultMaxSubscriptions = 20

type subscriptionEntry struct {
	id      string
	filters nostr.Filters
}

// SubscriptionTable is a fixed-capacity map from subscription id to filters.
// Writes move an id to the front; overflow evicts from the back. Reads do
// not change the order.
type SubscriptionTable struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

// NewSubscriptionTable creates a table holding at most capacity ids
func NewSubscriptionTable(capacity int) *SubscriptionTable {
	if capacity <= 0 {
		capacity = DefaultMaxSubscriptions
	}
	return &SubscriptionTable{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Set stores filters under id, replacing any previous filters. It returns
// the id evicted to make room, if any.
func (t *SubscriptionTable) Set(id string, filters nostr.Filters) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if element, ok := t.items[id]; ok {
		element.Value.(*subscriptionEntry).filters = filters
		t.order.MoveToFront(element)
		return "", false
	}

	var evicted string
	var didEvict bool
	if t.order.Len() >= t.capacity {
		if oldest := t.order.Back(); oldest != nil {
			entry := t.order.Remove(oldest).(*subscriptionEntry)
			delete(t.items, entry.id)
			evicted, didEvict = entry.id, true
		}
	}

	t.items[id] = t.order.PushFront(&subscriptionEntry{id: id, filters: filters})
	return evicted, didEvict
}

// Get returns the filters stored under id
func (t *SubscriptionTable) Get(id string) (nostr.Filters, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	element, ok := t.items[id]
	if !ok {
		return nil, false
	}
	return element.Value.(*subscriptionEntry).filters, true
}

// Delete removes id and reports whether it was present
func (t *SubscriptionTable) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	element, ok := t.items[id]
	if !ok {
		return false
	}
	t.order.Remove(element)
	delete(t.items, id)
	return true
}

// Len returns the number of stored subscriptions
func (t *SubscriptionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.Len()
}

// Range calls fn for every subscription, most recently written first. It
// works on a snapshot so fn may block or modify the table.
func (t *SubscriptionTable) Range(fn func(id string, filters nostr.Filters) bool) {
	t.mu.RLock()
	snapshot := make([]subscriptionEntry, 0, t.order.Len())
	for element := t.order.Front(); element != nil; element = element.Next() {
		snapshot = append(snapshot, *element.Value.(*subscriptionEntry))
	}
	t.mu.RUnlock()

	for _, entry := range snapshot {
		if !fn(entry.id, entry.filters) {
			return
		}
	}
}

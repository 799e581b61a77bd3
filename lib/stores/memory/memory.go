// Package memory is an in-process event repository backed by a sorted
// slice. It is meant for tests and ephemeral relays.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
)

var (
	_ stores.EventRepository    = (*Store)(nil)
	_ stores.ExpiredEventPurger = (*Store)(nil)
)

type Store struct {
	mu        sync.RWMutex
	events    []*nostr.Event // sorted with stores.Less
	byID      map[string]*nostr.Event
	byAddress map[stores.Address]*nostr.Event
	closed    bool
}

func New() *Store {
	return &Store{
		events:    make([]*nostr.Event, 0, 1024),
		byID:      make(map[string]*nostr.Event),
		byAddress: make(map[stores.Address]*nostr.Event),
	}
}

func (s *Store) IsSearchSupported() bool {
	return false
}

func (s *Store) Upsert(_ context.Context, event *nostr.Event) (stores.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stores.UpsertResult{}, stores.ErrClosed
	}
	if _, ok := s.byID[event.ID]; ok {
		return stores.UpsertResult{IsDuplicate: true}, nil
	}

	address, replaceable := stores.AddressOf(event)
	if replaceable {
		if existing, ok := s.byAddress[address]; ok {
			if !stores.ShouldReplace(existing, event) {
				return stores.UpsertResult{IsDuplicate: true}, nil
			}
			s.remove(existing)
		}
	}

	stored := *event
	s.insert(&stored)
	if replaceable {
		s.byAddress[address] = &stored
	}
	return stores.UpsertResult{}, nil
}

func (s *Store) insert(event *nostr.Event) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return !stores.Less(s.events[i], event)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = event
	s.byID[event.ID] = event
}

func (s *Store) remove(event *nostr.Event) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return !stores.Less(s.events[i], event)
	})
	if idx < len(s.events) && s.events[idx].ID == event.ID {
		s.events = append(s.events[:idx], s.events[idx+1:]...)
	}
	delete(s.byID, event.ID)
	if address, ok := stores.AddressOf(event); ok && s.byAddress[address] == event {
		delete(s.byAddress, address)
	}
}

func (s *Store) Find(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stores.ErrClosed
	}

	limit := stores.EffectiveLimit(filter)
	if limit == 0 || filter.Search != "" {
		return []*nostr.Event{}, nil
	}

	now := time.Now().Unix()
	found := make([]*nostr.Event, 0, min(limit, len(s.events)))
	for _, event := range s.events {
		if filter.Until != nil && event.CreatedAt > *filter.Until {
			continue
		}
		if filter.Since != nil && event.CreatedAt < *filter.Since {
			// sorted newest first, nothing older can match
			break
		}
		if !events.MatchesFilter(event, filter) || !stores.Visible(event, now) {
			continue
		}

		copied := *event
		found = append(found, &copied)
		if len(found) == limit {
			break
		}
	}
	return found, nil
}

func (s *Store) FindOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	return stores.FindOne(ctx, s, filter)
}

// DeleteExpired drops every event whose expiration is before now
func (s *Store) DeleteExpired(_ context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, stores.ErrClosed
	}

	var expired []*nostr.Event
	for _, event := range s.events {
		if events.IsExpired(event, now) {
			expired = append(expired, event)
		}
	}
	for _, event := range expired {
		s.remove(event)
	}
	return len(expired), nil
}

// Len returns the number of stored events, expired ones included
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.events = nil
	s.byID = nil
	s.byAddress = nil
	return nil
}

// Package stores defines the event repository contract shared by every
// storage adapter, and the rules all adapters apply the same way.
package stores

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
)

// ErrClosed is returned by a repository after Destroy
var ErrClosed = errors.New("store is closed")

// Query limits applied by every adapter
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// UpsertResult reports whether an upsert was discarded as a duplicate
type UpsertResult struct {
	IsDuplicate bool
}

// EventRepository is the storage contract consumed by the event service
type EventRepository interface {
	IsSearchSupported() bool

	// Upsert stores an event. Replaceable and parameterized replaceable
	// events replace the row stored under their address only when newer.
	Upsert(ctx context.Context, event *nostr.Event) (UpsertResult, error)

	// Find returns matching events newest first, bounded by the filter limit
	Find(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)

	FindOne(ctx context.Context, filter nostr.Filter) (*nostr.Event, error)

	// Destroy releases every resource held by the repository
	Destroy() error
}

// ExpiredEventPurger is implemented by repositories that can drop expired
// events in bulk
type ExpiredEventPurger interface {
	DeleteExpired(ctx context.Context, now int64) (int, error)
}

// Finder is the part of a repository FindOne is built on
type Finder interface {
	Find(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// FindOne runs filter with a limit of one and returns the first result, or
// nil when nothing matches
func FindOne(ctx context.Context, finder Finder, filter nostr.Filter) (*nostr.Event, error) {
	filter.Limit = 1
	filter.LimitZero = false

	found, err := finder.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// EffectiveLimit returns the number of events a query may return. A zero
// result means the query must not run at all.
func EffectiveLimit(filter nostr.Filter) int {
	if filter.LimitZero {
		return 0
	}
	if filter.Limit <= 0 {
		return DefaultLimit
	}
	if filter.Limit > MaxLimit {
		return MaxLimit
	}
	return filter.Limit
}

// ShouldReplace reports whether incoming supersedes existing at the same
// address: newer created_at wins, and at equal created_at the smaller id wins
func ShouldReplace(existing, incoming *nostr.Event) bool {
	if incoming.CreatedAt != existing.CreatedAt {
		return incoming.CreatedAt > existing.CreatedAt
	}
	return incoming.ID < existing.ID
}

// Address identifies the single row a replaceable event may occupy
type Address struct {
	Author string
	Kind   int
	D      string
}

func (a Address) String() string {
	return strconv.Itoa(a.Kind) + ":" + a.Author + ":" + a.D
}

// AddressOf returns the address of a replaceable or parameterized
// replaceable event
func AddressOf(event *nostr.Event) (Address, bool) {
	d, ok := events.ExtractDTagValue(event)
	if !ok {
		return Address{}, false
	}
	return Address{
		Author: events.GetAuthor(event, true),
		Kind:   event.Kind,
		D:      d,
	}, true
}

// Less orders events newest first, ties broken by ascending id
func Less(a, b *nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// SortEvents sorts in place with Less
func SortEvents(found []*nostr.Event) {
	sort.Slice(found, func(i, j int) bool {
		return Less(found[i], found[j])
	})
}

// Visible reports whether a stored event may still be returned at now
func Visible(event *nostr.Event, now int64) bool {
	return !events.IsExpired(event, now)
}

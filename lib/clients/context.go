package clients

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// Connection is the transport side of a client. Implementations must be
// safe for concurrent use.
type Connection interface {
	IsOpen() bool
	Send(envelope nostr.Envelope) error
}

// ClientContext is the per-connection state: identity, authentication and
// the live subscription table.
type ClientContext struct {
	id            string
	conn          Connection
	subscriptions *SubscriptionTable

	mu     sync.RWMutex
	pubkey string
}

func newClientContext(conn Connection, maxSubscriptions int) *ClientContext {
	return &ClientContext{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: NewSubscriptionTable(maxSubscriptions),
	}
}

// ID is the opaque context id, also used as the NIP-42 challenge
func (c *ClientContext) ID() string {
	return c.id
}

// Pubkey returns the authenticated pubkey, or "" before AUTH
func (c *ClientContext) Pubkey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubkey
}

// IsAuthenticated reports whether AUTH has bound a pubkey
func (c *ClientContext) IsAuthenticated() bool {
	return c.Pubkey() != ""
}

// Authenticate binds pubkey to the context
func (c *ClientContext) Authenticate(pubkey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubkey = pubkey
}

// Subscribe replaces the filters stored under id. Filters with a search
// term are not kept for live matching.
func (c *ClientContext) Subscribe(id string, filters nostr.Filters) {
	live := make(nostr.Filters, 0, len(filters))
	for _, filter := range filters {
		if filter.Search != "" {
			continue
		}
		live = append(live, filter)
	}
	c.subscriptions.Set(id, live)
}

// Unsubscribe removes id and reports whether anything was removed
func (c *ClientContext) Unsubscribe(id string) bool {
	return c.subscriptions.Delete(id)
}

// Subscriptions exposes the live subscription table
func (c *ClientContext) Subscriptions() *SubscriptionTable {
	return c.subscriptions
}

// IsOpen reports the transport state
func (c *ClientContext) IsOpen() bool {
	return c.conn != nil && c.conn.IsOpen()
}

// Send hands an envelope to the transport. Sending to a closed connection
// is a no-op.
func (c *ClientContext) Send(envelope nostr.Envelope) error {
	if !c.IsOpen() {
		return nil
	}
	return c.conn.Send(envelope)
}

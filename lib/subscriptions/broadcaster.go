// Package subscriptions fans accepted events out to matching live
// subscriptions.
package subscriptions

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/clients"
	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
)

// Broadcaster delivers events to every open client context with a matching
// subscription
type Broadcaster struct {
	registry    *clients.Registry
	authEnabled bool
	logger      *logging.Logger
}

// NewBroadcaster creates a broadcaster over registry. With authEnabled,
// restricted events only reach contexts allowed to see them.
func NewBroadcaster(registry *clients.Registry, authEnabled bool, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Broadcaster{
		registry:    registry,
		authEnabled: authEnabled,
		logger:      logger,
	}
}

// Broadcast sends event to every matching subscription and returns the
// number of deliveries. A panic while evaluating one context ends the pass;
// deliveries already made stay made.
func (b *Broadcaster) Broadcast(_ context.Context, event *nostr.Event) int {
	delivered := 0

	b.registry.Range(func(client *clients.ClientContext) bool {
		sent, err := b.deliver(client, event)
		delivered += sent
		if err != nil {
			b.logger.Error("Broadcast pass aborted", map[string]interface{}{
				"event_id":  event.ID,
				"client_id": client.ID(),
				"error":     err.Error(),
			})
			return false
		}
		return true
	})

	return delivered
}

func (b *Broadcaster) deliver(client *clients.ClientContext, event *nostr.Event) (sent int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while matching subscriptions: %v", r)
		}
	}()

	if !client.IsOpen() {
		return 0, nil
	}
	if b.authEnabled && !events.CheckPermission(event, client.Pubkey()) {
		return 0, nil
	}

	client.Subscriptions().Range(func(id string, filters nostr.Filters) bool {
		if !events.MatchesAnyFilter(event, filters) {
			return true
		}

		subscriptionID := id
		if sendErr := client.Send(&nostr.EventEnvelope{SubscriptionID: &subscriptionID, Event: *event}); sendErr != nil {
			b.logger.Debug("Failed to deliver event", map[string]interface{}{
				"event_id":        event.ID,
				"client_id":       client.ID(),
				"subscription_id": id,
				"error":           sendErr.Error(),
			})
			return true
		}
		sent++
		return true
	})

	return sent, nil
}

// Package relay is the NIP-01 protocol state machine. Transports hand it
// parsed envelopes together with the connection they arrived on.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/multierr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/cache"
	"github.com/HORNET-Storage/hornets-relay-core/lib/clients"
	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/eventservice"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/plugins"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/subscriptions"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

const (
	DefaultEventHandlingResultTTL = 10 * time.Minute

	NoticeUnknownMessage = "invalid: unknown message type"
	NoticeRestrictedReq  = "restricted: authentication required to request direct messages"
)

// ErrNoClientContext means AUTH arrived on a connection that never went
// through HandleConnection
var ErrNoClientContext = errors.New("no client context for connection")

// restrictedKinds need an authenticated context when auth is enabled
var restrictedKinds = []int{types.KindEncryptedDirectMessage}

type Options struct {
	// Domain enables NIP-42 when set. It is the hostname AUTH relay tags
	// must carry; a scheme or port in it is ignored.
	Domain string
	Logger *logging.Logger

	Limits                    events.Limits
	MaxSubscriptionsPerClient int
	FilterResultTTL           time.Duration

	// EventHandlingResultTTL is how long an EVENT result is replayed for
	// the same id. Zero means DefaultEventHandlingResultTTL, negative turns
	// the cache off.
	EventHandlingResultTTL time.Duration
}

type Relay struct {
	repo         stores.EventRepository
	registry     *clients.Registry
	plugins      *plugins.Manager
	broadcaster  *subscriptions.Broadcaster
	service      *eventservice.Service
	eventResults *cache.Lazy[types.EventHandleResult]
	domain       string
	logger       *logging.Logger
}

func New(repo stores.EventRepository, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	var eventResults *cache.Lazy[types.EventHandleResult]
	if resultTTL := opts.EventHandlingResultTTL; resultTTL >= 0 {
		if resultTTL == 0 {
			resultTTL = DefaultEventHandlingResultTTL
		}
		eventResults = cache.NewLazy[types.EventHandleResult](resultTTL, time.Minute)
	}

	registry := clients.NewRegistry(opts.MaxSubscriptionsPerClient)
	manager := plugins.NewManager()
	broadcaster := subscriptions.NewBroadcaster(registry, opts.Domain != "", logger)

	return &Relay{
		repo:        repo,
		registry:    registry,
		plugins:     manager,
		broadcaster: broadcaster,
		service: eventservice.New(repo, broadcaster, manager, eventservice.Options{
			Limits:          opts.Limits,
			FilterResultTTL: opts.FilterResultTTL,
			Logger:          logger,
		}),
		eventResults: eventResults,
		domain:       opts.Domain,
		logger:       logger,
	}
}

// RegisterPlugins adds plugins in order. See plugins.Manager.Register.
func (r *Relay) RegisterPlugins(plugins ...any) error {
	return r.plugins.Register(plugins...)
}

// AuthEnabled reports whether NIP-42 is on
func (r *Relay) AuthEnabled() bool {
	return r.domain != ""
}

func (r *Relay) IsSearchSupported() bool {
	return r.repo.IsSearchSupported()
}

// Clients is the registry of connected client contexts
func (r *Relay) Clients() *clients.Registry {
	return r.registry
}

// Broadcast pushes an event to matching live subscriptions without
// storing it
func (r *Relay) Broadcast(ctx context.Context, event *nostr.Event) int {
	return r.broadcaster.Broadcast(ctx, event)
}

// Close stops the caches and destroys the repository
func (r *Relay) Close() error {
	if r.eventResults != nil {
		r.eventResults.Close()
	}
	r.service.Close()

	var err error
	if r.repo != nil {
		err = multierr.Append(err, r.repo.Destroy())
	}
	return err
}

// ──────── Connection lifecycle ────────

// HandleConnection creates the client context and sends the AUTH challenge
// when auth is enabled
func (r *Relay) HandleConnection(conn clients.Connection) *clients.ClientContext {
	client := r.registry.GetOrCreate(conn)

	r.logger.Debug("Client connected", map[string]interface{}{
		"client_id": client.ID(),
		"clients":   r.registry.Size(),
	})

	if r.AuthEnabled() {
		challenge := client.ID()
		r.send(client, &nostr.AuthEnvelope{Challenge: &challenge})
	}
	return client
}

// HandleDisconnect discards the client context
func (r *Relay) HandleDisconnect(conn clients.Connection) {
	client, ok := r.registry.Get(conn)
	if !ok {
		return
	}
	r.registry.Remove(conn)
	r.logger.Debug("Client disconnected", map[string]interface{}{
		"client_id": client.ID(),
		"clients":   r.registry.Size(),
	})
}

// HandleMessage dispatches one parsed envelope. A nil envelope is an
// unparseable or unknown message.
func (r *Relay) HandleMessage(ctx context.Context, conn clients.Connection, envelope nostr.Envelope) {
	switch env := envelope.(type) {
	case *nostr.EventEnvelope:
		r.HandleEvent(ctx, conn, &env.Event)
	case *nostr.ReqEnvelope:
		r.HandleReq(ctx, conn, env.SubscriptionID, env.Filters)
	case *nostr.CloseEnvelope:
		r.HandleClose(conn, string(*env))
	case *nostr.AuthEnvelope:
		if _, err := r.HandleAuth(conn, &env.Event); err != nil {
			r.logger.Error("AUTH handling failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	default:
		client := r.registry.GetOrCreate(conn)
		notice := nostr.NoticeEnvelope(NoticeUnknownMessage)
		r.send(client, &notice)
	}
}

// ──────── EVENT ────────

// HandleEvent handles an event once per id within the result TTL and
// replies with OK unless the result asks for no reply
func (r *Relay) HandleEvent(ctx context.Context, conn clients.Connection, event *nostr.Event) types.EventHandleResult {
	client := r.registry.GetOrCreate(conn)

	result := r.handleEvent(ctx, event)

	if !result.NoReplyNeeded {
		r.send(client, &nostr.OKEnvelope{
			EventID: event.ID,
			OK:      result.Success,
			Reason:  result.Message,
		})
	}
	return result
}

func (r *Relay) handleEvent(ctx context.Context, event *nostr.Event) types.EventHandleResult {
	if r.eventResults == nil {
		return r.service.HandleEvent(ctx, event)
	}

	result, err := r.eventResults.Get(ctx, event.ID, func(ctx context.Context) (types.EventHandleResult, error) {
		return r.service.HandleEvent(ctx, event), nil
	})
	if err != nil {
		return types.EventHandleResult{Success: false, Message: "error: " + err.Error()}
	}

	// rejections are not replayed
	if !result.Success {
		r.eventResults.Forget(event.ID)
	}
	return result
}

// ──────── REQ / CLOSE ────────

// HandleReq registers the subscription, streams the stored matches and
// ends with EOSE. It returns the number of events sent. A failed query
// drops the subscription and answers with a NOTICE instead.
func (r *Relay) HandleReq(ctx context.Context, conn clients.Connection, subscriptionID string, filters nostr.Filters) int {
	client := r.registry.GetOrCreate(conn)

	if r.AuthEnabled() && !client.IsAuthenticated() && requestsRestrictedKinds(filters) {
		r.logger.Debug("Rejected restricted REQ from unauthenticated client", map[string]interface{}{
			"client_id":       client.ID(),
			"subscription_id": subscriptionID,
		})
		notice := nostr.NoticeEnvelope(NoticeRestrictedReq)
		r.send(client, &notice)
		return 0
	}

	client.Subscribe(subscriptionID, filters)

	found, err := r.service.Find(ctx, filters)
	if err != nil {
		r.logger.Error("Failed to query events", map[string]interface{}{
			"subscription_id": subscriptionID,
			"error":           err.Error(),
		})
		client.Unsubscribe(subscriptionID)
		notice := nostr.NoticeEnvelope("error: " + err.Error())
		r.send(client, &notice)
		return 0
	}

	pubkey := client.Pubkey()
	sent := 0
	for _, event := range found {
		if r.AuthEnabled() && !events.CheckPermission(event, pubkey) {
			continue
		}
		r.send(client, &nostr.EventEnvelope{SubscriptionID: &subscriptionID, Event: *event})
		sent++
	}

	eose := nostr.EOSEEnvelope(subscriptionID)
	r.send(client, &eose)
	return sent
}

func requestsRestrictedKinds(filters nostr.Filters) bool {
	for _, filter := range filters {
		for _, kind := range filter.Kinds {
			for _, restricted := range restrictedKinds {
				if kind == restricted {
					return true
				}
			}
		}
	}
	return false
}

// HandleClose drops the subscription. It always succeeds.
func (r *Relay) HandleClose(conn clients.Connection, subscriptionID string) bool {
	if client, ok := r.registry.Get(conn); ok {
		client.Unsubscribe(subscriptionID)
	}
	return true
}

// ──────── AUTH ────────

// HandleAuth verifies a NIP-42 auth event and binds its author to the
// connection. It replies with OK in every case except a missing context.
func (r *Relay) HandleAuth(conn clients.Connection, event *nostr.Event) (bool, error) {
	client, ok := r.registry.Get(conn)
	if !ok {
		return false, ErrNoClientContext
	}

	if !r.AuthEnabled() {
		r.send(client, &nostr.OKEnvelope{EventID: event.ID, OK: true})
		return true, nil
	}

	if err := ValidateAuthEvent(event, client.ID(), r.domain); err != nil {
		r.logger.Debug("Rejected AUTH", map[string]interface{}{
			"client_id": client.ID(),
			"reason":    err.Error(),
		})
		r.send(client, &nostr.OKEnvelope{EventID: event.ID, OK: false, Reason: err.Error()})
		return false, nil
	}

	client.Authenticate(events.GetAuthor(event, true))
	r.send(client, &nostr.OKEnvelope{EventID: event.ID, OK: true})
	return true, nil
}

func (r *Relay) send(client *clients.ClientContext, envelope nostr.Envelope) {
	if err := client.Send(envelope); err != nil {
		r.logger.Debug("Failed to send message", map[string]interface{}{
			"client_id": client.ID(),
			"type":      envelope.Label(),
			"error":     err.Error(),
		})
	}
}

// Package eventservice runs incoming events through hooks, validation,
// storage and broadcast, and answers historical queries.
package eventservice

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/cache"
	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/logging"
	"github.com/HORNET-Storage/hornets-relay-core/lib/plugins"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/subscriptions"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

const DefaultFilterResultTTL = time.Second

// Broadcaster fans an accepted event out to matching subscriptions
type Broadcaster interface {
	Broadcast(ctx context.Context, event *nostr.Event) int
}

var _ Broadcaster = (*subscriptions.Broadcaster)(nil)

type Options struct {
	Limits events.Limits
	// FilterResultTTL is how long a query result is shared. Zero means
	// DefaultFilterResultTTL.
	FilterResultTTL time.Duration
	Logger          *logging.Logger
}

type Service struct {
	repo        stores.EventRepository
	broadcaster Broadcaster
	plugins     *plugins.Manager
	limits      events.Limits
	filterCache *cache.Lazy[[]*nostr.Event]
	logger      *logging.Logger
}

// New builds a service. A nil plugin manager behaves as one with no
// plugins registered.
func New(repo stores.EventRepository, broadcaster Broadcaster, pluginManager *plugins.Manager, opts Options) *Service {
	if pluginManager == nil {
		pluginManager = plugins.NewManager()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	ttl := opts.FilterResultTTL
	if ttl <= 0 {
		ttl = DefaultFilterResultTTL
	}

	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		plugins:     pluginManager,
		limits:      opts.Limits,
		filterCache: cache.NewLazy[[]*nostr.Event](ttl, 0),
		logger:      logger,
	}
}

// Close stops the filter cache
func (s *Service) Close() {
	s.filterCache.Close()
}

// HandleEvent never fails. Storage and plugin errors, as well as panics,
// are reported through the result message.
func (s *Service) HandleEvent(ctx context.Context, event *nostr.Event) types.EventHandleResult {
	veto, err := s.plugins.BeforeEventHandle(ctx, event)
	if err != nil {
		return s.failure(event, err)
	}
	if veto != nil {
		return *veto
	}

	result := s.process(ctx, event)
	return s.plugins.AfterEventHandle(ctx, event, result)
}

func (s *Service) process(ctx context.Context, event *nostr.Event) (result types.EventHandleResult) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				result = s.failure(event, err)
				return
			}
			s.logger.Error("Panic while handling event", map[string]interface{}{
				"event_id": event.ID,
				"panic":    fmt.Sprint(r),
			})
			result = types.EventHandleResult{Success: false, Message: types.MessageUnknown}
		}
	}()

	if event.Kind == types.KindClientAuthentication {
		return types.EventHandleResult{Success: true, NoReplyNeeded: true}
	}

	eventType := events.Classify(event.Kind)

	if eventType != types.EventTypeEphemeral {
		existing, err := s.repo.FindOne(ctx, nostr.Filter{IDs: []string{event.ID}})
		if err != nil {
			return s.failure(event, err)
		}
		if existing != nil {
			return types.EventHandleResult{Success: true, Message: types.MessageDuplicate}
		}
	}

	if err := events.Validate(event, s.limits); err != nil {
		return types.EventHandleResult{Success: false, Message: err.Error()}
	}

	if eventType == types.EventTypeEphemeral {
		if err := s.broadcast(ctx, event); err != nil {
			return s.failure(event, err)
		}
		return types.EventHandleResult{Success: true}
	}

	upserted, err := s.repo.Upsert(ctx, event)
	if err != nil {
		return s.failure(event, err)
	}
	if upserted.IsDuplicate {
		return types.EventHandleResult{Success: true, Message: types.MessageDuplicate}
	}

	if err := s.broadcast(ctx, event); err != nil {
		return s.failure(event, err)
	}
	return types.EventHandleResult{Success: true}
}

func (s *Service) broadcast(ctx context.Context, event *nostr.Event) error {
	allowed, err := s.plugins.BeforeEventBroadcast(ctx, event)
	if err != nil {
		return fmt.Errorf("before broadcast hook: %w", err)
	}
	if !allowed {
		return nil
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, event)
	}
	s.plugins.AfterEventBroadcast(ctx, event)
	return nil
}

func (s *Service) failure(event *nostr.Event, err error) types.EventHandleResult {
	s.logger.Error("Failed to handle event", map[string]interface{}{
		"event_id": event.ID,
		"error":    err.Error(),
	})
	return types.EventHandleResult{Success: false, Message: "error: " + err.Error()}
}

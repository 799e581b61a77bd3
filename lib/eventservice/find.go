package eventservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
)

// canonicalJSON sorts tag names so equal filters produce equal keys
var canonicalJSON = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

type filterKey struct {
	IDs       []string            `json:"ids,omitempty"`
	Authors   []string            `json:"authors,omitempty"`
	Kinds     []int               `json:"kinds,omitempty"`
	Tags      map[string][]string `json:"tags,omitempty"`
	Since     *int64              `json:"since,omitempty"`
	Until     *int64              `json:"until,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	LimitZero bool                `json:"limit_zero,omitempty"`
	Search    string              `json:"search,omitempty"`
}

// FilterCacheKey is the sha256 of the filter's canonical JSON form
func FilterCacheKey(filter nostr.Filter) (string, error) {
	key := filterKey{
		IDs:       filter.IDs,
		Authors:   filter.Authors,
		Kinds:     filter.Kinds,
		Limit:     filter.Limit,
		LimitZero: filter.LimitZero,
		Search:    filter.Search,
	}
	if len(filter.Tags) > 0 {
		key.Tags = make(map[string][]string, len(filter.Tags))
		for name, values := range filter.Tags {
			key.Tags[name] = values
		}
	}
	if filter.Since != nil {
		since := int64(*filter.Since)
		key.Since = &since
	}
	if filter.Until != nil {
		until := int64(*filter.Until)
		key.Until = &until
	}

	encoded, err := canonicalJSON.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Find queries every filter and unions the results by event id, keeping
// the first occurrence. Search filters yield nothing when the repository
// cannot search.
func (s *Service) Find(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	seen := make(map[string]struct{})
	found := make([]*nostr.Event, 0)

	for _, filter := range filters {
		if filter.Search != "" && !s.repo.IsSearchSupported() {
			continue
		}

		matched, err := s.findFilter(ctx, filter)
		if err != nil {
			return nil, err
		}

		for _, event := range matched {
			if _, ok := seen[event.ID]; ok {
				continue
			}
			seen[event.ID] = struct{}{}
			found = append(found, event)
		}
	}

	return found, nil
}

func (s *Service) findFilter(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	key, err := FilterCacheKey(filter)
	if err != nil {
		return nil, err
	}

	return s.filterCache.Get(ctx, key, func(ctx context.Context) ([]*nostr.Event, error) {
		return s.repo.Find(ctx, filter)
	})
}

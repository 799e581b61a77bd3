package events

import (
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// MatchesFilter evaluates a filter against an already fetched event. Search
// terms are ignored; they are only meaningful to a repository.
func MatchesFilter(event *nostr.Event, filter nostr.Filter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, event.ID) {
		return false
	}
	if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, event.Kind) {
		return false
	}
	if filter.Since != nil && event.CreatedAt < *filter.Since {
		return false
	}
	if filter.Until != nil && event.CreatedAt > *filter.Until {
		return false
	}
	if len(filter.Authors) > 0 && !slices.Contains(filter.Authors, GetAuthor(event, true)) {
		return false
	}

	// AND across tag names, OR within values
	for name, values := range filter.Tags {
		if len(values) == 0 {
			continue
		}
		if !hasTagValue(event, strings.TrimPrefix(name, "#"), values) {
			return false
		}
	}

	return true
}

// MatchesAnyFilter is the OR of MatchesFilter over a filter set
func MatchesAnyFilter(event *nostr.Event, filters nostr.Filters) bool {
	for _, filter := range filters {
		if MatchesFilter(event, filter) {
			return true
		}
	}
	return false
}

func hasTagValue(event *nostr.Event, name string, values []string) bool {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name && slices.Contains(values, tag[1]) {
			return true
		}
	}
	return false
}

// CheckPermission reports whether pubkey may see the event. Only direct
// messages are restricted, to their author and their p tagged recipients.
// An empty pubkey is an unauthenticated reader.
func CheckPermission(event *nostr.Event, pubkey string) bool {
	if event.Kind != types.KindEncryptedDirectMessage {
		return true
	}
	if pubkey == "" {
		return false
	}
	if GetAuthor(event, false) == pubkey {
		return true
	}
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
			return true
		}
	}
	return false
}

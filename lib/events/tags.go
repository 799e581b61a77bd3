package events

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// firstTag returns the first tag named name with at least minLen elements
func firstTag(event *nostr.Event, name string, minLen int) nostr.Tag {
	for _, tag := range event.Tags {
		if len(tag) >= minLen && tag[0] == name {
			return tag
		}
	}
	return nil
}

// ExtractExpiration returns the NIP-40 expiration timestamp. An unparseable
// value counts as no expiration.
func ExtractExpiration(event *nostr.Event) (int64, bool) {
	tag := firstTag(event, "expiration", 2)
	if tag == nil {
		return 0, false
	}

	expiration, err := strconv.ParseInt(tag[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return expiration, true
}

// ExtractDTagValue returns the replacement key of an event. Replaceable
// events use the empty string; parameterized replaceable events use the
// first non-empty d tag. Other classes have none.
func ExtractDTagValue(event *nostr.Event) (string, bool) {
	switch Classify(event.Kind) {
	case types.EventTypeReplaceable:
		return "", true
	case types.EventTypeParameterizedReplaceable:
		for _, tag := range event.Tags {
			if len(tag) >= 2 && tag[0] == "d" && tag[1] != "" {
				return tag[1], true
			}
		}
		return "", true
	default:
		return "", false
	}
}

// IsExpired reports whether the event carries an expiration before now
func IsExpired(event *nostr.Event, now int64) bool {
	expiration, ok := ExtractExpiration(event)
	return ok && expiration < now
}

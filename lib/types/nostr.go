// Nostr event handling types shared across the relay core
package types

// EventHandleResult is the outcome of handling a single incoming event.
// It is turned into an OK message unless NoReplyNeeded is set.
type EventHandleResult struct {
	Success       bool
	Message       string
	NoReplyNeeded bool
}

// Messages attached to well-known outcomes
const (
	MessageDuplicate = "duplicate: the event already exists"
	MessageUnknown   = "error: unknown"
)

// EventType classifies an event by its kind. It decides how the event is
// deduped and stored.
type EventType int

const (
	EventTypeRegular EventType = iota
	EventTypeReplaceable
	EventTypeEphemeral
	EventTypeParameterizedReplaceable
)

func (t EventType) String() string {
	switch t {
	case EventTypeRegular:
		return "REGULAR"
	case EventTypeReplaceable:
		return "REPLACEABLE"
	case EventTypeEphemeral:
		return "EPHEMERAL"
	case EventTypeParameterizedReplaceable:
		return "PARAMETERIZED_REPLACEABLE"
	default:
		return "UNKNOWN"
	}
}

// Reserved kinds with relay-level semantics
const (
	KindEncryptedDirectMessage = 4
	KindClientAuthentication   = 22242
)

package relay

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// AuthMaxClockSkew bounds how far an auth event's created_at may be from now
const AuthMaxClockSkew = 10 * time.Minute

var (
	ErrAuthKind      = errors.New("invalid: the kind is not 22242")
	ErrAuthChallenge = errors.New("invalid: the challenge string is wrong")
	ErrAuthRelay     = errors.New("invalid: the relay url is wrong")
	ErrAuthCreatedAt = errors.New("invalid: the created_at should be within 10 minutes")
)

// ValidateAuthEvent checks a NIP-42 auth event against the challenge sent to
// the connection and the relay's domain
func ValidateAuthEvent(event *nostr.Event, challenge, domain string) error {
	return ValidateAuthEventAt(event, challenge, domain, time.Now().Unix())
}

func ValidateAuthEventAt(event *nostr.Event, challenge, domain string, now int64) error {
	if err := events.ValidateAt(event, events.Limits{}, now); err != nil {
		return err
	}

	if event.Kind != types.KindClientAuthentication {
		return ErrAuthKind
	}

	if tagValue(event, "challenge") != challenge {
		return ErrAuthChallenge
	}

	if !relayMatches(tagValue(event, "relay"), domain) {
		return ErrAuthRelay
	}

	skew := now - int64(event.CreatedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(AuthMaxClockSkew/time.Second) {
		return ErrAuthCreatedAt
	}

	return nil
}

func tagValue(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func relayMatches(relayURL, domain string) bool {
	if relayURL == "" {
		return false
	}
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), domainHost(domain))
}

// domainHost reduces a configured domain such as "localhost:8080" or
// "wss://relay.example.com" to its hostname
func domainHost(domain string) string {
	raw := domain
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return domain
	}
	return parsed.Hostname()
}

package relay_test

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/relay"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

func TestValidateAuthEvent(t *testing.T) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	const challenge = "3f1c2a"

	sign := func(kind int, tags nostr.Tags, createdAt int64) *nostr.Event {
		ev, err := helpers.CreateEventAt(kp, kind, "", tags, createdAt)
		require.NoError(t, err)
		return ev
	}
	authTags := func(relayURL, challenge string) nostr.Tags {
		return nostr.Tags{{"relay", relayURL}, {"challenge", challenge}}
	}

	tampered := sign(22242, authTags("wss://"+testDomain, challenge), now)
	sig := []byte(tampered.Sig)
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}
	tampered.Sig = string(sig)

	tests := []struct {
		name  string
		event *nostr.Event
		want  error
	}{
		{"valid", sign(22242, authTags("wss://"+testDomain, challenge), now), nil},
		{"hostname is case insensitive", sign(22242, authTags("wss://Relay.Example.com:443/path", challenge), now), nil},
		{"bad signature", tampered, events.ErrSignatureWrong},
		{"wrong kind", sign(1, authTags("wss://"+testDomain, challenge), now), relay.ErrAuthKind},
		{"wrong challenge", sign(22242, authTags("wss://"+testDomain, "other"), now), relay.ErrAuthChallenge},
		{"missing challenge", sign(22242, nostr.Tags{{"relay", "wss://" + testDomain}}, now), relay.ErrAuthChallenge},
		{"wrong relay", sign(22242, authTags("wss://evil.example.org", challenge), now), relay.ErrAuthRelay},
		{"missing relay", sign(22242, nostr.Tags{{"challenge", challenge}}, now), relay.ErrAuthRelay},
		{"too old", sign(22242, authTags("wss://"+testDomain, challenge), now-11*60), relay.ErrAuthCreatedAt},
		{"too far ahead", sign(22242, authTags("wss://"+testDomain, challenge), now+11*60), relay.ErrAuthCreatedAt},
		{"within skew", sign(22242, authTags("wss://"+testDomain, challenge), now-9*60), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := relay.ValidateAuthEventAt(tt.event, challenge, testDomain, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAuthEventDomainForms(t *testing.T) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	const challenge = "9b0e77"

	tests := []struct {
		name     string
		domain   string
		relayURL string
		want     error
	}{
		{"domain with port", "localhost:8080", "ws://localhost:8080", nil},
		{"domain with port, url without", "localhost:8080", "ws://localhost", nil},
		{"domain with scheme", "wss://" + testDomain, "wss://" + testDomain + "/", nil},
		{"domain with port, other host", "localhost:8080", "ws://127.0.0.1:8080", relay.ErrAuthRelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := helpers.CreateEventAt(kp, 22242, "", nostr.Tags{{"relay", tt.relayURL}, {"challenge", challenge}}, now)
			require.NoError(t, err)

			err = relay.ValidateAuthEventAt(ev, challenge, tt.domain, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

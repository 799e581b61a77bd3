package subscriptions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/clients"
	"github.com/HORNET-Storage/hornets-relay-core/lib/subscriptions"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

type panickingConnection struct{}

func (panickingConnection) IsOpen() bool { panic("transport state unavailable") }

func (panickingConnection) Send(nostr.Envelope) error { return nil }

func TestBroadcastDeliversToMatchingSubscriptions(t *testing.T) {
	registry := clients.NewRegistry(0)
	broadcaster := subscriptions.NewBroadcaster(registry, false, helpers.DiscardLogger())

	author := helpers.MustGenerateKeyPair()
	note, err := helpers.CreateTextNote(author, "hello")
	require.NoError(t, err)

	matching := helpers.NewRecordingConnection()
	registry.GetOrCreate(matching).Subscribe("notes", nostr.Filters{{Kinds: []int{1}}})
	registry.GetOrCreate(matching).Subscribe("profiles", nostr.Filters{{Kinds: []int{0}}})

	other := helpers.NewRecordingConnection()
	registry.GetOrCreate(other).Subscribe("by-author", nostr.Filters{
		{Authors: []string{"someone-else"}},
		{Authors: []string{author.PublicKey}},
	})

	closed := helpers.NewRecordingConnection()
	registry.GetOrCreate(closed).Subscribe("all", nostr.Filters{{}})
	closed.Close()

	delivered := broadcaster.Broadcast(context.Background(), note)
	assert.Equal(t, 2, delivered)

	got := matching.Events("notes")
	require.Len(t, got, 1)
	assert.Equal(t, note.ID, got[0].Event.ID)
	assert.Empty(t, matching.Events("profiles"))

	assert.Len(t, other.Events("by-author"), 1)
	assert.Empty(t, closed.Envelopes())
}

func TestBroadcastSkipsEvictedSubscriptions(t *testing.T) {
	registry := clients.NewRegistry(1)
	broadcaster := subscriptions.NewBroadcaster(registry, false, helpers.DiscardLogger())

	conn := helpers.NewRecordingConnection()
	client := registry.GetOrCreate(conn)
	client.Subscribe("first", nostr.Filters{{Kinds: []int{1}}})
	client.Subscribe("second", nostr.Filters{{Kinds: []int{7}}})

	note, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "evicted")
	require.NoError(t, err)

	assert.Zero(t, broadcaster.Broadcast(context.Background(), note))
	assert.Empty(t, conn.Envelopes())
}

func TestBroadcastDirectMessagePermissions(t *testing.T) {
	sender := helpers.MustGenerateKeyPair()
	recipient := helpers.MustGenerateKeyPair()
	dm, err := helpers.CreateDirectMessage(sender, recipient.PublicKey, "secret")
	require.NoError(t, err)

	tests := []struct {
		name        string
		authEnabled bool
		pubkey      string
		expected    int
	}{
		{"auth disabled delivers to anyone", false, "", 1},
		{"unauthenticated is denied", true, "", 0},
		{"stranger is denied", true, helpers.MustGenerateKeyPair().PublicKey, 0},
		{"recipient is allowed", true, recipient.PublicKey, 1},
		{"sender is allowed", true, sender.PublicKey, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := clients.NewRegistry(0)
			broadcaster := subscriptions.NewBroadcaster(registry, tt.authEnabled, helpers.DiscardLogger())

			conn := helpers.NewRecordingConnection()
			client := registry.GetOrCreate(conn)
			client.Subscribe("dms", nostr.Filters{{Kinds: []int{4}}})
			if tt.pubkey != "" {
				client.Authenticate(tt.pubkey)
			}

			assert.Equal(t, tt.expected, broadcaster.Broadcast(context.Background(), dm))
			assert.Len(t, conn.Events("dms"), tt.expected)
		})
	}
}

func TestBroadcastContinuesPastSendFailures(t *testing.T) {
	registry := clients.NewRegistry(0)
	broadcaster := subscriptions.NewBroadcaster(registry, false, helpers.DiscardLogger())

	registry.GetOrCreate(&helpers.FailingConnection{Err: errors.New("broken pipe")}).
		Subscribe("all", nostr.Filters{{}})
	healthy := helpers.NewRecordingConnection()
	registry.GetOrCreate(healthy).Subscribe("all", nostr.Filters{{}})

	note, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "hi")
	require.NoError(t, err)

	assert.Equal(t, 1, broadcaster.Broadcast(context.Background(), note))
	assert.Len(t, healthy.Events("all"), 1)
}

func TestBroadcastRecoversFromPanickingContext(t *testing.T) {
	registry := clients.NewRegistry(0)
	broadcaster := subscriptions.NewBroadcaster(registry, false, helpers.DiscardLogger())
	registry.GetOrCreate(panickingConnection{}).Subscribe("all", nostr.Filters{{}})

	note, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "hi")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.Zero(t, broadcaster.Broadcast(context.Background(), note))
	})
}

func TestBroadcastToleratesConcurrentRemoval(t *testing.T) {
	registry := clients.NewRegistry(0)
	broadcaster := subscriptions.NewBroadcaster(registry, false, helpers.DiscardLogger())

	conns := make([]*helpers.RecordingConnection, 20)
	for i := range conns {
		conns[i] = helpers.NewRecordingConnection()
		registry.GetOrCreate(conns[i]).Subscribe("all", nostr.Filters{{}})
	}

	note, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "hi")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, conn := range conns {
			registry.Remove(conn)
		}
	}()
	assert.NotPanics(t, func() {
		broadcaster.Broadcast(context.Background(), note)
	})
	<-done
	assert.Zero(t, registry.Size())
}

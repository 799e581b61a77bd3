package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/memory"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/storetest"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) stores.EventRepository {
		return memory.New()
	})
}

func TestReplacementKeepsIndexesConsistent(t *testing.T) {
	store := memory.New()
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()

	for i := int64(0); i < 5; i++ {
		event, err := helpers.CreateEventAt(kp, 3, "", nostr.Tags{{"p", kp.PublicKey}}, now+i)
		require.NoError(t, err)
		_, err = store.Upsert(context.Background(), event)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, store.Len())

	found, err := store.Find(context.Background(), nostr.Filter{Kinds: []int{3}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, nostr.Timestamp(now+4), found[0].CreatedAt)
}

func TestStoredEventsAreCopies(t *testing.T) {
	store := memory.New()
	event, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "original")
	require.NoError(t, err)

	_, err = store.Upsert(context.Background(), event)
	require.NoError(t, err)
	event.Content = "mutated"

	found, err := store.FindOne(context.Background(), nostr.Filter{IDs: []string{event.ID}})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "original", found.Content)

	found.Content = "mutated again"
	again, err := store.FindOne(context.Background(), nostr.Filter{IDs: []string{event.ID}})
	require.NoError(t, err)
	assert.Equal(t, "original", again.Content)
}

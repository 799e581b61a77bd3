package bbolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/storetest"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

func openStore(t *testing.T, path string) *BBoltStore {
	t.Helper()
	store, err := InitStore(path, helpers.DiscardLogger())
	require.NoError(t, err)
	return store
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) stores.EventRepository {
		return openStore(t, t.TempDir())
	})
}

func TestInitStoreCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "bbolt")
	store := openStore(t, dir)
	defer store.Destroy()

	assert.Equal(t, filepath.Join(dir, "events.db"), store.Path)
	assert.False(t, store.IsSearchSupported())
}

func TestEventsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)

	kp := helpers.MustGenerateKeyPair()
	profile, err := helpers.CreateReplaceableEvent(kp, 0, `{"name":"bolt"}`)
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), profile)
	require.NoError(t, err)
	require.NoError(t, store.Destroy())
	require.NoError(t, store.Destroy())

	store = openStore(t, dir)
	defer store.Destroy()

	found, err := store.Find(context.Background(), nostr.Filter{Authors: []string{kp.PublicKey}, Kinds: []int{0}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, profile.ID, found[0].ID)

	older, err := helpers.CreateEventAt(kp, 0, "{}", nil, int64(profile.CreatedAt)-1)
	require.NoError(t, err)
	result, err := store.Upsert(context.Background(), older)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
}

func TestUntilBoundIsInclusive(t *testing.T) {
	store := openStore(t, t.TempDir())
	defer store.Destroy()

	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	for _, ts := range []int64{now - 20, now - 10, now} {
		event, err := helpers.CreateEventAt(kp, 1, "x", nil, ts)
		require.NoError(t, err)
		_, err = store.Upsert(context.Background(), event)
		require.NoError(t, err)
	}

	until := nostr.Timestamp(now - 10)
	found, err := store.Find(context.Background(), nostr.Filter{Until: &until})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, until, found[0].CreatedAt)
}

func TestParseIndexKey(t *testing.T) {
	id := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	ts, parsed := parseIndexKey(kindKey(30023, 1234567890, id))
	assert.Equal(t, int64(1234567890), ts)
	assert.Equal(t, id, parsed)

	ts, parsed = parseIndexKey([]byte("too-short"))
	assert.Zero(t, ts)
	assert.Empty(t, parsed)
}

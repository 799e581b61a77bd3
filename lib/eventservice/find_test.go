package eventservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/eventservice"
)

func TestFindUnionsAndDedupes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	note := mustEvent(t, 1, "note", nil)
	reaction := mustEvent(t, 7, "+", nostr.Tags{{"e", note.ID}})
	for _, ev := range []*nostr.Event{note, reaction} {
		require.True(t, env.service.HandleEvent(ctx, ev).Success)
	}

	found, err := env.service.Find(ctx, nostr.Filters{
		{Kinds: []int{1}},
		{Kinds: []int{1, 7}},
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, note.ID, found[0].ID)
	assert.Equal(t, reaction.ID, found[1].ID)
}

func TestFindSkipsUnsupportedSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.service.HandleEvent(ctx, mustEvent(t, 1, "nostr relays", nil)).Success)

	found, err := env.service.Find(ctx, nostr.Filters{{Search: "relays"}})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Zero(t, env.repo.findCalls.Load())
}

func TestFindCoalescesIdenticalFilters(t *testing.T) {
	env := newTestEnv(t)
	env.repo.findDelay = 50 * time.Millisecond
	ctx := context.Background()
	require.True(t, env.service.HandleEvent(ctx, mustEvent(t, 1, "x", nil)).Success)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := env.service.Find(ctx, nostr.Filters{{Kinds: []int{1}}})
			assert.NoError(t, err)
			assert.Len(t, found, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.repo.findCalls.Load())
}

func TestFilterCacheKey(t *testing.T) {
	since := nostr.Timestamp(100)

	base := nostr.Filter{Kinds: []int{1}, Tags: nostr.TagMap{"e": {"a"}, "p": {"b"}}, Since: &since}
	same := nostr.Filter{Tags: nostr.TagMap{"p": {"b"}, "e": {"a"}}, Since: &since, Kinds: []int{1}}

	tests := []struct {
		name  string
		other nostr.Filter
		equal bool
	}{
		{"same content", same, true},
		{"different kind", nostr.Filter{Kinds: []int{2}, Tags: base.Tags, Since: &since}, false},
		{"limit zero", nostr.Filter{Kinds: []int{1}, Tags: base.Tags, Since: &since, LimitZero: true}, false},
		{"no since", nostr.Filter{Kinds: []int{1}, Tags: base.Tags}, false},
	}

	baseKey, err := eventservice.FilterCacheKey(base)
	require.NoError(t, err)
	assert.Len(t, baseKey, 64)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := eventservice.FilterCacheKey(tt.other)
			require.NoError(t, err)
			assert.Equal(t, tt.equal, key == baseKey)
		})
	}
}

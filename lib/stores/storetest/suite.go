// Package storetest holds the contract tests every event repository must
// pass. Adapters call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

// Factory opens an empty repository. Cleanup is the caller's job except
// for Destroy, which Run handles.
type Factory func(t *testing.T) stores.EventRepository

// Run exercises the repository contract against repositories from open
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo stores.EventRepository)
	}{
		{"UpsertAndFindByID", testUpsertAndFindByID},
		{"DuplicateID", testDuplicateID},
		{"ReplaceableNewerWins", testReplaceableNewerWins},
		{"ReplaceableTieBreak", testReplaceableTieBreak},
		{"ParameterizedReplaceableTieBreak", testParameterizedTieBreak},
		{"ParameterizedAddressesAreIndependent", testParameterizedAddresses},
		{"DelegatedReplaceableUsesDelegator", testDelegatedReplaceable},
		{"Ordering", testOrdering},
		{"Limits", testLimits},
		{"Filters", testFilters},
		{"ExpiredEventsAreHidden", testExpiredHidden},
		{"FindOne", testFindOne},
		{"Search", testSearch},
		{"Destroy", testDestroy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := open(t)
			t.Cleanup(func() { _ = repo.Destroy() })
			tt.fn(t, repo)
		})
	}
}

func mustEvent(t *testing.T, kp *helpers.TestKeyPair, kind int, content string, tags nostr.Tags, createdAt int64) *nostr.Event {
	t.Helper()
	event, err := helpers.CreateEventAt(kp, kind, content, tags, createdAt)
	require.NoError(t, err)
	return event
}

func mustUpsert(t *testing.T, repo stores.EventRepository, event *nostr.Event) stores.UpsertResult {
	t.Helper()
	result, err := repo.Upsert(context.Background(), event)
	require.NoError(t, err)
	return result
}

func mustFind(t *testing.T, repo stores.EventRepository, filter nostr.Filter) []*nostr.Event {
	t.Helper()
	found, err := repo.Find(context.Background(), filter)
	require.NoError(t, err)
	return found
}

func eventIDs(found []*nostr.Event) []string {
	out := make([]string, 0, len(found))
	for _, event := range found {
		out = append(out, event.ID)
	}
	return out
}

func testUpsertAndFindByID(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	event := mustEvent(t, kp, 1, "hello", nostr.Tags{{"t", "greeting"}}, time.Now().Unix())

	assert.False(t, mustUpsert(t, repo, event).IsDuplicate)

	found := mustFind(t, repo, nostr.Filter{IDs: []string{event.ID}})
	require.Len(t, found, 1)
	assert.Equal(t, event.ID, found[0].ID)
	assert.Equal(t, event.PubKey, found[0].PubKey)
	assert.Equal(t, event.Content, found[0].Content)
	assert.Equal(t, event.Sig, found[0].Sig)
	assert.Equal(t, event.CreatedAt, found[0].CreatedAt)
	assert.Equal(t, event.Tags, found[0].Tags)
	assert.Equal(t, found[0].ID, events.ComputeID(found[0]))
}

func testDuplicateID(t *testing.T, repo stores.EventRepository) {
	event := mustEvent(t, helpers.MustGenerateKeyPair(), 1, "once", nil, time.Now().Unix())

	assert.False(t, mustUpsert(t, repo, event).IsDuplicate)
	assert.True(t, mustUpsert(t, repo, event).IsDuplicate)
	assert.Len(t, mustFind(t, repo, nostr.Filter{IDs: []string{event.ID}}), 1)
}

func testReplaceableNewerWins(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	older := mustEvent(t, kp, 0, `{"name":"old"}`, nil, now-10)
	newer := mustEvent(t, kp, 0, `{"name":"new"}`, nil, now)

	assert.False(t, mustUpsert(t, repo, older).IsDuplicate)
	assert.False(t, mustUpsert(t, repo, newer).IsDuplicate)
	assert.True(t, mustUpsert(t, repo, older).IsDuplicate)

	found := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Kinds: []int{0}})
	require.Len(t, found, 1)
	assert.Equal(t, newer.ID, found[0].ID)
}

func abcTieBreak(t *testing.T, repo stores.EventRepository, kp *helpers.TestKeyPair, kind int, dTag string) {
	t.Helper()
	abc, err := helpers.CreateSameTimestampEvents(kp, kind, dTag, 3)
	require.NoError(t, err)
	a, b, c := abc[0], abc[1], abc[2]

	assert.False(t, mustUpsert(t, repo, b).IsDuplicate)
	assert.False(t, mustUpsert(t, repo, a).IsDuplicate, "smaller id wins at equal created_at")
	assert.True(t, mustUpsert(t, repo, c).IsDuplicate, "larger id loses at equal created_at")
	assert.True(t, mustUpsert(t, repo, b).IsDuplicate)

	found := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Kinds: []int{kind}})
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
}

func testReplaceableTieBreak(t *testing.T, repo stores.EventRepository) {
	abcTieBreak(t, repo, helpers.MustGenerateKeyPair(), 10002, "")
}

func testParameterizedTieBreak(t *testing.T, repo stores.EventRepository) {
	abcTieBreak(t, repo, helpers.MustGenerateKeyPair(), 30023, "article")
}

func testParameterizedAddresses(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	first := mustEvent(t, kp, 30023, "first", nostr.Tags{{"d", "one"}}, now)
	second := mustEvent(t, kp, 30023, "second", nostr.Tags{{"d", "two"}}, now)
	replacement := mustEvent(t, kp, 30023, "first v2", nostr.Tags{{"d", "one"}}, now+1)

	mustUpsert(t, repo, first)
	mustUpsert(t, repo, second)
	assert.False(t, mustUpsert(t, repo, replacement).IsDuplicate)

	found := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Kinds: []int{30023}})
	assert.ElementsMatch(t, []string{second.ID, replacement.ID}, eventIDs(found))

	found = mustFind(t, repo, nostr.Filter{Kinds: []int{30023}, Tags: nostr.TagMap{"d": []string{"one"}}})
	require.Len(t, found, 1)
	assert.Equal(t, replacement.ID, found[0].ID)
}

func testDelegatedReplaceable(t *testing.T, repo stores.EventRepository) {
	delegator := helpers.MustGenerateKeyPair()
	delegatee := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()

	conditions := fmt.Sprintf("kind=0&created_at>%d", now-3600)
	token, err := helpers.DelegationToken(delegator, delegatee.PublicKey, conditions)
	require.NoError(t, err)
	delegationTag := nostr.Tag{"delegation", delegator.PublicKey, conditions, token}

	own := mustEvent(t, delegator, 0, "own", nil, now-5)
	delegated := mustEvent(t, delegatee, 0, "delegated", nostr.Tags{delegationTag}, now)

	mustUpsert(t, repo, own)
	assert.False(t, mustUpsert(t, repo, delegated).IsDuplicate)

	found := mustFind(t, repo, nostr.Filter{Authors: []string{delegator.PublicKey}, Kinds: []int{0}})
	require.Len(t, found, 1)
	assert.Equal(t, delegated.ID, found[0].ID)
}

func testOrdering(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()

	sameTime := []*nostr.Event{
		mustEvent(t, kp, 1, "x", nil, now-100),
		mustEvent(t, kp, 1, "y", nil, now-100),
	}
	newest := mustEvent(t, kp, 1, "newest", nil, now)
	oldest := mustEvent(t, kp, 1, "oldest", nil, now-200)

	for _, event := range append(sameTime, oldest, newest) {
		mustUpsert(t, repo, event)
	}

	low, high := sameTime[0].ID, sameTime[1].ID
	if low > high {
		low, high = high, low
	}

	found := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}})
	assert.Equal(t, []string{newest.ID, low, high, oldest.ID}, eventIDs(found))
}

func testLimits(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	total := stores.DefaultLimit + 10
	for i := 0; i < total; i++ {
		mustUpsert(t, repo, mustEvent(t, kp, 1, fmt.Sprintf("note %d", i), nil, now-int64(i)))
	}

	assert.Len(t, mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}}), stores.DefaultLimit)
	assert.Len(t, mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Limit: 5}), 5)
	assert.Len(t, mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Limit: 5000}), total)
	assert.Empty(t, mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, LimitZero: true}))

	newest := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}, Limit: 1})
	require.Len(t, newest, 1)
	assert.Equal(t, nostr.Timestamp(now), newest[0].CreatedAt)
}

func testFilters(t *testing.T, repo stores.EventRepository) {
	alice := helpers.MustGenerateKeyPair()
	bob := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()

	root := mustEvent(t, alice, 1, "root", nil, now-30)
	reply := mustEvent(t, bob, 1, "reply", nostr.Tags{{"e", root.ID}, {"p", alice.PublicKey}}, now-20)
	reaction := mustEvent(t, bob, 7, "+", nostr.Tags{{"e", root.ID}}, now-10)
	unrelated := mustEvent(t, alice, 1, "unrelated", nostr.Tags{{"t", "misc"}}, now)

	for _, event := range []*nostr.Event{root, reply, reaction, unrelated} {
		mustUpsert(t, repo, event)
	}

	since := nostr.Timestamp(now - 20)
	until := nostr.Timestamp(now - 10)

	tests := []struct {
		name     string
		filter   nostr.Filter
		expected []string
	}{
		{"ids", nostr.Filter{IDs: []string{reply.ID, reaction.ID}}, []string{reaction.ID, reply.ID}},
		{"authors", nostr.Filter{Authors: []string{alice.PublicKey}}, []string{unrelated.ID, root.ID}},
		{"kinds", nostr.Filter{Kinds: []int{7}}, []string{reaction.ID}},
		{"authors and kinds", nostr.Filter{Authors: []string{bob.PublicKey}, Kinds: []int{1}}, []string{reply.ID}},
		{"e tag", nostr.Filter{Tags: nostr.TagMap{"e": []string{root.ID}}}, []string{reaction.ID, reply.ID}},
		{"e tag and kind", nostr.Filter{Kinds: []int{1}, Tags: nostr.TagMap{"e": []string{root.ID}}}, []string{reply.ID}},
		{"tags are and-ed", nostr.Filter{Tags: nostr.TagMap{"e": []string{root.ID}, "p": []string{alice.PublicKey}}}, []string{reply.ID}},
		{"tag values are or-ed", nostr.Filter{Tags: nostr.TagMap{"t": []string{"misc", "other"}}}, []string{unrelated.ID}},
		{"since and until", nostr.Filter{Authors: []string{alice.PublicKey, bob.PublicKey}, Since: &since, Until: &until}, []string{reaction.ID, reply.ID}},
		{"no match", nostr.Filter{Kinds: []int{9999}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, eventIDs(mustFind(t, repo, tt.filter)))
		})
	}
}

func testExpiredHidden(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()

	expired := mustEvent(t, kp, 1, "gone", nostr.Tags{{"expiration", fmt.Sprint(now - 5)}}, now-60)
	live := mustEvent(t, kp, 1, "here", nostr.Tags{{"expiration", fmt.Sprint(now + 3600)}}, now-30)
	mustUpsert(t, repo, expired)
	mustUpsert(t, repo, live)

	found := mustFind(t, repo, nostr.Filter{Authors: []string{kp.PublicKey}})
	assert.Equal(t, []string{live.ID}, eventIDs(found))

	purger, ok := repo.(stores.ExpiredEventPurger)
	if !ok {
		return
	}
	removed, err := purger.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = purger.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// the id is free again once the row is purged
	assert.False(t, mustUpsert(t, repo, expired).IsDuplicate)
}

func testFindOne(t *testing.T, repo stores.EventRepository) {
	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	mustUpsert(t, repo, mustEvent(t, kp, 1, "old", nil, now-10))
	newest := mustEvent(t, kp, 1, "new", nil, now)
	mustUpsert(t, repo, newest)

	found, err := repo.FindOne(context.Background(), nostr.Filter{Authors: []string{kp.PublicKey}})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newest.ID, found.ID)

	found, err = repo.FindOne(context.Background(), nostr.Filter{Kinds: []int{12345}})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func testSearch(t *testing.T, repo stores.EventRepository) {
	if !repo.IsSearchSupported() {
		t.Skip("repository does not support search")
	}

	kp := helpers.MustGenerateKeyPair()
	now := time.Now().Unix()
	match := mustEvent(t, kp, 1, "Decentralized relays are great", nil, now)
	other := mustEvent(t, kp, 1, "Nothing to see here", nil, now-1)
	mustUpsert(t, repo, match)
	mustUpsert(t, repo, other)

	found := mustFind(t, repo, nostr.Filter{Search: "relays"})
	assert.Equal(t, []string{match.ID}, eventIDs(found))

	found = mustFind(t, repo, nostr.Filter{Search: "absent"})
	assert.Empty(t, found)
}

func testDestroy(t *testing.T, repo stores.EventRepository) {
	require.NoError(t, repo.Destroy())

	_, err := repo.Upsert(context.Background(), mustEvent(t, helpers.MustGenerateKeyPair(), 1, "late", nil, time.Now().Unix()))
	assert.ErrorIs(t, err, stores.ErrClosed)

	_, err = repo.Find(context.Background(), nostr.Filter{})
	assert.ErrorIs(t, err, stores.ErrClosed)
}

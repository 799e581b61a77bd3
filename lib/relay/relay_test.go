package relay_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornets-relay-core/lib/events"
	"github.com/HORNET-Storage/hornets-relay-core/lib/relay"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores"
	"github.com/HORNET-Storage/hornets-relay-core/lib/stores/memory"
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
	"github.com/HORNET-Storage/hornets-relay-core/testing/helpers"
)

const testDomain = "relay.example.com"

func newRelay(t *testing.T, domain string) *relay.Relay {
	t.Helper()
	return newRelayWith(t, memory.New(), relay.Options{Domain: domain})
}

func newRelayWith(t *testing.T, repo stores.EventRepository, opts relay.Options) *relay.Relay {
	t.Helper()
	opts.Logger = helpers.DiscardLogger()
	r := relay.New(repo, opts)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// brokenFindRepo stores events but fails every query
type brokenFindRepo struct {
	*memory.Store
	err error
}

func (r *brokenFindRepo) Find(context.Context, nostr.Filter) ([]*nostr.Event, error) {
	return nil, r.err
}

func connect(t *testing.T, r *relay.Relay) *helpers.RecordingConnection {
	t.Helper()
	conn := helpers.NewRecordingConnection()
	r.HandleConnection(conn)
	return conn
}

func TestHandleConnectionChallenge(t *testing.T) {
	t.Run("auth enabled", func(t *testing.T) {
		r := newRelay(t, testDomain)
		conn := helpers.NewRecordingConnection()
		client := r.HandleConnection(conn)

		envelopes := conn.Envelopes()
		require.Len(t, envelopes, 1)
		auth, ok := envelopes[0].(*nostr.AuthEnvelope)
		require.True(t, ok)
		require.NotNil(t, auth.Challenge)
		assert.Equal(t, client.ID(), *auth.Challenge)
	})

	t.Run("auth disabled", func(t *testing.T) {
		r := newRelay(t, "")
		conn := connect(t, r)
		assert.Empty(t, conn.Envelopes())
		assert.Equal(t, 1, r.Clients().Size())
	})
}

func TestHandleMessageUnknown(t *testing.T) {
	r := newRelay(t, "")
	conn := connect(t, r)

	r.HandleMessage(context.Background(), conn, nil)
	r.HandleMessage(context.Background(), conn, &nostr.CountEnvelope{SubscriptionID: "c"})

	assert.Equal(t, []string{relay.NoticeUnknownMessage, relay.NoticeUnknownMessage}, conn.Notices())
}

func TestHandleEventRepliesOK(t *testing.T) {
	r := newRelay(t, "")
	ctx := context.Background()
	conn := connect(t, r)

	ev, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "hello")
	require.NoError(t, err)

	r.HandleMessage(ctx, conn, &nostr.EventEnvelope{Event: *ev})

	oks := conn.OKs()
	require.Len(t, oks, 1)
	assert.Equal(t, ev.ID, oks[0].EventID)
	assert.True(t, oks[0].OK)
	assert.Empty(t, oks[0].Reason)
}

func TestHandleEventAuthKindSendsNothing(t *testing.T) {
	r := newRelay(t, "")
	conn := connect(t, r)

	ev, err := helpers.CreateAuthEvent(helpers.MustGenerateKeyPair(), "x", "wss://"+testDomain)
	require.NoError(t, err)

	result := r.HandleEvent(context.Background(), conn, ev)
	assert.True(t, result.NoReplyNeeded)
	assert.Empty(t, conn.Envelopes())
}

type countingPlugin struct{ calls atomic.Int32 }

func (p *countingPlugin) BeforeEventHandle(context.Context, *nostr.Event) (*types.EventHandleResult, error) {
	p.calls.Add(1)
	return nil, nil
}

func TestHandleEventCachesResultByID(t *testing.T) {
	r := newRelay(t, "")
	ctx := context.Background()
	counter := &countingPlugin{}
	require.NoError(t, r.RegisterPlugins(counter))

	publisher := connect(t, r)
	subscriber := connect(t, r)
	r.HandleReq(ctx, subscriber, "live", nostr.Filters{{Kinds: []int{1}}})
	subscriber.Reset()

	ev, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "once")
	require.NoError(t, err)

	first := r.HandleEvent(ctx, publisher, ev)
	second := r.HandleEvent(ctx, publisher, ev)

	assert.Equal(t, first, second)
	assert.Equal(t, types.EventHandleResult{Success: true}, second)
	assert.Equal(t, int32(1), counter.calls.Load())
	assert.Len(t, publisher.OKs(), 2)
	assert.Len(t, subscriber.Events("live"), 1)
}

func TestHandleEventWithoutResultCache(t *testing.T) {
	r := newRelayWith(t, memory.New(), relay.Options{EventHandlingResultTTL: -1})
	ctx := context.Background()
	counter := &countingPlugin{}
	require.NoError(t, r.RegisterPlugins(counter))

	publisher := connect(t, r)
	subscriber := connect(t, r)
	r.HandleReq(ctx, subscriber, "live", nostr.Filters{{Kinds: []int{1}}})
	subscriber.Reset()

	ev, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "twice")
	require.NoError(t, err)

	assert.Equal(t, types.EventHandleResult{Success: true}, r.HandleEvent(ctx, publisher, ev))
	assert.Equal(t, types.EventHandleResult{Success: true, Message: types.MessageDuplicate}, r.HandleEvent(ctx, publisher, ev))

	oks := publisher.OKs()
	require.Len(t, oks, 2)
	assert.True(t, oks[1].OK)
	assert.Equal(t, types.MessageDuplicate, oks[1].Reason)
	assert.Equal(t, int32(2), counter.calls.Load())
	assert.Len(t, subscriber.Events("live"), 1)
}

func TestHandleEventDoesNotReplayRejections(t *testing.T) {
	r := newRelay(t, "")
	ctx := context.Background()
	conn := connect(t, r)

	genuine, err := helpers.CreateTextNote(helpers.MustGenerateKeyPair(), "genuine")
	require.NoError(t, err)

	forged := *genuine
	sig := []byte(forged.Sig)
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}
	forged.Sig = string(sig)

	rejected := r.HandleEvent(ctx, conn, &forged)
	assert.False(t, rejected.Success)
	assert.Equal(t, events.ErrSignatureWrong.Error(), rejected.Message)

	assert.Equal(t, types.EventHandleResult{Success: true}, r.HandleEvent(ctx, conn, genuine))
}

func TestHandleReqStreamsHistory(t *testing.T) {
	r := newRelay(t, "")
	ctx := context.Background()
	conn := connect(t, r)
	kp := helpers.MustGenerateKeyPair()

	for _, content := range []string{"a", "b", "c"} {
		ev, err := helpers.CreateTextNote(kp, content)
		require.NoError(t, err)
		require.True(t, r.HandleEvent(ctx, conn, ev).Success)
	}
	conn.Reset()

	sent := r.HandleReq(ctx, conn, "history", nostr.Filters{{Authors: []string{kp.PublicKey}, Limit: 2}})
	assert.Equal(t, 2, sent)
	assert.Len(t, conn.Events("history"), 2)
	assert.Equal(t, []string{"history"}, conn.EOSEs())

	envelopes := conn.Envelopes()
	_, last := envelopes[len(envelopes)-1].(*nostr.EOSEEnvelope)
	assert.True(t, last, "EOSE must follow the stored events")
}

func TestHandleReqQueryFailure(t *testing.T) {
	r := newRelayWith(t, &brokenFindRepo{Store: memory.New(), err: errors.New("boom")}, relay.Options{})
	ctx := context.Background()
	conn := helpers.NewRecordingConnection()
	client := r.HandleConnection(conn)

	assert.Zero(t, r.HandleReq(ctx, conn, "broken", nostr.Filters{{Kinds: []int{1}}}))
	assert.Equal(t, []string{"error: boom"}, conn.Notices())
	assert.Empty(t, conn.EOSEs())
	assert.Zero(t, client.Subscriptions().Len())
}

func TestHandleReqRestrictedKinds(t *testing.T) {
	ctx := context.Background()
	dmFilter := nostr.Filters{{Kinds: []int{1}}, {Kinds: []int{types.KindEncryptedDirectMessage}}}

	t.Run("unauthenticated is rejected without subscribing", func(t *testing.T) {
		r := newRelay(t, testDomain)
		conn := helpers.NewRecordingConnection()
		client := r.HandleConnection(conn)
		conn.Reset()

		assert.Zero(t, r.HandleReq(ctx, conn, "dms", dmFilter))
		assert.Equal(t, []string{relay.NoticeRestrictedReq}, conn.Notices())
		assert.Empty(t, conn.EOSEs())
		assert.Zero(t, client.Subscriptions().Len())
	})

	t.Run("auth disabled allows the request", func(t *testing.T) {
		r := newRelay(t, "")
		conn := connect(t, r)

		r.HandleReq(ctx, conn, "dms", dmFilter)
		assert.Empty(t, conn.Notices())
		assert.Equal(t, []string{"dms"}, conn.EOSEs())
	})
}

func TestHandleReqFiltersDirectMessagesByPermission(t *testing.T) {
	r := newRelay(t, testDomain)
	ctx := context.Background()

	sender := helpers.MustGenerateKeyPair()
	recipient := helpers.MustGenerateKeyPair()
	outsider := helpers.MustGenerateKeyPair()

	dm, err := helpers.CreateDirectMessage(sender, recipient.PublicKey, "secret")
	require.NoError(t, err)
	publisher := connect(t, r)
	require.True(t, r.HandleEvent(ctx, publisher, dm).Success)

	tests := []struct {
		name string
		kp   *helpers.TestKeyPair
		want int
	}{
		{"recipient", recipient, 1},
		{"sender", sender, 1},
		{"outsider", outsider, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := helpers.NewRecordingConnection()
			client := r.HandleConnection(conn)

			auth, err := helpers.CreateAuthEvent(tt.kp, client.ID(), "wss://"+testDomain)
			require.NoError(t, err)
			ok, err := r.HandleAuth(conn, auth)
			require.NoError(t, err)
			require.True(t, ok)

			sent := r.HandleReq(ctx, conn, "dms", nostr.Filters{{Kinds: []int{types.KindEncryptedDirectMessage}}})
			assert.Equal(t, tt.want, sent)
			assert.Len(t, conn.Events("dms"), tt.want)
		})
	}
}

func TestHandleClose(t *testing.T) {
	r := newRelay(t, "")
	ctx := context.Background()
	conn := helpers.NewRecordingConnection()
	client := r.HandleConnection(conn)

	r.HandleReq(ctx, conn, "sub", nostr.Filters{{Kinds: []int{1}}})
	require.Equal(t, 1, client.Subscriptions().Len())

	closeEnv := nostr.CloseEnvelope("sub")
	r.HandleMessage(ctx, conn, &closeEnv)
	assert.Zero(t, client.Subscriptions().Len())

	assert.True(t, r.HandleClose(conn, "sub"))
	assert.True(t, r.HandleClose(helpers.NewRecordingConnection(), "never-existed"))
}

func TestHandleAuth(t *testing.T) {
	kp := helpers.MustGenerateKeyPair()

	t.Run("no context", func(t *testing.T) {
		r := newRelay(t, testDomain)
		ev, err := helpers.CreateAuthEvent(kp, "x", "wss://"+testDomain)
		require.NoError(t, err)

		_, err = r.HandleAuth(helpers.NewRecordingConnection(), ev)
		assert.ErrorIs(t, err, relay.ErrNoClientContext)
	})

	t.Run("auth disabled approves", func(t *testing.T) {
		r := newRelay(t, "")
		conn := connect(t, r)
		ev, err := helpers.CreateAuthEvent(kp, "anything", "wss://elsewhere.example.org")
		require.NoError(t, err)

		ok, err := r.HandleAuth(conn, ev)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, conn.OKs(), 1)
		assert.True(t, conn.OKs()[0].OK)
	})

	t.Run("valid event authenticates", func(t *testing.T) {
		r := newRelay(t, testDomain)
		conn := helpers.NewRecordingConnection()
		client := r.HandleConnection(conn)
		ev, err := helpers.CreateAuthEvent(kp, client.ID(), "wss://"+testDomain+"/")
		require.NoError(t, err)

		ok, err := r.HandleAuth(conn, ev)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, kp.PublicKey, client.Pubkey())
		require.Len(t, conn.OKs(), 1)
		assert.True(t, conn.OKs()[0].OK)
	})

	t.Run("wrong challenge is rejected", func(t *testing.T) {
		r := newRelay(t, testDomain)
		conn := helpers.NewRecordingConnection()
		client := r.HandleConnection(conn)
		ev, err := helpers.CreateAuthEvent(kp, "not-the-challenge", "wss://"+testDomain)
		require.NoError(t, err)

		r.HandleMessage(context.Background(), conn, &nostr.AuthEnvelope{Event: *ev})

		assert.False(t, client.IsAuthenticated())
		require.Len(t, conn.OKs(), 1)
		assert.False(t, conn.OKs()[0].OK)
		assert.Equal(t, relay.ErrAuthChallenge.Error(), conn.OKs()[0].Reason)
	})
}

func TestHandleDisconnect(t *testing.T) {
	r := newRelay(t, "")
	conn := connect(t, r)
	require.Equal(t, 1, r.Clients().Size())

	r.HandleDisconnect(conn)
	r.HandleDisconnect(conn)
	assert.Zero(t, r.Clients().Size())
}

func TestCloseDestroysRepository(t *testing.T) {
	store := memory.New()
	r := relay.New(store, relay.Options{Logger: helpers.DiscardLogger()})
	require.NoError(t, r.Close())

	_, err := store.Find(context.Background(), nostr.Filter{})
	assert.Error(t, err)
}

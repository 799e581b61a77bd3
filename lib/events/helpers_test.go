package events

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

type keyPair struct {
	sk string
	pk string
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return keyPair{sk: sk, pk: pk}
}

func signedEvent(t *testing.T, kp keyPair, kind int, content string, tags nostr.Tags) *nostr.Event {
	t.Helper()
	event := &nostr.Event{
		PubKey:    kp.pk,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if event.Tags == nil {
		event.Tags = nostr.Tags{}
	}
	require.NoError(t, event.Sign(kp.sk))
	return event
}

func delegationToken(t *testing.T, delegator keyPair, delegatee string, conditions string) string {
	t.Helper()
	raw, err := hex.DecodeString(delegator.sk)
	require.NoError(t, err)
	sk, _ := btcec.PrivKeyFromBytes(raw)

	hash := sha256.Sum256([]byte("nostr:delegation:" + delegatee + ":" + conditions))
	sig, err := schnorr.Sign(sk, hash[:])
	require.NoError(t, err)
	return hex.EncodeToString(sig.Serialize())
}

// minePow signs variants of an event until its id has at least difficulty
// leading zero bits
func minePow(t *testing.T, kp keyPair, difficulty int, extra nostr.Tags) *nostr.Event {
	t.Helper()
	for i := 0; i < 1<<20; i++ {
		event := signedEvent(t, kp, 1, "mined "+strconv.Itoa(i), extra)
		if CountPowDifficulty(event.ID) >= difficulty {
			return event
		}
	}
	t.Fatalf("could not mine difficulty %d", difficulty)
	return nil
}

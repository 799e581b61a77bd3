// Package helpers provides utilities for testing the relay packages
package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
)

// TestKeyPair represents a key pair for testing
type TestKeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeyPair generates a new key pair for testing
func GenerateKeyPair() (*TestKeyPair, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return &TestKeyPair{
		PrivateKey: sk,
		PublicKey:  pk,
	}, nil
}

// MustGenerateKeyPair is GenerateKeyPair for test setup code
func MustGenerateKeyPair() *TestKeyPair {
	kp, err := GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return kp
}

// CreateEventAt creates and signs an event with an explicit timestamp
func CreateEventAt(kp *TestKeyPair, kind int, content string, tags nostr.Tags, createdAt int64) (*nostr.Event, error) {
	if tags == nil {
		tags = nostr.Tags{}
	}
	event := &nostr.Event{
		PubKey:    kp.PublicKey,
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := event.Sign(kp.PrivateKey); err != nil {
		return nil, fmt.Errorf("failed to sign event: %w", err)
	}
	return event, nil
}

// CreateGenericEvent creates an event of any kind
func CreateGenericEvent(kp *TestKeyPair, kind int, content string, tags nostr.Tags) (*nostr.Event, error) {
	return CreateEventAt(kp, kind, content, tags, time.Now().Unix())
}

// CreateTextNote creates a kind 1 text note event
func CreateTextNote(kp *TestKeyPair, content string, tags ...nostr.Tag) (*nostr.Event, error) {
	return CreateGenericEvent(kp, 1, content, tags)
}

// CreateReplaceableEvent creates a replaceable event (kinds 0, 3, or 10000-19999)
func CreateReplaceableEvent(kp *TestKeyPair, kind int, content string) (*nostr.Event, error) {
	return CreateGenericEvent(kp, kind, content, nil)
}

// CreateParameterizedReplaceableEvent creates a parameterized replaceable event (kinds 30000-39999)
func CreateParameterizedReplaceableEvent(kp *TestKeyPair, kind int, dTag, content string) (*nostr.Event, error) {
	return CreateGenericEvent(kp, kind, content, nostr.Tags{{"d", dTag}})
}

// CreateDirectMessage creates a kind 4 direct message addressed to recipient
func CreateDirectMessage(kp *TestKeyPair, recipient string, content string) (*nostr.Event, error) {
	return CreateGenericEvent(kp, 4, content, nostr.Tags{{"p", recipient}})
}

// CreateAuthEvent creates a NIP-42 kind 22242 event
func CreateAuthEvent(kp *TestKeyPair, challenge string, relayURL string) (*nostr.Event, error) {
	return CreateGenericEvent(kp, 22242, "", nostr.Tags{
		{"relay", relayURL},
		{"challenge", challenge},
	})
}

// DelegationToken signs a NIP-26 delegation token for delegatee
func DelegationToken(delegator *TestKeyPair, delegatee string, conditions string) (string, error) {
	raw, err := hex.DecodeString(delegator.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode private key: %w", err)
	}
	sk, _ := btcec.PrivKeyFromBytes(raw)

	hash := sha256.Sum256([]byte("nostr:delegation:" + delegatee + ":" + conditions))
	sig, err := schnorr.Sign(sk, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign delegation: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// CreateSameTimestampEvents creates count replaceable events sharing one
// created_at, returned in ascending id order
func CreateSameTimestampEvents(kp *TestKeyPair, kind int, dTag string, count int) ([]*nostr.Event, error) {
	createdAt := time.Now().Unix()

	var tags nostr.Tags
	if dTag != "" {
		tags = nostr.Tags{{"d", dTag}}
	}

	events := make([]*nostr.Event, 0, count)
	for i := 0; i < count; i++ {
		event, err := CreateEventAt(kp, kind, fmt.Sprintf("version %d", i), tags, createdAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].ID < events[j].ID
	})
	return events, nil
}

package events

import (
	"crypto/sha256"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

const delegationTokenPrefix = "nostr:delegation:"

// IsDelegationValid verifies the NIP-26 delegation tag when one is present
func IsDelegationValid(event *nostr.Event) bool {
	tag := firstTag(event, "delegation", 1)
	if tag == nil {
		return true
	}
	if len(tag) != 4 {
		return false
	}

	delegator, conditions, sig := tag[1], tag[2], tag[3]

	token := sha256.Sum256([]byte(delegationTokenPrefix + event.PubKey + ":" + conditions))
	if !verifySchnorr(sig, token[:], delegator) {
		return false
	}

	for _, clause := range strings.Split(conditions, "&") {
		if !conditionHolds(event, clause) {
			return false
		}
	}
	return true
}

// conditionHolds evaluates one kind=N, created_at>N or created_at<N clause.
// Anything it cannot parse does not hold.
func conditionHolds(event *nostr.Event, clause string) bool {
	idx := strings.IndexAny(clause, "=<>")
	if idx <= 0 || idx == len(clause)-1 {
		return false
	}

	field, operator := clause[:idx], clause[idx]
	value, err := strconv.ParseInt(clause[idx+1:], 10, 64)
	if err != nil {
		return false
	}

	switch {
	case field == "kind" && operator == '=':
		return int64(event.Kind) == value
	case field == "created_at" && operator == '>':
		return int64(event.CreatedAt) > value
	case field == "created_at" && operator == '<':
		return int64(event.CreatedAt) < value
	default:
		return false
	}
}

// GetAuthor resolves the effective author of an event. With verify set the
// delegator is only returned for a valid delegation tag; without it tag
// presence is trusted.
func GetAuthor(event *nostr.Event, verify bool) string {
	tag := firstTag(event, "delegation", 1)
	if len(tag) < 2 {
		return event.PubKey
	}
	if verify && !IsDelegationValid(event) {
		return event.PubKey
	}
	return tag[1]
}

package events

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

var (
	ErrIDWrong             = errors.New("invalid: id is wrong")
	ErrSignatureWrong      = errors.New("invalid: signature is wrong")
	ErrExpired             = errors.New("reject: event is expired")
	ErrDelegationIncorrect = errors.New("invalid: delegation tag verification failed")
)

// Limits are the configurable acceptance bounds. Zero disables a bound.
type Limits struct {
	CreatedAtUpperLimit int64 // seconds into the future
	CreatedAtLowerLimit int64 // seconds into the past
	MinPowDifficulty    int
}

// Validate runs the acceptance checks in order and returns the first failure
func Validate(event *nostr.Event, limits Limits) error {
	return ValidateAt(event, limits, time.Now().Unix())
}

// ValidateAt is Validate against a fixed clock
func ValidateAt(event *nostr.Event, limits Limits, now int64) error {
	if ComputeID(event) != event.ID {
		return ErrIDWrong
	}

	if !VerifySignature(event.Sig, event.ID, event.PubKey) {
		return ErrSignatureWrong
	}

	if IsExpired(event, now) {
		return ErrExpired
	}

	createdAt := int64(event.CreatedAt)
	if limits.CreatedAtUpperLimit > 0 && createdAt-now > limits.CreatedAtUpperLimit {
		return fmt.Errorf("invalid: created_at must not be later than %d seconds from the current time", limits.CreatedAtUpperLimit)
	}
	if limits.CreatedAtLowerLimit > 0 && now-createdAt > limits.CreatedAtLowerLimit {
		return fmt.Errorf("invalid: created_at must not be earlier than %d seconds from the current time", limits.CreatedAtLowerLimit)
	}

	if limits.MinPowDifficulty > 0 {
		if err := checkPow(event, limits.MinPowDifficulty); err != nil {
			return err
		}
	}

	if !IsDelegationValid(event) {
		return ErrDelegationIncorrect
	}

	return nil
}

// checkPow enforces the minimum difficulty and, when a nonce tag commits to a
// target, that the target also meets it. Without a nonce tag the commitment
// cannot be checked and the event passes.
func checkPow(event *nostr.Event, min int) error {
	difficulty := CountPowDifficulty(event.ID)
	if difficulty < min {
		return powError(difficulty, min)
	}

	var nonce nostr.Tag
	for _, tag := range event.Tags {
		if len(tag) == 3 && tag[0] == "nonce" {
			nonce = tag
			break
		}
	}
	if nonce == nil {
		return nil
	}

	target, err := strconv.Atoi(nonce[2])
	if err != nil {
		return powError(0, min)
	}
	if target < min {
		return powError(target, min)
	}
	return nil
}

func powError(difficulty, min int) error {
	return fmt.Errorf("pow: difficulty %d is less than %d", difficulty, min)
}

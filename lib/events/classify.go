// Package events holds the pure NIP-01 event semantics used by the relay:
// classification, id and signature checks, validation, delegation (NIP-26),
// filter matching and proof of work (NIP-13).
package events

import (
	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

// Classify maps a kind to its storage class. The ranges are protocol constants.
func Classify(kind int) types.EventType {
	switch {
	case IsReplaceable(kind):
		return types.EventTypeReplaceable
	case IsEphemeral(kind):
		return types.EventTypeEphemeral
	case IsParameterizedReplaceable(kind):
		return types.EventTypeParameterizedReplaceable
	default:
		return types.EventTypeRegular
	}
}

// IsReplaceable reports whether kind is 0, 3, 41 or in 10000-19999
func IsReplaceable(kind int) bool {
	return kind == 0 || kind == 3 || kind == 41 || (kind >= 10000 && kind < 20000)
}

// IsEphemeral reports whether kind is in 20000-29999
func IsEphemeral(kind int) bool {
	return kind >= 20000 && kind < 30000
}

// IsParameterizedReplaceable reports whether kind is in 30000-39999
func IsParameterizedReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

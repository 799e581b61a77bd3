package events

import (
	"encoding/hex"
	"math/bits"
)

// CountPowDifficulty counts the leading zero bits of a hex encoded id
func CountPowDifficulty(idHex string) int {
	raw, err := hex.DecodeString(idHex)
	if err != nil {
		return 0
	}

	count := 0
	for _, b := range raw {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

package events

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
)

// ComputeID hashes the canonical serialization [0,pubkey,created_at,kind,tags,content]
func ComputeID(event *nostr.Event) string {
	hash := sha256.Sum256(event.Serialize())
	return hex.EncodeToString(hash[:])
}

// VerifySignature checks a BIP-340 signature over the 32 byte id
func VerifySignature(sig string, id string, pubkey string) bool {
	hash, err := hex.DecodeString(id)
	if err != nil || len(hash) != sha256.Size {
		return false
	}
	return verifySchnorr(sig, hash, pubkey)
}

func verifySchnorr(sigHex string, hash []byte, pubkeyHex string) bool {
	pubkeyBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubkeyBytes) != 32 {
		return false
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	return sig.Verify(hash, pubkey)
}

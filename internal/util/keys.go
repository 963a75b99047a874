package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntryKey composes the storage key for one table slot. Keys are scoped by
// layer name so layers sharing one store never collide.
func EntryKey(layer, renderedKey string) string {
	return "layer:" + layer + ":" + renderedKey
}

// ContentHash returns the sha256 of encoded value bytes. Snapshot frames carry
// the raw digest; the hash index exposes it as hex.
func ContentHash(b []byte) [sha256.Size]byte {
	return sha256.Sum256(b)
}

// HashHex is the hex rendering used by the content-hash index.
func HashHex(h [sha256.Size]byte) string {
	return hex.EncodeToString(h[:])
}

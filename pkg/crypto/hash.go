package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of chunks with legacy Keccak-256 (the
// Ethereum variant, not NIST SHA3-256).
func Keccak256(chunks ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil)
}

// Keccak256Hex returns the 0x-prefixed hex encoding of Keccak256(chunks).
// Venue order hashes travel in this form.
func Keccak256Hex(chunks ...[]byte) string {
	return "0x" + hex.EncodeToString(Keccak256(chunks...))
}

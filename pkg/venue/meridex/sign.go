package meridex

import (
	"fmt"
	"strings"

	"github.com/okamiya/dexrig/pkg/crypto"
)

// Request authentication: the client keccak-hashes a canonical message,
// signs it secp256k1, and the venue recovers the address and compares it to
// the claimed one. The address is lowercased before hashing so checksum
// casing never splits a signature.

// OrderDigest is the canonical digest covering an order placement.
func OrderDigest(market, side, typ, amount, price string, nonce int64, address string) []byte {
	msg := fmt.Sprintf("meridex:order:%s:%s:%s:%s:%s:%d:%s",
		market, side, typ, amount, price, nonce, strings.ToLower(address))
	return crypto.Keccak256([]byte(msg))
}

// CancelDigest is the canonical digest covering a cancellation.
func CancelDigest(orderHash string, nonce int64, address string) []byte {
	msg := fmt.Sprintf("meridex:cancel:%s:%d:%s",
		strings.ToLower(orderHash), nonce, strings.ToLower(address))
	return crypto.Keccak256([]byte(msg))
}

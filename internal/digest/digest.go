// Package digest computes the content hashes used to key embeddings and
// detect duplicate memories.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// Sum returns the SHA-256 of content as lowercase hex.
func Sum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
